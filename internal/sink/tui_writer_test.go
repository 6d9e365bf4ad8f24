package sink

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p}

	if err := w.WriteTelemetry(testSample("1", 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if _, ok := p.msgs[0].(telemetryMsg); !ok {
		t.Fatalf("expected telemetryMsg, got %T", p.msgs[0])
	}
	if err := w.WriteTransition(alert.Transition{AlertID: "A1", To: alert.StatusActive, Source: alert.SourcePush, At: ts0}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	lm, ok := p.msgs[1].(logMsg)
	if !ok || !strings.Contains(lm.line, "new -> ") {
		t.Fatalf("expected transition logMsg, got %#v", p.msgs[1])
	}
	_ = w.WriteCommand(command.Row{DroneID: "1", Kind: command.Recall, Issued: false, RemainingMs: 2500, Timestamp: ts0})
	if lm := p.msgs[2].(logMsg); !strings.Contains(lm.line, "wait 2.5s") {
		t.Fatalf("cooldown not shown: %q", lm.line)
	}
	_ = w.WriteDispatch(dispatch.Row{AlertID: "A1", DroneID: "1", DroneCode: "HAWK-1", State: "acknowledged", Timestamp: ts0})
	if lm := p.msgs[3].(logMsg); !strings.Contains(lm.line, "drone=HAWK-1") {
		t.Fatalf("dispatch line: %q", lm.line)
	}
	w.SetAdminStatus(true)
	if _, ok := p.msgs[4].(adminMsg); !ok {
		t.Fatalf("expected adminMsg, got %T", p.msgs[4])
	}
}

func update(m tuiModel, msg tea.Msg) tuiModel {
	mi, _ := m.Update(msg)
	return mi.(tuiModel)
}

func TestTUIModelDronesAndStale(t *testing.T) {
	m := newTUIModel("console")
	m = update(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(m, telemetryMsg{testSample("2", 0)})
	m = update(m, telemetryMsg{testSample("1", 0)})
	rows := m.drones.Rows()
	if len(rows) != 2 || rows[0][0] != "HAWK-1" {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][2] != "-" {
		t.Fatalf("unknown altitude should render as -, got %q", rows[0][2])
	}
	m = update(m, staleMsg{ids: []string{"2"}})
	if got := m.drones.Rows()[1][7]; got != "STALE" {
		t.Fatalf("stale marker = %q", got)
	}
	m = update(m, countsMsg{counts: map[alert.Status]int{alert.StatusActive: 4}})
	if h := m.renderHeader(); !strings.Contains(h, "ACTIVE=4") || !strings.Contains(h, "stale=1") {
		t.Fatalf("header = %q", h)
	}
	// Fresh telemetry clears the stale marker.
	m = update(m, telemetryMsg{testSample("2", 5)})
	if got := m.drones.Rows()[1][7]; got == "STALE" {
		t.Fatalf("stale marker not cleared")
	}
}

func TestWrapToggle(t *testing.T) {
	m := newTUIModel("console")
	m = update(m, tea.WindowSizeMsg{Width: 20, Height: 40})
	m = update(m, logMsg{line: "one two three four five six"})
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestScrollToggle(t *testing.T) {
	m := newTUIModel("console")
	m = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if !m.help || !strings.Contains(m.View(), "Key Bindings") {
		t.Fatalf("help not shown")
	}
}
