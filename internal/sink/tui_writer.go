package sink

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries an event line for the viewport.
type logMsg struct{ line string }

type telemetryMsg struct{ telemetry.Sample }

type countsMsg struct{ counts map[alert.Status]int }

type staleMsg struct{ ids []string }

// adminMsg reports admin UI status.
type adminMsg struct{ active bool }

const (
	maxLogLines   = 1000
	lowBattery    = 25.0
	droneRowsMin  = 3
	droneTablePct = 0.4
)

// TUIWriter renders the operator picture using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
	closeOnce  sync.Once
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(title string) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(title), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		// Quitting the TUI stops the console like Ctrl+C would.
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteTelemetry implements TelemetryWriter.
func (w *TUIWriter) WriteTelemetry(s telemetry.Sample) error {
	w.program.Send(telemetryMsg{s})
	return nil
}

// WriteTransition logs an alert status change.
func (w *TUIWriter) WriteTransition(t alert.Transition) error {
	from := string(t.From)
	if from == "" {
		from = "new"
	}
	line := fmt.Sprintf("%s[%s]%s %sALERT%s %s%s%s %s -> %s%s%s %ssrc=%s%s",
		colorGray, t.At.Format(time.RFC3339), colorReset,
		colorBlue, colorReset,
		colorWhite, t.AlertID, colorReset,
		from, statusColor(t.To), t.To, colorReset,
		colorGray, t.Source, colorReset)
	if t.SensorCode != "" {
		line += fmt.Sprintf(" %ssensor=%s%s", colorCyan, t.SensorCode, colorReset)
	}
	if t.Note != "" {
		line += fmt.Sprintf(" note=%q", t.Note)
	}
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteCommand logs a drone command attempt.
func (w *TUIWriter) WriteCommand(r command.Row) error {
	result := colorGreen + "issued" + colorReset
	switch {
	case !r.Issued:
		result = fmt.Sprintf("%swait %.1fs%s", colorYellow, float64(r.RemainingMs)/1000, colorReset)
	case r.Error != "":
		result = fmt.Sprintf("%sfailed: %s%s", colorRed, r.Error, colorReset)
	}
	line := fmt.Sprintf("%s[%s]%s %sCMD%s %s%s%s %s %s",
		colorGray, r.Timestamp.Format(time.RFC3339), colorReset,
		colorMagenta, colorReset,
		colorWhite, label(r.DroneID, r.DroneCode), colorReset,
		r.Kind, result)
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteDispatch logs a dispatch outcome.
func (w *TUIWriter) WriteDispatch(r dispatch.Row) error {
	line := fmt.Sprintf("%s[%s]%s %sDISPATCH%s %s%s%s state=%s",
		colorGray, r.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, colorReset,
		colorWhite, r.AlertID, colorReset,
		r.State)
	if r.DroneID != "" {
		line += fmt.Sprintf(" drone=%s", label(r.DroneID, r.DroneCode))
	}
	if r.Error != "" {
		line += fmt.Sprintf(" %serror=%s%s", colorRed, r.Error, colorReset)
	}
	w.program.Send(logMsg{line: line})
	return nil
}

func label(id, code string) string {
	return telemetry.DroneIdentity{ID: id, Code: code}.Label()
}

// SetAlertCounts updates the header counters.
func (w *TUIWriter) SetAlertCounts(c map[alert.Status]int) {
	w.program.Send(countsMsg{counts: c})
}

// SetStaleDrones marks drones whose telemetry went quiet.
func (w *TUIWriter) SetStaleDrones(ids []string) {
	w.program.Send(staleMsg{ids: ids})
}

// SetAdminStatus updates the admin UI indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.closeOnce.Do(func() {
		w.sendSignal.Store(false)
		if w.program != nil {
			w.program.Send(tea.Quit())
		}
		if w.done != nil {
			<-w.done
		}
	})
	return nil
}

type tuiModel struct {
	title      string
	drones     table.Model
	vp         viewport.Model
	logs       []string
	latest     map[string]telemetry.Sample
	stale      map[string]struct{}
	counts     map[alert.Status]int
	admin      bool
	wrap       bool
	autoscroll bool
	help       bool
	width      int
	height     int
}

func newTUIModel(title string) tuiModel {
	cols := []table.Column{
		{Title: "Drone", Width: 14},
		{Title: "Battery", Width: 8},
		{Title: "Alt", Width: 7},
		{Title: "Speed", Width: 7},
		{Title: "Mode", Width: 10},
		{Title: "Lat", Width: 10},
		{Title: "Lon", Width: 10},
		{Title: "Seen", Width: 9},
	}
	return tuiModel{
		title:      title,
		drones:     table.New(table.WithColumns(cols), table.WithHeight(droneRowsMin)),
		vp:         viewport.New(0, 0),
		latest:     make(map[string]telemetry.Sample),
		stale:      make(map[string]struct{}),
		counts:     make(map[alert.Status]int),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.drones.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.layout()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			case "q", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case telemetryMsg:
		m.latest[msg.Drone.ID] = msg.Sample
		delete(m.stale, msg.Drone.ID)
		m.refreshDrones()
	case staleMsg:
		m.stale = make(map[string]struct{}, len(msg.ids))
		for _, id := range msg.ids {
			m.stale[id] = struct{}{}
		}
		m.refreshDrones()
	case countsMsg:
		m.counts = msg.counts
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func (m *tuiModel) layout() {
	rows := len(m.latest)
	if rows < droneRowsMin {
		rows = droneRowsMin
	}
	if limit := int(float64(m.height) * droneTablePct); limit > droneRowsMin && rows > limit {
		rows = limit
	}
	m.drones.SetHeight(rows + 1)
	fixed := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderBottom()) + 4
	h := m.height - fixed - m.drones.Height()
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshDrones() {
	ids := make([]string, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		s := m.latest[id]
		seen := s.Timestamp.Format("15:04:05")
		if _, ok := m.stale[id]; ok {
			seen = "STALE"
		}
		rows = append(rows, table.Row{
			s.Drone.Label(),
			formatReading(s.Battery, "%.0f%%"),
			formatReading(s.Altitude, "%.1f"),
			formatReading(s.GroundSpeed, "%.1f"),
			s.FlightMode,
			formatReading(s.Lat, "%.5f"),
			formatReading(s.Lon, "%.5f"),
			seen,
		})
	}
	m.drones.SetRows(rows)
	m.layout()
}

func formatReading(r telemetry.Reading, format string) string {
	if v, ok := r.Value(); ok {
		return fmt.Sprintf(format, v)
	}
	if r.Invalid() {
		return "?"
	}
	return "-"
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.width)
	sections := []string{
		m.renderHeader(),
		divider,
		m.drones.View(),
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func (m tuiModel) renderHeader() string {
	parts := []string{titleStyle.Render(m.title)}
	for _, st := range alert.Statuses {
		parts = append(parts, fmt.Sprintf("%s%s=%d%s", statusColor(st), st, m.counts[st], colorReset))
	}
	parts = append(parts, fmt.Sprintf("drones=%d", len(m.latest)))
	if n := len(m.stale); n > 0 {
		parts = append(parts, fmt.Sprintf("%sstale=%d%s", colorYellow, n, colorReset))
	}
	if low := m.lowBatteryCount(); low > 0 {
		parts = append(parts, fmt.Sprintf("%slow_batt=%d%s", colorRed, low, colorReset))
	}
	return strings.Join(parts, "  ")
}

func (m tuiModel) lowBatteryCount() int {
	n := 0
	for _, s := range m.latest {
		if v, ok := s.Battery.Value(); ok && v < lowBattery {
			n++
		}
	}
	return n
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	return fmt.Sprintf("Admin UI %s | Wrap %s | Scroll %s | h help | q quit",
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for the event log",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
