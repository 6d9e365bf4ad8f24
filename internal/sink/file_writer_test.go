package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode %s: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	paths := FilePaths{
		Telemetry:   filepath.Join(dir, "telemetry.jsonl"),
		Transitions: filepath.Join(dir, "transitions.jsonl"),
		Commands:    filepath.Join(dir, "commands.jsonl"),
	}
	fw, err := NewFileWriter(paths)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := fw.WriteTelemetry(testSample("7", 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := fw.WriteTransition(alert.Transition{AlertID: "A1", From: alert.StatusActive, To: alert.StatusSent, Source: alert.SourceDispatch, At: ts0}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := fw.WriteCommand(command.Row{DroneID: "7", Kind: command.Recall, Issued: true, Timestamp: ts0}); err != nil {
		t.Fatalf("command: %v", err)
	}
	// Dispatch log disabled: silently skipped.
	if err := fw.WriteDispatch(dispatch.Row{AlertID: "A1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tele := readLines(t, paths.Telemetry)
	if len(tele) != 1 || tele[0]["drone_id"] != "7" || tele[0]["altitude"] != nil || tele[0]["lat"] != 48.2 {
		t.Fatalf("telemetry = %v", tele)
	}
	tr := readLines(t, paths.Transitions)
	if len(tr) != 1 || tr[0]["to"] != "SENT" || tr[0]["source"] != "dispatch" {
		t.Fatalf("transitions = %v", tr)
	}
	cmds := readLines(t, paths.Commands)
	if len(cmds) != 1 || cmds[0]["kind"] != "recall" {
		t.Fatalf("commands = %v", cmds)
	}
	if _, err := os.Stat(filepath.Join(dir, "dispatches.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("disabled log should not be created")
	}
}

func TestFileWriterRoundTripsThroughReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	fw, err := NewFileWriter(FilePaths{Telemetry: path})
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	for i, s := range []telemetry.Sample{testSample("1", 0), testSample("2", 1), testSample("1", 2)} {
		if err := fw.WriteTelemetry(s); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	fw.Close()

	reg := telemetry.NewRegistry(logging.Discard())
	st, err := ReplayLogFile(context.Background(), path, reg, 0, logging.Discard())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if st.Lines != 3 || st.Accepted != 3 {
		t.Fatalf("stats = %+v", st)
	}
	s, ok := reg.Latest("1")
	if !ok || !s.Timestamp.Equal(ts0.Add(2e9)) || s.Drone.Code != "HAWK-1" || s.Altitude.Known() {
		t.Fatalf("latest = %+v", s)
	}
}
