package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

// JSONStdoutWriter prints every row as a tagged JSON line on STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

type taggedRow struct {
	Kind string `json:"kind"`
	Row  any    `json:"row"`
}

func (w *JSONStdoutWriter) emit(kind string, row any) error {
	data, err := json.Marshal(taggedRow{Kind: kind, Row: row})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteTelemetry outputs a sample.
func (w *JSONStdoutWriter) WriteTelemetry(s telemetry.Sample) error {
	return w.emit("telemetry", RowFromSample(s))
}

// WriteTransition outputs an alert transition.
func (w *JSONStdoutWriter) WriteTransition(t alert.Transition) error {
	return w.emit("transition", t)
}

// WriteCommand outputs a command row.
func (w *JSONStdoutWriter) WriteCommand(r command.Row) error {
	return w.emit("command", r)
}

// WriteDispatch outputs a dispatch row.
func (w *JSONStdoutWriter) WriteDispatch(r dispatch.Row) error {
	return w.emit("dispatch", r)
}
