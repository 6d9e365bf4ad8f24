package sink

import (
	"encoding/json"
	"os"
	"sync"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

// FilePaths names the JSONL logs. Empty paths skip that log.
type FilePaths struct {
	Telemetry   string `yaml:"telemetry"`
	Transitions string `yaml:"transitions"`
	Commands    string `yaml:"commands"`
	Dispatches  string `yaml:"dispatches"`
}

type jsonlFile struct {
	f   *os.File
	enc *json.Encoder
}

func (j *jsonlFile) encode(v any) error {
	if j == nil {
		return nil
	}
	return j.enc.Encode(v)
}

// FileWriter appends rows to JSONL files.
type FileWriter struct {
	mu          sync.Mutex
	telemetry   *jsonlFile
	transitions *jsonlFile
	commands    *jsonlFile
	dispatches  *jsonlFile
}

// NewFileWriter opens the configured logs for appending.
func NewFileWriter(paths FilePaths) (*FileWriter, error) {
	fw := &FileWriter{}
	targets := []struct {
		path string
		dst  **jsonlFile
	}{
		{paths.Telemetry, &fw.telemetry},
		{paths.Transitions, &fw.transitions},
		{paths.Commands, &fw.commands},
		{paths.Dispatches, &fw.dispatches},
	}
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fw.Close()
			return nil, err
		}
		*t.dst = &jsonlFile{f: f, enc: json.NewEncoder(f)}
	}
	return fw, nil
}

// WriteTelemetry logs a single sample in its flat export shape.
func (f *FileWriter) WriteTelemetry(s telemetry.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.telemetry.encode(RowFromSample(s))
}

// WriteTelemetryBatch logs multiple samples.
func (f *FileWriter) WriteTelemetryBatch(samples []telemetry.Sample) error {
	for _, s := range samples {
		if err := f.WriteTelemetry(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteTransition logs an alert transition, if enabled.
func (f *FileWriter) WriteTransition(t alert.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitions.encode(t)
}

// WriteCommand logs a command row, if enabled.
func (f *FileWriter) WriteCommand(r command.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands.encode(r)
}

// WriteDispatch logs a dispatch row, if enabled.
func (f *FileWriter) WriteDispatch(r dispatch.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatches.encode(r)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	for _, j := range []*jsonlFile{f.telemetry, f.transitions, f.commands, f.dispatches} {
		if j == nil {
			continue
		}
		if e := j.f.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
