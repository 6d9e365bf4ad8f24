package sink

import (
	"errors"
	"io"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

// MultiWriter fans rows out to several sinks. A failing sink does not
// stop the others; errors are joined.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Len returns the number of sinks.
func (mw *MultiWriter) Len() int { return len(mw.writers) }

// WriteTelemetry sends a sample to all writers.
func (mw *MultiWriter) WriteTelemetry(s telemetry.Sample) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteTelemetry(s))
	}
	return errors.Join(errs...)
}

// WriteTelemetryBatch sends multiple samples to all writers, using batch if supported.
func (mw *MultiWriter) WriteTelemetryBatch(samples []telemetry.Sample) error {
	var errs []error
	for _, w := range mw.writers {
		if bw, ok := w.(batchTelemetryWriter); ok {
			errs = append(errs, bw.WriteTelemetryBatch(samples))
			continue
		}
		for _, s := range samples {
			errs = append(errs, w.WriteTelemetry(s))
		}
	}
	return errors.Join(errs...)
}

// WriteTransition sends an alert transition to all writers.
func (mw *MultiWriter) WriteTransition(t alert.Transition) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteTransition(t))
	}
	return errors.Join(errs...)
}

// WriteCommand sends a command row to all writers.
func (mw *MultiWriter) WriteCommand(r command.Row) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteCommand(r))
	}
	return errors.Join(errs...)
}

// WriteDispatch sends a dispatch row to all writers.
func (mw *MultiWriter) WriteDispatch(r dispatch.Row) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteDispatch(r))
	}
	return errors.Join(errs...)
}

// SetAlertCounts forwards to writers that show alert counts.
func (mw *MultiWriter) SetAlertCounts(c map[alert.Status]int) {
	for _, w := range mw.writers {
		if sw, ok := w.(StatusWriter); ok {
			sw.SetAlertCounts(c)
		}
	}
}

// SetStaleDrones forwards to writers that show stale drones.
func (mw *MultiWriter) SetStaleDrones(ids []string) {
	for _, w := range mw.writers {
		if sw, ok := w.(StatusWriter); ok {
			sw.SetStaleDrones(ids)
		}
	}
}

// SetAdminStatus forwards the admin indicator.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}

// Close closes every writer that holds resources.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
