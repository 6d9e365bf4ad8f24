// Package stream receives the push side of the backend: alert events and
// telemetry samples.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"droneops-console/internal/alert"
	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

// Frame is one decoded push message. Exactly one field is set.
type Frame struct {
	Alert     *alert.Event
	Telemetry *telemetry.Sample
}

// Source delivers frames until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, out chan<- Frame) error
}

type envelope struct {
	Type      string          `json:"type"`
	Kind      alert.EventKind `json:"kind"`
	Alert     json.RawMessage `json:"alert"`
	Telemetry json.RawMessage `json:"telemetry"`
}

// Decode parses a push envelope.
func Decode(data []byte) (Frame, error) {
	const op = "stream.decode"
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, faults.New(op, faults.Validation, "", "undecodable frame", err)
	}
	switch env.Type {
	case "alert":
		if isNull(env.Alert) {
			return Frame{}, faults.New(op, faults.Validation, "", "alert frame without alert", nil)
		}
		ev := alert.Event{Kind: env.Kind}
		if err := json.Unmarshal(env.Alert, &ev.Alert); err != nil {
			return Frame{}, faults.New(op, faults.Validation, "", "undecodable alert", err)
		}
		if ev.Kind != alert.EventCreated && ev.Kind != alert.EventStatusChanged {
			return Frame{}, faults.New(op, faults.Validation, ev.Alert.ID, "unknown alert event kind "+string(ev.Kind), nil)
		}
		return Frame{Alert: &ev}, nil
	case "telemetry":
		if isNull(env.Telemetry) {
			return Frame{}, faults.New(op, faults.Validation, "", "telemetry frame without payload", nil)
		}
		s, err := telemetry.DecodeSample(env.Telemetry)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Telemetry: &s}, nil
	}
	return Frame{}, faults.New(op, faults.Validation, "", "unknown frame type "+env.Type, nil)
}

// DecodeTelemetry parses a bare telemetry payload.
func DecodeTelemetry(data []byte) (Frame, error) {
	s, err := telemetry.DecodeSample(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Telemetry: &s}, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func deliver(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// sourceLogger prefers an explicit logger over the one carried by ctx.
func sourceLogger(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return logging.FromContext(ctx)
}
