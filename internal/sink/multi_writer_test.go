package sink

import (
	"errors"
	"testing"

	"droneops-console/internal/alert"
	"droneops-console/internal/telemetry"
)

func TestMultiWriterFanOut(t *testing.T) {
	plain := &collectWriter{}
	batch := &batchCollectWriter{}
	mw := NewMultiWriter(plain, batch)

	samples := []telemetry.Sample{testSample("1", 0), testSample("2", 1)}
	if err := mw.WriteTelemetryBatch(samples); err != nil {
		t.Fatalf("WriteTelemetryBatch: %v", err)
	}
	if len(plain.samples) != 2 || len(batch.samples) != 2 || batch.batches != 1 {
		t.Fatalf("plain=%d batch=%d batches=%d", len(plain.samples), len(batch.samples), batch.batches)
	}

	mw.SetAlertCounts(map[alert.Status]int{alert.StatusActive: 3})
	mw.SetStaleDrones([]string{"2"})
	mw.SetAdminStatus(true)
	if batch.counts[alert.StatusActive] != 3 || len(batch.stale) != 1 || !batch.admin {
		t.Fatalf("status not forwarded: %+v", batch)
	}
	if err := mw.Close(); err != nil || !batch.closed {
		t.Fatalf("close: %v closed=%v", err, batch.closed)
	}
}

func TestMultiWriterKeepsGoingOnError(t *testing.T) {
	failing := &collectWriter{err: errSinkDown}
	ok := &collectWriter{}
	mw := NewMultiWriter(failing, ok)
	err := mw.WriteTransition(alert.Transition{AlertID: "A1", To: alert.StatusSent})
	if !errors.Is(err, errSinkDown) {
		t.Fatalf("want joined error, got %v", err)
	}
	if len(ok.transitions) != 1 {
		t.Fatalf("healthy sink skipped")
	}
}
