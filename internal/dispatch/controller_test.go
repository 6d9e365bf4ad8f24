package dispatch

import (
	"context"
	"testing"
	"time"

	"droneops-console/internal/alert"
	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

type stubBackend struct {
	drone telemetry.DroneIdentity
	err   error
	calls int
}

func (b *stubBackend) FetchAlerts(ctx context.Context, q alert.Query) (alert.Page, error) {
	return alert.Page{}, nil
}

func (b *stubBackend) Dispatch(ctx context.Context, id string) (telemetry.DroneIdentity, error) {
	b.calls++
	return b.drone, b.err
}

func (b *stubBackend) Neutralise(ctx context.Context, id, note string) error { return nil }

type collectRows struct{ rows []Row }

func (c *collectRows) WriteDispatch(r Row) error {
	c.rows = append(c.rows, r)
	return nil
}

func setup(b *stubBackend) (*alert.Coordinator, *telemetry.Registry, *collectRows, *Controller) {
	coord := alert.NewCoordinator(b, alert.Options{}, logging.Discard())
	coord.ApplyEvent(alert.Event{Kind: alert.EventCreated, Alert: alert.Alert{ID: "A1", Status: alert.StatusActive, CreatedAt: time.Now()}})
	reg := telemetry.NewRegistry(logging.Discard())
	rows := &collectRows{}
	return coord, reg, rows, NewController(coord, reg, rows, logging.Discard())
}

func TestDispatchTracksDrone(t *testing.T) {
	b := &stubBackend{drone: telemetry.DroneIdentity{ID: "D1", Code: "HAWK-1"}}
	coord, reg, rows, c := setup(b)

	out := c.Dispatch(context.Background(), "A1")
	if out.Err != nil || out.Drone == nil || out.Drone.Code != "HAWK-1" {
		t.Fatalf("outcome = %+v", out)
	}
	if a, _ := coord.Get("A1"); a.Status != alert.StatusSent {
		t.Fatalf("status = %s", a.Status)
	}
	if id, ok := c.AlertFor("D1"); !ok || id != "A1" {
		t.Fatalf("AlertFor = %q, %v", id, ok)
	}
	if len(rows.rows) != 1 || rows.rows[0].State != string(alert.AssignmentAcknowledged) || rows.rows[0].DroneCode != "HAWK-1" {
		t.Fatalf("rows = %+v", rows.rows)
	}

	reg.Ingest(telemetry.Sample{
		Drone:     telemetry.DroneIdentity{ID: "D1", Code: "HAWK-1"},
		Lat:       telemetry.KnownReading(48.2),
		Lon:       telemetry.KnownReading(16.3),
		Timestamp: time.Now().UTC(),
	})
	tracked := c.Tracked()
	if len(tracked) != 1 || tracked[0].Sample == nil || tracked[0].Sample.Lat.Or(0) != 48.2 {
		t.Fatalf("tracked = %+v", tracked)
	}
}

func TestDispatchRefusedWithoutNetwork(t *testing.T) {
	b := &stubBackend{drone: telemetry.DroneIdentity{ID: "D1"}}
	coord, _, rows, c := setup(b)
	coord.ApplyEvent(alert.Event{Kind: alert.EventStatusChanged, Alert: alert.Alert{ID: "A1", Status: alert.StatusSent}})

	out := c.Dispatch(context.Background(), "A1")
	if !faults.Is(out.Err, faults.Precondition) || out.Drone != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if b.calls != 0 {
		t.Fatalf("backend called %d times", b.calls)
	}
	if len(rows.rows) != 1 || rows.rows[0].State != "refused" {
		t.Fatalf("rows = %+v", rows.rows)
	}
}

func TestAlertForDropsNeutralised(t *testing.T) {
	b := &stubBackend{drone: telemetry.DroneIdentity{ID: "D1"}}
	coord, _, _, c := setup(b)
	if out := c.Dispatch(context.Background(), "A1"); out.Err != nil {
		t.Fatalf("dispatch: %v", out.Err)
	}
	if _, err := coord.RequestNeutralise(context.Background(), "A1", "done"); err != nil {
		t.Fatalf("neutralise: %v", err)
	}
	if _, ok := c.AlertFor("D1"); ok {
		t.Fatalf("superseded assignment should not map the drone")
	}
	if len(c.Tracked()) != 0 {
		t.Fatalf("tracked should be empty")
	}
}

func TestDispatchFailureIsNotRetried(t *testing.T) {
	b := &stubBackend{err: faults.New("gateway.dispatch", faults.Rejected, "A1", "no drone", nil)}
	_, _, rows, c := setup(b)
	out := c.Dispatch(context.Background(), "A1")
	if !faults.Is(out.Err, faults.Rejected) || out.Assignment.State != alert.AssignmentFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if b.calls != 1 {
		t.Fatalf("backend called %d times", b.calls)
	}
	if rows.rows[0].State != string(alert.AssignmentFailed) || rows.rows[0].Error == "" {
		t.Fatalf("row = %+v", rows.rows[0])
	}
}
