package alert

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

type stubBackend struct {
	mu sync.Mutex

	pages         []Page
	fetchErr      error
	queries       []Query
	drone         telemetry.DroneIdentity
	dispatchErr   error
	dispatchCalls int
	neutraliseErr error
	notes         []string

	// gate, when set, blocks Dispatch and Neutralise until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (b *stubBackend) FetchAlerts(ctx context.Context, q Query) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	if b.fetchErr != nil {
		return Page{}, b.fetchErr
	}
	if len(b.pages) == 0 {
		return Page{}, nil
	}
	p := b.pages[0]
	b.pages = b.pages[1:]
	return p, nil
}

func (b *stubBackend) wait() {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
}

func (b *stubBackend) Dispatch(ctx context.Context, id string) (telemetry.DroneIdentity, error) {
	b.mu.Lock()
	b.dispatchCalls++
	b.mu.Unlock()
	b.wait()
	return b.drone, b.dispatchErr
}

func (b *stubBackend) Neutralise(ctx context.Context, id, note string) error {
	b.mu.Lock()
	b.notes = append(b.notes, note)
	b.mu.Unlock()
	b.wait()
	return b.neutraliseErr
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(b Backend) *Coordinator {
	return NewCoordinator(b, Options{Timeout: time.Second, PageSize: 2, Now: func() time.Time { return t0 }}, logging.Discard())
}

func alert(id string, st Status) Alert {
	return Alert{ID: id, SensorID: "s-" + id, SensorCode: "SN-" + id, Type: "intrusion", Status: st, CreatedAt: t0}
}

func TestApplyEventMonotonic(t *testing.T) {
	c := newTestCoordinator(&stubBackend{})
	if got := c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)}); got != Applied {
		t.Fatalf("created: %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusNeutralised)}); got != Applied {
		t.Fatalf("neutralised: %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusSent)}); got != Dropped {
		t.Fatalf("late SENT should drop, got %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)}); got != Dropped {
		t.Fatalf("late created should drop, got %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusNeutralised)}); got != Unchanged {
		t.Fatalf("re-apply: %s", got)
	}
	a, _ := c.Get("a1")
	if a.Status != StatusNeutralised {
		t.Fatalf("status = %s", a.Status)
	}
}

func TestApplyEventRejectsInvalid(t *testing.T) {
	c := newTestCoordinator(&stubBackend{})
	if got := c.ApplyEvent(Event{Kind: "deleted", Alert: alert("a1", StatusActive)}); got != Rejected {
		t.Fatalf("unknown kind: %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("", StatusActive)}); got != Rejected {
		t.Fatalf("missing id: %s", got)
	}
	if got := c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a2", "ARCHIVED")}); got != Rejected {
		t.Fatalf("unknown status: %s", got)
	}
	if len(c.List(Query{})) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestApplyEventFinalStatusIsMaximum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		c := newTestCoordinator(&stubBackend{})
		maxRank := 0
		var want Status
		for i := 0; i < 1+rng.Intn(8); i++ {
			st := Statuses[rng.Intn(len(Statuses))]
			kind := EventStatusChanged
			if i == 0 {
				kind = EventCreated
			}
			c.ApplyEvent(Event{Kind: kind, Alert: alert("x", st)})
			if st.Rank() > maxRank {
				maxRank, want = st.Rank(), st
			}
		}
		a, _ := c.Get("x")
		if a.Status != want {
			t.Fatalf("round %d: status %s, want %s", round, a.Status, want)
		}
	}
}

func TestTransitionsObserved(t *testing.T) {
	c := newTestCoordinator(&stubBackend{})
	var got []Transition
	c.OnTransition(func(tr Transition) { got = append(got, tr) })
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusActive)})
	c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusSent)})
	if len(got) != 2 {
		t.Fatalf("transitions = %+v", got)
	}
	if got[1].From != StatusActive || got[1].To != StatusSent || got[1].Source != SourcePush || !got[1].At.Equal(t0) {
		t.Fatalf("unexpected transition %+v", got[1])
	}
}

func TestLoadSnapshotPagesAndRemoves(t *testing.T) {
	b := &stubBackend{pages: []Page{
		{Alerts: []Alert{alert("a1", StatusActive), alert("a2", StatusSent)}, Total: 3, HasMore: true},
		{Alerts: []Alert{alert("a3", StatusActive)}, Total: 3},
	}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("gone", StatusActive)})

	got, err := c.LoadSnapshot(context.Background(), Query{Sort: SortCreatedAt, Desc: true})
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a1" || got[2].ID != "a3" {
		t.Fatalf("snapshot order: %+v", got)
	}
	if len(b.queries) != 2 || b.queries[1].Skip != 2 || b.queries[1].Limit != 2 {
		t.Fatalf("queries = %+v", b.queries)
	}
	if _, ok := c.Get("gone"); ok {
		t.Fatalf("alert absent from a complete snapshot should be removed")
	}
}

func TestFilteredSnapshotNeverRemoves(t *testing.T) {
	b := &stubBackend{pages: []Page{{Alerts: []Alert{alert("a2", StatusActive)}, Total: 1}}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})

	if _, err := c.LoadSnapshot(context.Background(), Query{Status: StatusActive}); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if _, ok := c.Get("a1"); !ok {
		t.Fatalf("a1 dropped by an ACTIVE-filtered snapshot")
	}
	if _, ok := c.Get("a2"); !ok {
		t.Fatalf("a2 not merged")
	}
}

func TestSnapshotKeepsAlertsChangedDuringFetch(t *testing.T) {
	b := &stubBackend{pages: []Page{{Total: 0}}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("old", StatusActive)})

	snap, err := c.FetchSnapshot(context.Background(), Query{})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if !snap.Complete {
		t.Fatalf("unfiltered fetch should be complete")
	}
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("fresh", StatusActive)})

	if removed := c.MergeSnapshot(snap); removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("alert pushed after the fetch started was removed")
	}
	if _, ok := c.Get("old"); ok {
		t.Fatalf("alert held before the fetch should be removed")
	}
}

func TestLoadSnapshotIncompleteKeepsHeld(t *testing.T) {
	b := &stubBackend{pages: []Page{
		{Alerts: []Alert{alert("a1", StatusActive)}, Total: 5, HasMore: true},
	}}
	c := NewCoordinator(b, Options{PageSize: 1, MaxPages: 1}, logging.Discard())
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("held", StatusActive)})
	if _, err := c.LoadSnapshot(context.Background(), Query{}); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if _, ok := c.Get("held"); !ok {
		t.Fatalf("incomplete snapshot must not remove alerts")
	}
}

func TestLoadSnapshotNeverRegresses(t *testing.T) {
	b := &stubBackend{pages: []Page{{Alerts: []Alert{alert("a1", StatusActive)}, Total: 1}}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusNeutralised)})
	if _, err := c.LoadSnapshot(context.Background(), Query{}); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if a, _ := c.Get("a1"); a.Status != StatusNeutralised {
		t.Fatalf("snapshot regressed status to %s", a.Status)
	}
}

func TestLoadSnapshotFailureLeavesState(t *testing.T) {
	b := &stubBackend{fetchErr: errors.New("connection refused")}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	_, err := c.LoadSnapshot(context.Background(), Query{})
	if !faults.Is(err, faults.Transient) {
		t.Fatalf("want transient, got %v", err)
	}
	if _, ok := c.Get("a1"); !ok {
		t.Fatalf("failed fetch must not clear state")
	}
}

func TestRequestDispatch(t *testing.T) {
	b := &stubBackend{drone: telemetry.DroneIdentity{ID: "d9", Code: "HAWK-9"}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})

	as, err := c.RequestDispatch(context.Background(), "a1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if as.State != AssignmentAcknowledged || as.Drone.Code != "HAWK-9" {
		t.Fatalf("assignment = %+v", as)
	}
	if a, _ := c.Get("a1"); a.Status != StatusSent {
		t.Fatalf("status = %s", a.Status)
	}

	_, err = c.RequestDispatch(context.Background(), "a1")
	if !faults.Is(err, faults.Precondition) {
		t.Fatalf("second dispatch: %v", err)
	}
	if b.dispatchCalls != 1 {
		t.Fatalf("precondition failure must not call backend")
	}
	if _, err := c.RequestDispatch(context.Background(), "nope"); !faults.Is(err, faults.NotFound) {
		t.Fatalf("unknown alert: %v", err)
	}
}

func TestRequestDispatchFailureStaysActive(t *testing.T) {
	b := &stubBackend{dispatchErr: faults.New("gateway.dispatch", faults.Rejected, "a1", "no drone available", nil)}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})

	as, err := c.RequestDispatch(context.Background(), "a1")
	if !faults.Is(err, faults.Rejected) {
		t.Fatalf("want rejected, got %v", err)
	}
	if as.State != AssignmentFailed {
		t.Fatalf("assignment = %+v", as)
	}
	if a, _ := c.Get("a1"); a.Status != StatusActive {
		t.Fatalf("status = %s", a.Status)
	}
	b.dispatchErr = nil
	if _, err := c.RequestDispatch(context.Background(), "a1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestRequestDispatchInFlight(t *testing.T) {
	b := &stubBackend{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})

	done := make(chan error, 1)
	go func() {
		_, err := c.RequestDispatch(context.Background(), "a1")
		done <- err
	}()
	<-b.entered

	if _, err := c.RequestDispatch(context.Background(), "a1"); !faults.Is(err, faults.InFlight) {
		t.Fatalf("concurrent dispatch: %v", err)
	}
	if !c.InFlight("a1") {
		t.Fatalf("InFlight should report the pending dispatch")
	}
	if a, _ := c.Get("a1"); a.Status != StatusActive {
		t.Fatalf("no optimistic update expected, got %s", a.Status)
	}
	close(b.gate)
	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if b.dispatchCalls != 1 {
		t.Fatalf("backend called %d times", b.dispatchCalls)
	}
}

func TestSnapshotSkipsInFlightRemoval(t *testing.T) {
	b := &stubBackend{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})

	done := make(chan struct{})
	go func() {
		c.RequestDispatch(context.Background(), "a1")
		close(done)
	}()
	<-b.entered
	b.mu.Lock()
	b.pages = []Page{{Total: 0}}
	b.mu.Unlock()
	if _, err := c.LoadSnapshot(context.Background(), Query{}); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if _, ok := c.Get("a1"); !ok {
		t.Fatalf("alert with a dispatch in flight must not be removed")
	}
	close(b.gate)
	<-done
}

func TestRequestDispatchTimeoutIsTransient(t *testing.T) {
	c := NewCoordinator(timeoutBackend{&stubBackend{}}, Options{Timeout: 10 * time.Millisecond}, logging.Discard())
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	_, err := c.RequestDispatch(context.Background(), "a1")
	if !faults.Is(err, faults.Transient) {
		t.Fatalf("want transient, got %v", err)
	}
	if as, _ := c.Assignment("a1"); as.State != AssignmentFailed {
		t.Fatalf("assignment = %+v", as)
	}
}

type timeoutBackend struct{ *stubBackend }

func (b timeoutBackend) Dispatch(ctx context.Context, id string) (telemetry.DroneIdentity, error) {
	<-ctx.Done()
	return telemetry.DroneIdentity{}, ctx.Err()
}

func TestRequestNeutralise(t *testing.T) {
	b := &stubBackend{drone: telemetry.DroneIdentity{ID: "d1"}}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	if _, err := c.RequestDispatch(context.Background(), "a1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	a, err := c.RequestNeutralise(context.Background(), "a1", "false alarm")
	if err != nil {
		t.Fatalf("neutralise: %v", err)
	}
	if a.Status != StatusNeutralised || a.DecisionNote != "false alarm" || a.DecidedAt == nil || !a.DecidedAt.Equal(t0) {
		t.Fatalf("alert = %+v", a)
	}
	if as, _ := c.Assignment("a1"); as.State != AssignmentSuperseded {
		t.Fatalf("assignment = %+v", as)
	}
	if _, err := c.RequestNeutralise(context.Background(), "a1", "again"); !faults.Is(err, faults.Precondition) {
		t.Fatalf("second neutralise: %v", err)
	}
	if len(b.notes) != 1 {
		t.Fatalf("backend called %d times", len(b.notes))
	}
}

func TestRequestNeutraliseFailureChangesNothing(t *testing.T) {
	b := &stubBackend{neutraliseErr: errors.New("503")}
	c := newTestCoordinator(b)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	if _, err := c.RequestNeutralise(context.Background(), "a1", "n"); !faults.Is(err, faults.Transient) {
		t.Fatalf("want transient, got %v", err)
	}
	a, _ := c.Get("a1")
	if a.Status != StatusActive || a.DecidedAt != nil || a.DecisionNote != "" {
		t.Fatalf("alert changed: %+v", a)
	}
}

func TestPushKeepsDecisionFields(t *testing.T) {
	c := newTestCoordinator(&stubBackend{})
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("a1", StatusActive)})
	if _, err := c.RequestNeutralise(context.Background(), "a1", "cleared"); err != nil {
		t.Fatalf("neutralise: %v", err)
	}
	c.ApplyEvent(Event{Kind: EventStatusChanged, Alert: alert("a1", StatusNeutralised)})
	a, _ := c.Get("a1")
	if a.DecisionNote != "cleared" || a.DecidedAt == nil {
		t.Fatalf("decision fields lost: %+v", a)
	}
}

func TestListAndCounts(t *testing.T) {
	c := newTestCoordinator(&stubBackend{})
	older := alert("old", StatusActive)
	older.CreatedAt = t0.Add(-time.Hour)
	c.ApplyEvent(Event{Kind: EventCreated, Alert: older})
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("new", StatusActive)})
	c.ApplyEvent(Event{Kind: EventCreated, Alert: alert("done", StatusNeutralised)})

	active := c.List(Query{Status: StatusActive})
	if len(active) != 2 || active[0].ID != "new" {
		t.Fatalf("list = %+v", active)
	}
	counts := c.Counts()
	if counts[StatusActive] != 2 || counts[StatusSent] != 0 || counts[StatusNeutralised] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	// Returned alerts are copies.
	active[0].Message = "mutated"
	if a, _ := c.Get("new"); a.Message == "mutated" {
		t.Fatalf("List leaked internal state")
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{"active": StatusActive, "SENT": StatusSent, "Neutralized": StatusNeutralised} {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("open"); err == nil {
		t.Fatalf("expected error")
	}
}
