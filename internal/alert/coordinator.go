package alert

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
	"droneops-console/internal/telemetry"
)

// Backend is the request/response side of the alert service.
type Backend interface {
	FetchAlerts(ctx context.Context, q Query) (Page, error)
	Dispatch(ctx context.Context, alertID string) (telemetry.DroneIdentity, error)
	Neutralise(ctx context.Context, alertID, note string) error
}

// Options tunes a Coordinator. Zero values take the defaults below.
type Options struct {
	Timeout  time.Duration
	PageSize int
	MaxPages int
	Now      func() time.Time
}

const (
	DefaultTimeout  = 5 * time.Second
	DefaultPageSize = 100
	DefaultMaxPages = 20
)

// Coordinator owns the alert set. Mutations happen under a single lock
// that is never held across a backend call.
type Coordinator struct {
	mu           sync.RWMutex
	alerts       map[string]Alert
	assignments  map[string]Assignment
	dispatching  map[string]struct{}
	neutralising map[string]struct{}
	// touched records the write sequence of each alert's last local change.
	touched map[string]uint64
	seq     uint64

	backend  Backend
	timeout  time.Duration
	pageSize int
	maxPages int
	now      func() time.Time
	observer func(Transition)
	log      *slog.Logger
}

// NewCoordinator returns an empty coordinator backed by b.
func NewCoordinator(b Backend, opts Options, log *slog.Logger) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		alerts:       make(map[string]Alert),
		assignments:  make(map[string]Assignment),
		dispatching:  make(map[string]struct{}),
		neutralising: make(map[string]struct{}),
		touched:      make(map[string]uint64),
		backend:      b,
		timeout:      opts.Timeout,
		pageSize:     opts.PageSize,
		maxPages:     opts.MaxPages,
		now:          opts.Now,
		log:          logging.OrDefault(log),
	}
}

// OnTransition registers fn to receive every applied status change. It is
// called outside the lock.
func (c *Coordinator) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Snapshot is one paged fetch, ready to merge.
type Snapshot struct {
	Query  Query
	Alerts []Alert
	// Complete is set when the fetch saw the whole unfiltered set.
	Complete bool
	// seq is the write sequence when the fetch started.
	seq uint64
}

// LoadSnapshot fetches the alerts matching q and merges them in.
func (c *Coordinator) LoadSnapshot(ctx context.Context, q Query) ([]Alert, error) {
	snap, err := c.FetchSnapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	c.MergeSnapshot(snap)
	return snap.Alerts, nil
}

// FetchSnapshot pages through the backend without touching held state, so
// it may run off the event loop. Any failed page discards the whole fetch.
func (c *Coordinator) FetchSnapshot(ctx context.Context, q Query) (Snapshot, error) {
	c.mu.RLock()
	snap := Snapshot{Query: q, seq: c.seq}
	c.mu.RUnlock()

	pageSize := q.Limit
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	for page := 0; page < c.maxPages; page++ {
		pq := q
		pq.Limit = pageSize
		pq.Skip = q.Skip + len(snap.Alerts)

		p, err := c.fetch(ctx, pq)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Alerts = append(snap.Alerts, p.Alerts...)
		if !p.HasMore {
			// A status-filtered page omits alerts that moved on, so only an
			// unfiltered fetch from the start can prove an alert is gone.
			snap.Complete = q.Status == "" && q.Skip == 0 && len(snap.Alerts) >= p.Total
			break
		}
		if len(p.Alerts) == 0 {
			c.log.Warn("snapshot page empty while has_more set", "skip", pq.Skip)
			break
		}
	}
	return snap, nil
}

// MergeSnapshot applies a fetched snapshot. Held alerts are removed only
// when the snapshot is complete, the alert has no request in flight and
// nothing changed it after the fetch started.
func (c *Coordinator) MergeSnapshot(snap Snapshot) int {
	seen := make(map[string]struct{}, len(snap.Alerts))
	var transitions []Transition
	c.mu.Lock()
	for _, a := range snap.Alerts {
		if err := a.Validate(); err != nil {
			metrics.ObserveAlertEvent(string(SourceSnapshot), string(Rejected))
			c.log.Warn("snapshot alert rejected", "error", err)
			continue
		}
		seen[a.ID] = struct{}{}
		res, tr := c.mergeLocked(a, SourceSnapshot)
		metrics.ObserveAlertEvent(string(SourceSnapshot), string(res))
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	removed := 0
	if snap.Complete {
		for id := range c.alerts {
			if _, ok := seen[id]; ok || c.inFlightLocked(id) || c.touched[id] > snap.seq {
				continue
			}
			delete(c.alerts, id)
			delete(c.assignments, id)
			delete(c.touched, id)
			removed++
		}
	}
	observer := c.observer
	c.mu.Unlock()

	c.log.Debug("snapshot applied", "alerts", len(snap.Alerts), "complete", snap.Complete, "removed", removed)
	notify(observer, transitions...)
	return removed
}

func (c *Coordinator) fetch(ctx context.Context, q Query) (Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	p, err := c.backend.FetchAlerts(callCtx, q)
	if err != nil {
		return Page{}, classify("alert.snapshot", "", err)
	}
	return p, nil
}

// ApplyEvent merges a pushed alert event.
func (c *Coordinator) ApplyEvent(ev Event) ApplyResult {
	if ev.Kind != EventCreated && ev.Kind != EventStatusChanged {
		metrics.ObserveAlertEvent(string(SourcePush), string(Rejected))
		c.log.Warn("alert event rejected", "kind", ev.Kind, "alert_id", ev.Alert.ID)
		return Rejected
	}
	if err := ev.Alert.Validate(); err != nil {
		metrics.ObserveAlertEvent(string(SourcePush), string(Rejected))
		c.log.Warn("alert event rejected", "kind", ev.Kind, "error", err)
		return Rejected
	}

	c.mu.Lock()
	held := c.alerts[ev.Alert.ID].Status
	res, tr := c.mergeLocked(ev.Alert, SourcePush)
	observer := c.observer
	c.mu.Unlock()

	metrics.ObserveAlertEvent(string(SourcePush), string(res))
	if res == Dropped {
		err := faults.New("alert.event", faults.IllegalTransition, ev.Alert.ID,
			string(held)+" -> "+string(ev.Alert.Status), nil)
		c.log.Info("backward transition dropped", "kind", ev.Kind, "error", err)
	}
	if tr != nil {
		notify(observer, *tr)
	}
	return res
}

// mergeLocked upserts a by id. Status never moves backwards; decision
// fields already held survive an incoming record that lacks them.
func (c *Coordinator) mergeLocked(a Alert, src Source) (ApplyResult, *Transition) {
	a = a.clone()
	cur, ok := c.alerts[a.ID]
	if !ok {
		c.storeLocked(a)
		return Applied, c.transition(a, "", src)
	}
	switch {
	case a.Status.Rank() < cur.Status.Rank():
		return Dropped, nil
	case a.Status == cur.Status:
		keepDecision(&a, cur)
		c.storeLocked(a)
		return Unchanged, nil
	}
	keepDecision(&a, cur)
	c.storeLocked(a)
	if a.Status == StatusNeutralised {
		c.supersedeLocked(a.ID)
	}
	return Applied, c.transition(a, cur.Status, src)
}

func (c *Coordinator) storeLocked(a Alert) {
	c.seq++
	c.alerts[a.ID] = a
	c.touched[a.ID] = c.seq
}

func keepDecision(a *Alert, cur Alert) {
	if a.DecidedAt == nil && cur.DecidedAt != nil {
		t := *cur.DecidedAt
		a.DecidedAt = &t
	}
	if a.DecisionNote == "" {
		a.DecisionNote = cur.DecisionNote
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = cur.CreatedAt
	}
}

func (c *Coordinator) transition(a Alert, from Status, src Source) *Transition {
	return &Transition{
		AlertID:    a.ID,
		SensorCode: a.SensorCode,
		Type:       a.Type,
		From:       from,
		To:         a.Status,
		Source:     src,
		Note:       a.DecisionNote,
		At:         c.now(),
	}
}

func (c *Coordinator) supersedeLocked(id string) {
	if as, ok := c.assignments[id]; ok && as.Live() {
		as.State = AssignmentSuperseded
		c.assignments[id] = as
	}
}

func (c *Coordinator) inFlightLocked(id string) bool {
	_, d := c.dispatching[id]
	_, n := c.neutralising[id]
	return d || n
}

// RequestDispatch asks the backend to send a drone against an ACTIVE
// alert. The alert only moves to SENT once the backend acknowledges.
func (c *Coordinator) RequestDispatch(ctx context.Context, id string) (Assignment, error) {
	const op = "alert.dispatch"

	c.mu.Lock()
	a, ok := c.alerts[id]
	switch {
	case !ok:
		c.mu.Unlock()
		return Assignment{}, faults.New(op, faults.NotFound, id, "unknown alert", nil)
	case c.dispatchingLocked(id):
		c.mu.Unlock()
		return Assignment{}, faults.New(op, faults.InFlight, id, "dispatch already in flight", nil)
	case a.Status != StatusActive:
		c.mu.Unlock()
		return Assignment{}, faults.New(op, faults.Precondition, id, "alert is "+string(a.Status), nil)
	}
	if as, ok := c.assignments[id]; ok && as.Live() {
		c.mu.Unlock()
		return Assignment{}, faults.New(op, faults.Precondition, id, "alert already has a live assignment", nil)
	}
	requested := Assignment{AlertID: id, RequestedAt: c.now(), State: AssignmentRequested}
	c.dispatching[id] = struct{}{}
	c.assignments[id] = requested
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	drone, err := c.backend.Dispatch(callCtx, id)
	cancel()

	c.mu.Lock()
	delete(c.dispatching, id)
	as := requested
	if err != nil {
		err = classify(op, id, err)
		as.State = AssignmentFailed
		as.Error = err.Error()
		c.assignments[id] = as
		c.mu.Unlock()
		c.log.Warn("dispatch failed", "alert_id", id, "error", err)
		return as, err
	}

	as.State = AssignmentAcknowledged
	as.Drone = drone
	var tr *Transition
	if cur, ok := c.alerts[id]; ok {
		switch cur.Status {
		case StatusActive:
			cur.Status = StatusSent
			c.storeLocked(cur)
			tr = c.transition(cur, StatusActive, SourceDispatch)
		case StatusNeutralised:
			as.State = AssignmentSuperseded
		}
	}
	c.assignments[id] = as
	observer := c.observer
	c.mu.Unlock()

	c.log.Info("dispatch acknowledged", "alert_id", id, "drone_id", drone.ID, "drone_code", drone.Code)
	if tr != nil {
		notify(observer, *tr)
	}
	return as, nil
}

func (c *Coordinator) dispatchingLocked(id string) bool {
	_, ok := c.dispatching[id]
	return ok
}

// RequestNeutralise closes an ACTIVE or SENT alert with an operator note.
// Nothing changes locally unless the backend acknowledges.
func (c *Coordinator) RequestNeutralise(ctx context.Context, id, note string) (Alert, error) {
	const op = "alert.neutralise"

	c.mu.Lock()
	a, ok := c.alerts[id]
	switch {
	case !ok:
		c.mu.Unlock()
		return Alert{}, faults.New(op, faults.NotFound, id, "unknown alert", nil)
	case c.neutralisingLocked(id):
		c.mu.Unlock()
		return Alert{}, faults.New(op, faults.InFlight, id, "neutralise already in flight", nil)
	case a.Status.Terminal():
		c.mu.Unlock()
		return Alert{}, faults.New(op, faults.Precondition, id, "alert already neutralised", nil)
	}
	c.neutralising[id] = struct{}{}
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.backend.Neutralise(callCtx, id, note)
	cancel()

	c.mu.Lock()
	delete(c.neutralising, id)
	if err != nil {
		c.mu.Unlock()
		err = classify(op, id, err)
		c.log.Warn("neutralise failed", "alert_id", id, "error", err)
		return Alert{}, err
	}

	cur := c.alerts[id]
	from := cur.Status
	if from != StatusNeutralised || cur.DecidedAt == nil {
		at := c.now()
		cur.DecidedAt = &at
	}
	if from != StatusNeutralised || cur.DecisionNote == "" {
		cur.DecisionNote = note
	}
	cur.Status = StatusNeutralised
	c.storeLocked(cur)
	c.supersedeLocked(id)
	var tr *Transition
	if from != StatusNeutralised {
		tr = c.transition(cur, from, SourceNeutralise)
	}
	observer := c.observer
	out := cur.clone()
	c.mu.Unlock()

	c.log.Info("alert neutralised", "alert_id", id, "from", from)
	if tr != nil {
		notify(observer, *tr)
	}
	return out, nil
}

func (c *Coordinator) neutralisingLocked(id string) bool {
	_, ok := c.neutralising[id]
	return ok
}

// Get returns a copy of the held alert.
func (c *Coordinator) Get(id string) (Alert, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return a.clone(), true
}

// List returns held alerts matching q's status filter, newest first.
func (c *Coordinator) List(q Query) []Alert {
	c.mu.RLock()
	out := make([]Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		if q.Matches(a) {
			out = append(out, a.clone())
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Alert) int {
		if d := b.CreatedAt.Compare(a.CreatedAt); d != 0 {
			return d
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Assignment returns the latest assignment recorded for an alert.
func (c *Coordinator) Assignment(id string) (Assignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	as, ok := c.assignments[id]
	return as, ok
}

// Assignments returns every recorded assignment, oldest request first.
func (c *Coordinator) Assignments() []Assignment {
	c.mu.RLock()
	out := make([]Assignment, 0, len(c.assignments))
	for _, as := range c.assignments {
		out = append(out, as)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Assignment) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out
}

// Counts returns the number of held alerts per status.
func (c *Coordinator) Counts() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, a := range c.alerts {
		out[a.Status]++
	}
	return out
}

// InFlight reports whether a dispatch or neutralise is pending for id.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inFlightLocked(id)
}

func notify(fn func(Transition), trs ...Transition) {
	if fn == nil {
		return
	}
	for _, tr := range trs {
		fn(tr)
	}
}

// classify tags backend errors that carry no fault kind as transient.
func classify(op, id string, err error) error {
	if faults.KindOf(err) != "" {
		return err
	}
	msg := "backend call failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "backend call timed out"
	}
	return faults.New(op, faults.Transient, id, msg, err)
}
