// Package console runs the operator loop: it merges snapshots and push
// frames into the alert and telemetry stores and feeds the sinks.
package console

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/logging"
	"droneops-console/internal/sink"
	"droneops-console/internal/stream"
	"droneops-console/internal/telemetry"
)

// Options tunes the loop.
type Options struct {
	SnapshotInterval time.Duration
	Snapshot         alert.Query
	StaleAfter       time.Duration
	StatusInterval   time.Duration
	FrameBuffer      int
	Now              func() time.Time
}

const (
	DefaultSnapshotInterval = 30 * time.Second
	DefaultStaleAfter       = 30 * time.Second
	DefaultStatusInterval   = time.Second
)

// Deps are the stores and outputs the console drives.
type Deps struct {
	Alerts   *alert.Coordinator
	Registry *telemetry.Registry
	Dispatch *dispatch.Controller
	Commands *command.Commander
	Sources  []stream.Source
	// Sink may be nil.
	Sink sink.Writer
}

// Console owns the single loop goroutine.
type Console struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New wires the stores to the sink and returns a console ready to Run.
func New(deps Deps, opts Options, log *slog.Logger) *Console {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 256
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	c := &Console{deps: deps, opts: opts, log: logging.OrDefault(log)}

	if deps.Sink != nil {
		deps.Registry.OnAccept(func(s telemetry.Sample) {
			if err := deps.Sink.WriteTelemetry(s); err != nil {
				c.log.Warn("telemetry sink write failed", "drone_id", s.Drone.ID, "error", err)
			}
		})
		deps.Alerts.OnTransition(func(t alert.Transition) {
			if err := deps.Sink.WriteTransition(t); err != nil {
				c.log.Warn("transition sink write failed", "alert_id", t.AlertID, "error", err)
			}
		})
	}
	return c
}

// Alerts exposes the coordinator.
func (c *Console) Alerts() *alert.Coordinator { return c.deps.Alerts }

// Registry exposes the telemetry registry.
func (c *Console) Registry() *telemetry.Registry { return c.deps.Registry }

// Dispatch exposes the dispatch controller.
func (c *Console) Dispatch() *dispatch.Controller { return c.deps.Dispatch }

// Commands exposes the drone commander.
func (c *Console) Commands() *command.Commander { return c.deps.Commands }

// StaleAfter is the age past which a drone's telemetry counts as stale.
func (c *Console) StaleAfter() time.Duration { return c.opts.StaleAfter }

// Run starts the push sources and processes frames and timers until ctx is
// cancelled. Snapshot fetches run on their own goroutine, at most one at a
// time, and are merged here; ticks that arrive while one is running are
// skipped. Nothing that goes wrong inside the loop stops it.
func (c *Console) Run(ctx context.Context) error {
	frames := make(chan stream.Frame, c.opts.FrameBuffer)
	snapshots := make(chan snapshotResult, 1)

	var wg sync.WaitGroup
	for _, src := range c.deps.Sources {
		wg.Add(1)
		go func(src stream.Source) {
			defer wg.Done()
			if err := src.Run(ctx, frames); err != nil {
				c.log.Error("push source stopped", "error", err)
			}
		}(src)
	}
	defer wg.Wait()

	refreshing := false
	startRefresh := func() {
		if refreshing {
			c.log.Debug("alert snapshot still running, tick skipped")
			return
		}
		refreshing = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.deps.Alerts.FetchSnapshot(ctx, c.opts.Snapshot)
			snapshots <- snapshotResult{snap: snap, err: err}
		}()
	}

	startRefresh()
	c.publishStatus()

	snapshot := time.NewTicker(c.opts.SnapshotInterval)
	defer snapshot.Stop()
	status := time.NewTicker(c.opts.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("console loop stopping")
			return nil
		case f := <-frames:
			c.Apply(f)
		case r := <-snapshots:
			refreshing = false
			c.mergeSnapshot(ctx, r)
		case <-snapshot.C:
			startRefresh()
		case <-status.C:
			c.publishStatus()
		}
	}
}

type snapshotResult struct {
	snap alert.Snapshot
	err  error
}

// Apply routes one push frame to its store.
func (c *Console) Apply(f stream.Frame) {
	switch {
	case f.Alert != nil:
		c.deps.Alerts.ApplyEvent(*f.Alert)
	case f.Telemetry != nil:
		c.deps.Registry.Ingest(*f.Telemetry)
	}
}

// Refresh fetches and merges the alert snapshot on the calling goroutine.
// Failures keep the held picture.
func (c *Console) Refresh(ctx context.Context) {
	snap, err := c.deps.Alerts.FetchSnapshot(ctx, c.opts.Snapshot)
	c.mergeSnapshot(ctx, snapshotResult{snap: snap, err: err})
}

func (c *Console) mergeSnapshot(ctx context.Context, r snapshotResult) {
	if r.err != nil {
		if ctx.Err() == nil {
			c.log.Warn("alert snapshot failed", "error", r.err)
		}
		return
	}
	removed := c.deps.Alerts.MergeSnapshot(r.snap)
	c.log.Debug("alert snapshot loaded", "alerts", len(r.snap.Alerts), "removed", removed)
}

// StaleDrones lists drones whose latest sample is older than StaleAfter.
func (c *Console) StaleDrones() []string {
	stale := c.deps.Registry.Stale(c.opts.Now(), c.opts.StaleAfter)
	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.Drone.ID)
	}
	slices.Sort(ids)
	return ids
}

func (c *Console) publishStatus() {
	sw, ok := c.deps.Sink.(sink.StatusWriter)
	if !ok {
		return
	}
	sw.SetAlertCounts(c.deps.Alerts.Counts())
	sw.SetStaleDrones(c.StaleDrones())
}
