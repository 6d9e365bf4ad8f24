package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
)

// IngestResult reports what Ingest did with a sample.
type IngestResult int

const (
	// Accepted means the sample replaced (or created) the drone's entry.
	Accepted IngestResult = iota
	// Stale means a sample with the same or a newer timestamp is already held.
	Stale
	// Invalid means the sample had no usable identity or timestamp.
	Invalid
)

func (r IngestResult) String() string {
	switch r {
	case Accepted:
		return metrics.ResultAccepted
	case Stale:
		return metrics.ResultStale
	default:
		return metrics.ResultInvalid
	}
}

// Stats counts ingest outcomes since the registry was created.
type Stats struct {
	Drones   int    `json:"drones"`
	Accepted uint64 `json:"accepted"`
	Stale    uint64 `json:"stale"`
	Invalid  uint64 `json:"invalid"`
}

// Registry keeps exactly one latest sample per drone id. Entries are
// replaced whole under the write lock and handed out as copies, so readers
// never see a half-updated sample.
type Registry struct {
	mu       sync.RWMutex
	latest   map[string]Sample
	accepted uint64
	stale    uint64
	invalid  uint64
	onAccept func(Sample)
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		latest: make(map[string]Sample),
		log:    logging.OrDefault(log),
	}
}

// OnAccept registers fn to receive every accepted sample. It runs on the
// ingesting goroutine after the lock is released. Set it before ingest starts.
func (r *Registry) OnAccept(fn func(Sample)) {
	r.mu.Lock()
	r.onAccept = fn
	r.mu.Unlock()
}

// Ingest offers a sample to the registry. Last writer wins by timestamp,
// not by arrival order.
func (r *Registry) Ingest(s Sample) IngestResult {
	if !s.Drone.Valid() || s.Timestamp.IsZero() {
		r.mu.Lock()
		r.invalid++
		r.mu.Unlock()
		metrics.ObserveTelemetry(metrics.ResultInvalid)
		r.log.Debug("telemetry sample dropped", "reason", "invalid", "drone_id", s.Drone.ID)
		return Invalid
	}

	s = s.clone()
	r.mu.Lock()
	if cur, ok := r.latest[s.Drone.ID]; ok && !s.Timestamp.After(cur.Timestamp) {
		r.stale++
		r.mu.Unlock()
		metrics.ObserveTelemetry(metrics.ResultStale)
		r.log.Debug("telemetry sample dropped", "reason", "stale", "drone_id", s.Drone.ID,
			"ts", s.Timestamp, "held_ts", cur.Timestamp)
		return Stale
	}
	r.latest[s.Drone.ID] = s
	r.accepted++
	fn := r.onAccept
	r.mu.Unlock()

	metrics.ObserveTelemetry(metrics.ResultAccepted)
	if fn != nil {
		fn(s.clone())
	}
	return Accepted
}

// Latest returns the newest sample held for a drone.
func (r *Registry) Latest(droneID string) (Sample, bool) {
	r.mu.RLock()
	s, ok := r.latest[droneID]
	r.mu.RUnlock()
	if !ok {
		return Sample{}, false
	}
	return s.clone(), true
}

// AllLatest returns a point-in-time copy of every drone's latest sample.
func (r *Registry) AllLatest() map[string]Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Sample, len(r.latest))
	for id, s := range r.latest {
		out[id] = s.clone()
	}
	return out
}

// Sorted returns every latest sample ordered by drone id.
func (r *Registry) Sorted() []Sample {
	all := r.AllLatest()
	out := make([]Sample, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Drone.ID < out[j].Drone.ID })
	return out
}

// Stale lists drones whose latest sample is older than maxAge at now.
func (r *Registry) Stale(now time.Time, maxAge time.Duration) []Sample {
	var out []Sample
	for _, s := range r.Sorted() {
		if s.Age(now) > maxAge {
			out = append(out, s)
		}
	}
	return out
}

// Stats returns the ingest counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Drones:   len(r.latest),
		Accepted: r.accepted,
		Stale:    r.stale,
		Invalid:  r.invalid,
	}
}
