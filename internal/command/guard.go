// Package command gates operator commands to airborne drones.
package command

import (
	"sync"
	"time"
)

// Kind names an operator command.
type Kind string

const (
	DropPayload Kind = "drop_payload"
	Recall      Kind = "recall"
)

// DefaultCooldown is the window applied when none is configured.
const DefaultCooldown = 10 * time.Second

// Outcome is the result of one pass through the guard.
type Outcome struct {
	Issued    bool          `json:"issued"`
	Remaining time.Duration `json:"-"`
	// Err is the action's error. It never affects the cooldown.
	Err error `json:"-"`
}

// RemainingMs returns the remaining cooldown in milliseconds, rounded up so
// a rejected pass never reports zero.
func (o Outcome) RemainingMs() int64 {
	if o.Remaining <= 0 {
		return 0
	}
	return int64((o.Remaining + time.Millisecond - 1) / time.Millisecond)
}

type guardKey struct {
	drone string
	kind  Kind
}

// Guard rate-limits commands per (drone, kind). Each pair moves
// READY -> COOLING on an issuance attempt and back to READY once the
// window has passed. The attempt, not confirmed delivery, starts the
// window, so a flaky link cannot be used to flood a drone.
type Guard struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[guardKey]time.Time
}

// NewGuard creates a guard. A non-positive window means DefaultCooldown;
// a nil clock means time.Now.
func NewGuard(window time.Duration, now func() time.Time) *Guard {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{window: window, now: now, last: make(map[guardKey]time.Time)}
}

// Window returns the configured cooldown.
func (g *Guard) Window() time.Duration { return g.window }

// TryIssue invokes action unless the pair is cooling down. The issuance
// time is recorded before action runs, so concurrent callers for the same
// pair cannot both get through.
func (g *Guard) TryIssue(droneID string, kind Kind, action func() error) Outcome {
	key := guardKey{drone: droneID, kind: kind}

	g.mu.Lock()
	now := g.now()
	if last, ok := g.last[key]; ok {
		if remaining := g.window - now.Sub(last); remaining > 0 {
			g.mu.Unlock()
			return Outcome{Remaining: remaining}
		}
	}
	g.last[key] = now
	g.mu.Unlock()

	var err error
	if action != nil {
		err = action()
	}
	return Outcome{Issued: true, Err: err}
}

// Remaining reports how long the pair still has to wait, zero when READY.
func (g *Guard) Remaining(droneID string, kind Kind) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[guardKey{drone: droneID, kind: kind}]
	if !ok {
		return 0
	}
	if remaining := g.window - g.now().Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}
