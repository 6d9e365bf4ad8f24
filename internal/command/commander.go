package command

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
	"droneops-console/internal/telemetry"
)

// Sender delivers a command to the network boundary.
type Sender interface {
	SendCommand(ctx context.Context, kind Kind, drone telemetry.DroneIdentity) error
}

// Row records one command attempt for the export sinks.
type Row struct {
	DroneID     string    `json:"drone_id"`
	DroneCode   string    `json:"drone_code,omitempty"`
	Kind        Kind      `json:"kind"`
	Issued      bool      `json:"issued"`
	RemainingMs int64     `json:"remaining_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"ts"`
}

// Writer receives command rows.
type Writer interface {
	WriteCommand(Row) error
}

// Commander issues drop-payload and recall commands through a Guard.
type Commander struct {
	guard   *Guard
	sender  Sender
	timeout time.Duration
	writer  Writer
	log     *slog.Logger
}

// NewCommander wires a guard to a sender. writer may be nil.
func NewCommander(guard *Guard, sender Sender, timeout time.Duration, writer Writer, log *slog.Logger) *Commander {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Commander{guard: guard, sender: sender, timeout: timeout, writer: writer, log: logging.OrDefault(log)}
}

// DropPayload asks the drone to release its payload.
func (c *Commander) DropPayload(ctx context.Context, drone telemetry.DroneIdentity) Outcome {
	return c.Issue(ctx, DropPayload, drone)
}

// Recall orders the drone back to base.
func (c *Commander) Recall(ctx context.Context, drone telemetry.DroneIdentity) Outcome {
	return c.Issue(ctx, Recall, drone)
}

// Issue passes a command through the guard. A cooling pair yields
// Issued=false with the remaining wait; delivery errors are reported in
// Err but the cooldown still applies.
func (c *Commander) Issue(ctx context.Context, kind Kind, drone telemetry.DroneIdentity) Outcome {
	if !drone.Valid() {
		return Outcome{Err: faults.New("command."+string(kind), faults.Validation, drone.ID, "missing drone id", nil)}
	}

	out := c.guard.TryIssue(drone.ID, kind, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.sender.SendCommand(callCtx, kind, drone)
	})

	row := Row{
		DroneID:   drone.ID,
		DroneCode: drone.Code,
		Kind:      kind,
		Issued:    out.Issued,
		Timestamp: time.Now().UTC(),
	}
	switch {
	case !out.Issued:
		row.RemainingMs = out.RemainingMs()
		metrics.ObserveCommand(string(kind), metrics.ResultCooling)
		err := faults.New("command."+string(kind), faults.RateLimited, drone.ID,
			"cooling down for "+strconv.FormatInt(row.RemainingMs, 10)+"ms", nil)
		c.log.Info("command rate limited", "kind", kind, "remaining_ms", row.RemainingMs, "error", err)
	case out.Err != nil:
		row.Error = out.Err.Error()
		metrics.ObserveCommand(string(kind), metrics.ResultError)
		c.log.Warn("command delivery failed", "kind", kind, "drone_id", drone.ID, "error", out.Err)
	default:
		metrics.ObserveCommand(string(kind), metrics.ResultIssued)
		c.log.Info("command issued", "kind", kind, "drone_id", drone.ID)
	}

	if c.writer != nil {
		if err := c.writer.WriteCommand(row); err != nil {
			c.log.Warn("command row write failed", "error", err)
		}
	}
	return out
}

// Remaining exposes the guard's remaining wait for a pair.
func (c *Commander) Remaining(droneID string, kind Kind) time.Duration {
	return c.guard.Remaining(droneID, kind)
}
