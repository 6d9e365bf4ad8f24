// Package dispatch sends drones against alerts and tracks which drone
// serves which alert.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"droneops-console/internal/alert"
	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
	"droneops-console/internal/telemetry"
)

// Outcome is the result of one dispatch request. Drone is nil unless the
// backend acknowledged and reported an identity.
type Outcome struct {
	Drone      *telemetry.DroneIdentity
	Assignment alert.Assignment
	Err        error
}

// Row records a dispatch attempt for the export sinks.
type Row struct {
	AlertID   string    `json:"alert_id"`
	DroneID   string    `json:"drone_id,omitempty"`
	DroneCode string    `json:"drone_code,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Writer receives dispatch rows.
type Writer interface {
	WriteDispatch(Row) error
}

// Tracked is an assigned drone with its latest position, if any.
type Tracked struct {
	AlertID    string            `json:"alert_id"`
	Assignment alert.Assignment  `json:"assignment"`
	Sample     *telemetry.Sample `json:"sample,omitempty"`
}

// Controller issues dispatches through the alert coordinator.
type Controller struct {
	alerts   *alert.Coordinator
	registry *telemetry.Registry
	writer   Writer
	log      *slog.Logger

	mu      sync.RWMutex
	byDrone map[string]string
}

// NewController wires a coordinator and telemetry registry. writer may be nil.
func NewController(alerts *alert.Coordinator, registry *telemetry.Registry, writer Writer, log *slog.Logger) *Controller {
	return &Controller{
		alerts:   alerts,
		registry: registry,
		writer:   writer,
		log:      logging.OrDefault(log),
		byDrone:  make(map[string]string),
	}
}

// Dispatch requests a drone for alertID. Failures are not retried.
func (c *Controller) Dispatch(ctx context.Context, alertID string) Outcome {
	as, err := c.alerts.RequestDispatch(ctx, alertID)
	out := Outcome{Assignment: as, Err: err}
	if err == nil && as.Drone.Valid() {
		d := as.Drone
		out.Drone = &d
		c.mu.Lock()
		c.byDrone[d.ID] = alertID
		c.mu.Unlock()
	}

	metrics.ObserveDispatch(outcomeLabel(err))
	row := Row{
		AlertID:   alertID,
		DroneID:   as.Drone.ID,
		DroneCode: as.Drone.Code,
		State:     string(as.State),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		row.Error = err.Error()
		if row.State == "" {
			row.State = "refused"
		}
	}
	if c.writer != nil {
		if werr := c.writer.WriteDispatch(row); werr != nil {
			c.log.Warn("dispatch row write failed", "error", werr)
		}
	}
	return out
}

func outcomeLabel(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}

// AlertFor returns the alert the drone was last dispatched against, as
// long as that assignment is still acknowledged.
func (c *Controller) AlertFor(droneID string) (string, bool) {
	c.mu.RLock()
	id, ok := c.byDrone[droneID]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	as, ok := c.alerts.Assignment(id)
	if !ok || as.State != alert.AssignmentAcknowledged || as.Drone.ID != droneID {
		return "", false
	}
	return id, true
}

// Tracked lists acknowledged assignments joined with the drone's latest
// telemetry, ordered by request time.
func (c *Controller) Tracked() []Tracked {
	var out []Tracked
	for _, as := range c.alerts.Assignments() {
		if as.State != alert.AssignmentAcknowledged {
			continue
		}
		t := Tracked{AlertID: as.AlertID, Assignment: as}
		if c.registry != nil && as.Drone.Valid() {
			if s, ok := c.registry.Latest(as.Drone.ID); ok {
				t.Sample = &s
			}
		}
		out = append(out, t)
	}
	return out
}
