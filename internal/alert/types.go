// Package alert tracks sensor-raised alerts through their lifecycle.
package alert

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"droneops-console/internal/telemetry"
)

// Status is the lifecycle position of an alert.
type Status string

// Alert statuses. Transitions only ever move forward: ACTIVE -> SENT -> NEUTRALISED.
const (
	StatusActive      Status = "ACTIVE"
	StatusSent        Status = "SENT"
	StatusNeutralised Status = "NEUTRALISED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusActive, StatusSent, StatusNeutralised}

// Rank orders statuses along the lifecycle. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusActive:
		return 1
	case StatusSent:
		return 2
	case StatusNeutralised:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the lifecycle statuses.
func (s Status) Valid() bool { return s.Rank() > 0 }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusNeutralised }

// ParseStatus accepts any casing and the NEUTRALIZED spelling.
func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ACTIVE":
		return StatusActive, nil
	case "SENT":
		return StatusSent, nil
	case "NEUTRALISED", "NEUTRALIZED":
		return StatusNeutralised, nil
	}
	return "", fmt.Errorf("unknown alert status %q", v)
}

// UnmarshalJSON normalises status spelling on the way in.
func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == "" {
		*s = ""
		return nil
	}
	st, err := ParseStatus(v)
	if err != nil {
		// Keep the raw value; Validate rejects it with context.
		*s = Status(v)
		return nil
	}
	*s = st
	return nil
}

// SensorSummary is the denormalised sensor and area data shipped with an alert.
type SensorSummary struct {
	Name     string   `json:"name,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	AreaID   string   `json:"area_id,omitempty"`
	AreaName string   `json:"area_name,omitempty"`
}

// Alert is one classified event raised by a sensor.
type Alert struct {
	ID           string          `json:"id"`
	SensorID     string          `json:"sensor_id"`
	SensorCode   string          `json:"sensor_code"`
	Type         string          `json:"type"`
	Message      string          `json:"message"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	DecisionNote string          `json:"decision_note,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Sensor       *SensorSummary  `json:"sensor,omitempty"`
}

// Validate checks the fields the coordinator keys and orders on.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("alert id missing")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("alert %s: unknown status %q", a.ID, a.Status)
	}
	return nil
}

func (a Alert) clone() Alert {
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		a.DecidedAt = &t
	}
	if a.Sensor != nil {
		s := *a.Sensor
		a.Sensor = &s
	}
	a.Metadata = slices.Clone(a.Metadata)
	return a
}

// EventKind names a push event.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "statusChanged"
)

// Event is an alert push event.
type Event struct {
	Kind  EventKind `json:"kind"`
	Alert Alert     `json:"alert"`
}

// SortKey selects the snapshot ordering.
type SortKey string

const (
	SortCreatedAt SortKey = "createdAt"
	SortDecidedAt SortKey = "decidedAt"
)

// Query filters a snapshot fetch. An empty Status means every status.
type Query struct {
	Status Status
	Limit  int
	Skip   int
	Sort   SortKey
	Desc   bool
}

// Matches reports whether a falls inside the query's status filter.
func (q Query) Matches(a Alert) bool {
	return q.Status == "" || a.Status == q.Status
}

// Page is one page of a snapshot fetch.
type Page struct {
	Alerts  []Alert `json:"alerts"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}

// AssignmentState tracks a dispatch request.
type AssignmentState string

const (
	AssignmentRequested    AssignmentState = "requested"
	AssignmentAcknowledged AssignmentState = "acknowledged"
	AssignmentFailed       AssignmentState = "failed"
	AssignmentSuperseded   AssignmentState = "superseded"
)

// Assignment binds an alert to the drone sent against it.
type Assignment struct {
	AlertID     string                  `json:"alert_id"`
	Drone       telemetry.DroneIdentity `json:"drone"`
	RequestedAt time.Time               `json:"requested_at"`
	State       AssignmentState         `json:"state"`
	Error       string                  `json:"error,omitempty"`
}

// Live reports whether the assignment still blocks a new dispatch.
func (a Assignment) Live() bool {
	return a.State == AssignmentRequested || a.State == AssignmentAcknowledged
}

// Source says where a status change came from.
type Source string

const (
	SourceSnapshot   Source = "snapshot"
	SourcePush       Source = "push"
	SourceDispatch   Source = "dispatch"
	SourceNeutralise Source = "neutralise"
)

// Transition is one applied status change. From is empty for a newly seen alert.
type Transition struct {
	AlertID    string    `json:"alert_id"`
	SensorCode string    `json:"sensor_code,omitempty"`
	Type       string    `json:"type,omitempty"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	Source     Source    `json:"source"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"ts"`
}

// ApplyResult reports what happened to an upsert.
type ApplyResult string

const (
	Applied   ApplyResult = "applied"
	Unchanged ApplyResult = "unchanged"
	Dropped   ApplyResult = "dropped"
	Rejected  ApplyResult = "invalid"
)
