// Package sink exports the live picture: telemetry, alert transitions,
// dispatch outcomes and drone commands.
package sink

import (
	"time"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

// TelemetryWriter handles accepted telemetry samples.
type TelemetryWriter interface {
	WriteTelemetry(telemetry.Sample) error
}

// Optional: writers may support batch mode for telemetry.
type batchTelemetryWriter interface {
	WriteTelemetryBatch([]telemetry.Sample) error
}

// TransitionWriter handles applied alert status changes.
type TransitionWriter interface {
	WriteTransition(alert.Transition) error
}

// Writer is a sink that accepts every row kind.
type Writer interface {
	TelemetryWriter
	TransitionWriter
	command.Writer
	dispatch.Writer
}

// StatusWriter receives operator-picture summaries between rows.
type StatusWriter interface {
	SetAlertCounts(map[alert.Status]int)
	SetStaleDrones([]string)
}

// AdminStatusWriter allows writers to receive admin UI status updates.
type AdminStatusWriter interface {
	SetAdminStatus(listening bool)
}

// TelemetryRow is the flat export shape of a sample. Field names match the
// push payload so recorded logs can be replayed through the decoder.
type TelemetryRow struct {
	DroneID          string            `json:"drone_id"`
	DroneCode        string            `json:"drone_code,omitempty"`
	Lat              telemetry.Reading `json:"lat"`
	Lon              telemetry.Reading `json:"lon"`
	Altitude         telemetry.Reading `json:"altitude"`
	GroundSpeed      telemetry.Reading `json:"ground_speed"`
	Battery          telemetry.Reading `json:"battery"`
	FlightMode       string            `json:"flight_mode,omitempty"`
	GPSFix           telemetry.Reading `json:"gps_fix"`
	Satellites       telemetry.Reading `json:"satellites"`
	WindSpeed        telemetry.Reading `json:"wind_speed"`
	DistanceToTarget telemetry.Reading `json:"distance_to_target"`
	Status           string            `json:"status,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// RowFromSample flattens a sample for export.
func RowFromSample(s telemetry.Sample) TelemetryRow {
	return TelemetryRow{
		DroneID:          s.Drone.ID,
		DroneCode:        s.Drone.Code,
		Lat:              s.Lat,
		Lon:              s.Lon,
		Altitude:         s.Altitude,
		GroundSpeed:      s.GroundSpeed,
		Battery:          s.Battery,
		FlightMode:       s.FlightMode,
		GPSFix:           s.GPSFix,
		Satellites:       s.Satellites,
		WindSpeed:        s.WindSpeed,
		DistanceToTarget: s.DistanceToTarget,
		Status:           s.Status,
		Timestamp:        s.Timestamp,
	}
}
