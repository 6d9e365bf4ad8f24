// Telemetry samples keyed by drone identity
package telemetry

import (
	"slices"
	"strings"
	"time"
)

// DroneIdentity names one drone. ID is the durable key telemetry merges on;
// Code is the human-facing call sign shown to operators.
type DroneIdentity struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
}

// Valid reports whether the identity can be used as a registry key.
func (d DroneIdentity) Valid() bool {
	id := strings.TrimSpace(d.ID)
	return id != "" && id != "null" && id != "undefined"
}

// Label returns the code when known, otherwise the id.
func (d DroneIdentity) Label() string {
	if d.Code != "" {
		return d.Code
	}
	return d.ID
}

// Sample is one timestamped snapshot of a drone's physical and operational state.
type Sample struct {
	Drone            DroneIdentity `json:"drone"`
	Lat              Reading       `json:"lat"`
	Lon              Reading       `json:"lon"`
	Altitude         Reading       `json:"altitude"`
	GroundSpeed      Reading       `json:"ground_speed"`
	Battery          Reading       `json:"battery"`
	FlightMode       string        `json:"flight_mode,omitempty"`
	GPSFix           Reading       `json:"gps_fix"`
	Satellites       Reading       `json:"satellites"`
	WindSpeed        Reading       `json:"wind_speed"`
	DistanceToTarget Reading       `json:"distance_to_target"`
	Status           string        `json:"status,omitempty"`
	Timestamp        time.Time     `json:"ts"`
	// Unparsed lists fields that arrived as text that was not a number.
	Unparsed []string `json:"unparsed,omitempty"`
}

// Age returns how old the sample is relative to now.
func (s Sample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// HasPosition reports whether both coordinates are known.
func (s Sample) HasPosition() bool {
	return s.Lat.Known() && s.Lon.Known()
}

func (s Sample) clone() Sample {
	s.Unparsed = slices.Clone(s.Unparsed)
	return s
}
