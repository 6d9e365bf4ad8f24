package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"droneops-console/internal/faults"
)

// RawSample is the telemetry payload as it arrives on the push stream.
// Identity and timestamp stay raw until Normalize checks them.
type RawSample struct {
	DroneID          json.RawMessage `json:"drone_id"`
	DroneCode        json.RawMessage `json:"drone_code"`
	Lat              Reading         `json:"lat"`
	Lon              Reading         `json:"lon"`
	Altitude         Reading         `json:"altitude"`
	GroundSpeed      Reading         `json:"ground_speed"`
	Battery          Reading         `json:"battery"`
	FlightMode       string          `json:"flight_mode"`
	GPSFix           Reading         `json:"gps_fix"`
	Satellites       Reading         `json:"satellites"`
	WindSpeed        Reading         `json:"wind_speed"`
	DistanceToTarget Reading         `json:"distance_to_target"`
	Status           string          `json:"status"`
	Timestamp        json.RawMessage `json:"timestamp"`
}

// epochMillisCutoff separates epoch seconds from epoch milliseconds.
const epochMillisCutoff = 1e11

// Normalize validates a raw payload and converts it into a Sample.
// A missing or malformed drone id or timestamp is a validation failure.
func Normalize(raw RawSample) (Sample, error) {
	id, ok := scalarText(raw.DroneID)
	if !ok || !(DroneIdentity{ID: id}).Valid() {
		return Sample{}, faults.New("telemetry.normalize", faults.Validation, "", "missing or malformed drone_id", nil)
	}
	code, _ := scalarText(raw.DroneCode)

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return Sample{}, faults.New("telemetry.normalize", faults.Validation, id, "bad timestamp", err)
	}

	s := Sample{
		Drone:            DroneIdentity{ID: id, Code: code},
		Lat:              raw.Lat,
		Lon:              raw.Lon,
		Altitude:         raw.Altitude,
		GroundSpeed:      raw.GroundSpeed,
		Battery:          raw.Battery,
		FlightMode:       strings.TrimSpace(raw.FlightMode),
		GPSFix:           raw.GPSFix,
		Satellites:       raw.Satellites,
		WindSpeed:        raw.WindSpeed,
		DistanceToTarget: raw.DistanceToTarget,
		Status:           strings.TrimSpace(raw.Status),
		Timestamp:        ts,
	}
	if s.Lat.Known() && (s.Lat.Or(0) < -90 || s.Lat.Or(0) > 90) {
		s.Lat = Reading{state: readingInvalid}
	}
	if s.Lon.Known() && (s.Lon.Or(0) < -180 || s.Lon.Or(0) > 180) {
		s.Lon = Reading{state: readingInvalid}
	}
	s.Unparsed = unparsedFields(s)
	return s, nil
}

// DecodeSample parses a JSON telemetry payload and normalizes it.
func DecodeSample(data []byte) (Sample, error) {
	var raw RawSample
	if err := json.Unmarshal(data, &raw); err != nil {
		return Sample{}, faults.New("telemetry.decode", faults.Validation, "", "undecodable payload", err)
	}
	return Normalize(raw)
}

func unparsedFields(s Sample) []string {
	fields := []struct {
		name string
		r    Reading
	}{
		{"lat", s.Lat},
		{"lon", s.Lon},
		{"altitude", s.Altitude},
		{"ground_speed", s.GroundSpeed},
		{"battery", s.Battery},
		{"gps_fix", s.GPSFix},
		{"satellites", s.Satellites},
		{"wind_speed", s.WindSpeed},
		{"distance_to_target", s.DistanceToTarget},
	}
	var out []string
	for _, f := range fields {
		if f.r.Invalid() {
			out = append(out, f.name)
		}
	}
	return out
}

// scalarText returns the text of a JSON string or number.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// maxEpochMillis keeps millisecond timestamps representable as time.Time
// nanoseconds.
const maxEpochMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	text, ok := scalarText(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp missing")
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("timestamp %q not finite", text)
		}
		if f <= 0 {
			return time.Time{}, fmt.Errorf("timestamp %q not positive", text)
		}
		if f >= maxEpochMillis {
			return time.Time{}, fmt.Errorf("timestamp %q out of range", text)
		}
		if f >= epochMillisCutoff {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q not recognised", text)
}
