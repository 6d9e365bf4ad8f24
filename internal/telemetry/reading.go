package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type readingState uint8

const (
	readingUnknown readingState = iota
	readingKnown
	readingInvalid
)

// Reading is a numeric telemetry field that may be unknown. Upstream feeds
// send numbers, numeric text, empty strings or nothing at all; unparsable
// text is kept as unknown and flagged, never turned into zero.
type Reading struct {
	value float64
	state readingState
}

// KnownReading returns a reading holding v.
func KnownReading(v float64) Reading {
	return Reading{value: v, state: readingKnown}
}

// Unknown returns a reading with no value.
func Unknown() Reading {
	return Reading{}
}

// ParseReading converts free text to a reading. Blank text is unknown;
// text that is not a finite number is unknown and flagged invalid.
func ParseReading(text string) Reading {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "null") {
		return Reading{}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Reading{state: readingInvalid}
	}
	return KnownReading(v)
}

// Value returns the number and whether it is known.
func (r Reading) Value() (float64, bool) {
	return r.value, r.state == readingKnown
}

// Known reports whether the reading holds a number.
func (r Reading) Known() bool { return r.state == readingKnown }

// Invalid reports whether the reading arrived as unparsable text.
func (r Reading) Invalid() bool { return r.state == readingInvalid }

// Or returns the value, or def when unknown.
func (r Reading) Or(def float64) float64 {
	if r.state != readingKnown {
		return def
	}
	return r.value
}

// Ptr returns a pointer to the value, or nil when unknown.
func (r Reading) Ptr() *float64 {
	if r.state != readingKnown {
		return nil
	}
	v := r.value
	return &v
}

// String renders the value or "?" when unknown.
func (r Reading) String() string {
	if r.state != readingKnown {
		return "?"
	}
	return strconv.FormatFloat(r.value, 'f', -1, 64)
}

// MarshalJSON writes the number, or null when unknown.
func (r Reading) MarshalJSON() ([]byte, error) {
	if r.state != readingKnown {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// UnmarshalJSON accepts a number, numeric text or null. Anything else
// yields an invalid reading rather than an error so one bad field does
// not sink the whole sample.
func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = Reading{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*r = Reading{state: readingInvalid}
			return nil
		}
		*r = ParseReading(s)
	default:
		*r = ParseReading(string(data))
	}
	return nil
}
