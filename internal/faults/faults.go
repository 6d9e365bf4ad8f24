// Package faults holds the typed failure taxonomy shared by the console components.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind string

const (
	// Transient covers timeouts, connection loss and non-2xx responses. Safe to retry manually.
	Transient Kind = "transient_network"
	// IllegalTransition marks an alert status change that would move backwards.
	IllegalTransition Kind = "illegal_transition"
	// Validation marks a malformed inbound payload.
	Validation Kind = "validation"
	// RateLimited marks a command rejected by the cooldown guard. It is only
	// logged; callers see the remaining wait instead of an error.
	RateLimited Kind = "rate_limited"
	// Precondition marks a request refused locally because the entity is in the wrong state.
	Precondition Kind = "precondition"
	// InFlight marks a duplicate request while an identical one is outstanding.
	InFlight Kind = "in_flight"
	// NotFound marks an unknown entity id.
	NotFound Kind = "not_found"
	// Rejected marks a backend response that explicitly reported failure.
	Rejected Kind = "rejected"
)

// Error wraps an operation, the entity it concerned and the underlying cause.
type Error struct {
	Op   string
	Kind Kind
	ID   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.ID != "" {
		s += " " + e.ID
	}
	s += ": " + string(e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error.
func New(op string, kind Kind, id, msg string, err error) error {
	return &Error{Op: op, Kind: kind, ID: id, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
