package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRiderNotFound means the referenced rider has no durable row.
	ErrRiderNotFound = errors.New("rider not found")
	// ErrRideNotFound means no durable row carries the ride code.
	ErrRideNotFound = errors.New("ride not found")
	// ErrNoActiveRide means the rider exists but has no ride association.
	ErrNoActiveRide = errors.New("no active ride for rider")
)

// ValidationError reports missing required fields. Rejected at the boundary,
// no state is mutated.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// IntegrityError reports a violated ride invariant, most often a ride whose
// owner row is missing. It indicates a bug or a race, not a user mistake, and
// is never silently repaired: guessing at an owner could misattribute
// destination and stops.
type IntegrityError struct {
	RideCode string
	UserName string
	Owner    string
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ride %q integrity: %s (rider=%q owner=%q)", e.RideCode, e.Reason, e.UserName, e.Owner)
}
