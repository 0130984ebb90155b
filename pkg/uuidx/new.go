// Package uuidx produces time-ordered identifiers for runs and events.
package uuidx

import "github.com/google/uuid"

// New returns a fresh UUIDv7. The time-ordered layout keeps ids sortable
// by creation, which the event log relies on for run ids. Panics when the
// system entropy source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString is New rendered in the canonical string form.
func NewString() string {
	return New().String()
}
