// Package clock provides time-ordered identifier generation and an
// injectable clock seam used throughout the engine, so tests can control
// "now" without sleeping and production code gets a single, consistent
// notion of monotonic UTC time.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock access. All timestamps the engine persists
// (created_at, updated_at, heartbeat_at, queued/started/finished_at) go
// through a Clock so tests can inject a fixed or stepped implementation.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock backed by time.Now.
type systemClock struct{}

// New returns the production system clock.
func New() Clock {
	return systemClock{}
}

// Now returns the current time in UTC.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewID generates a time-ordered, lexically sortable 128-bit identifier
// (UUIDv7). The stores (entities, definitions, workflows, runs, raw items)
// mint each new row's id with it before the INSERT that stores the row.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// MustNewID is NewID for call sites that can only fail on system-level
// entropy exhaustion, which is itself fatal. Unused in request paths; only
// acceptable at startup (e.g. generating a worker instance id).
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(err)
	}

	return id
}
