// Package trigger is the boundary to whatever facility wakes the daemon at a
// precise instant. The reminder coordinator only sees the Scheduler interface.
package trigger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("trigger: exact scheduling not permitted")
	ErrQuotaExceeded    = errors.New("trigger: pending trigger quota exceeded")
	ErrPastFireTime     = errors.New("trigger: fire time is in the past")
	ErrInvalidID        = errors.New("trigger: event id required")
)

// Payload travels with a trigger and comes back unchanged when it fires.
type Payload struct {
	EventID      string    `json:"event_id"`
	Title        string    `json:"title,omitempty"`
	OccurrenceAt time.Time `json:"occurrence_at"`
	Recurring    bool      `json:"recurring,omitempty"`
}

// Scheduler installs at most one trigger per event id.
//
// Schedule with an id that already has a trigger replaces it. Cancel of an
// unknown id is a no-op. A Schedule error is never fatal to callers: the
// reminder is simply not guaranteed until the next reconciliation.
type Scheduler interface {
	Schedule(ctx context.Context, eventID string, fireAt time.Time, p Payload) error
	Cancel(ctx context.Context, eventID string) error
	CanScheduleExact() bool
}

// Pending is one outstanding trigger.
type Pending struct {
	EventID string    `json:"event_id"`
	FireAt  time.Time `json:"fire_at"`
	Payload Payload   `json:"payload"`
}

// Lister is implemented by schedulers that can enumerate outstanding triggers.
type Lister interface {
	Pending() []Pending
}

// Fired is the inbound "trigger fired" message delivered to the coordinator.
type Fired struct {
	EventID string
	FireAt  time.Time
	Payload Payload
	FiredAt time.Time
}

// FireFunc handles a fired trigger. It runs under a bounded deadline carried by ctx.
type FireFunc func(ctx context.Context, f Fired) error

// Gate reports whether exact scheduling is currently permitted.
type Gate interface {
	Granted() bool
}

// GateFunc adapts a function to Gate.
type GateFunc func() bool

func (f GateFunc) Granted() bool { return f() }
