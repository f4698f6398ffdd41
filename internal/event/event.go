// Package event holds the calendar event record the reminder engine consumes.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"calremind/internal/recurrence"
)

var (
	ErrMissingID       = errors.New("event: id required")
	ErrMissingStart    = errors.New("event: start required")
	ErrNegativeOffset  = errors.New("event: reminder offset must be >= 0")
	ErrUnknownTimeZone = errors.New("event: unknown time zone")
)

// Event is one calendar entry. Zero times mean "absent".
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Start is the absolute instant of the first (or only) occurrence.
	Start time.Time `json:"start"`
	// TimeZone is the IANA zone recurrences are laid out in.
	TimeZone string    `json:"time_zone,omitempty"`
	End      time.Time `json:"end,omitempty"`

	// ReminderMinutes is nil when the event has no reminder.
	ReminderMinutes *int `json:"reminder_minutes,omitempty"`

	// Recurrence is persisted RRULE text; empty for one-shot events.
	Recurrence    string    `json:"recurrence,omitempty"`
	RecurrenceEnd time.Time `json:"recurrence_end,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Minutes is a helper for building ReminderMinutes literals.
func Minutes(n int) *int { return &n }

func (e Event) HasReminder() bool { return e.ReminderMinutes != nil }

// Offset returns the reminder lead time (0 when there is no reminder).
func (e Event) Offset() time.Duration {
	if e.ReminderMinutes == nil {
		return 0
	}
	return time.Duration(*e.ReminderMinutes) * time.Minute
}

func (e Event) IsRecurring() bool { return strings.TrimSpace(e.Recurrence) != "" }

// Location resolves TimeZone, falling back to the location Start carries.
func (e Event) Location() *time.Location {
	if tz := strings.TrimSpace(e.TimeZone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if loc := e.Start.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

// Rule decodes the recurrence text. ok is false for one-shot events.
func (e Event) Rule() (recurrence.Rule, bool, error) {
	return recurrence.DecodeOptional(e.Recurrence)
}

// ValidateRecord checks only what a stored record needs. Recurrence text is
// not inspected; unparseable rules degrade to one-shot at schedule time.
func (e Event) ValidateRecord() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrMissingID
	}
	if e.Start.IsZero() {
		return ErrMissingStart
	}
	if e.ReminderMinutes != nil && *e.ReminderMinutes < 0 {
		return ErrNegativeOffset
	}
	return nil
}

// Validate is ValidateRecord plus time zone and recurrence checks.
func (e Event) Validate() error {
	if err := e.ValidateRecord(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(e.TimeZone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownTimeZone, tz)
		}
	}
	rule, ok, err := e.Rule()
	if err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	if ok {
		if err := rule.ValidFor(e.Start); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Clone returns a copy that does not share the ReminderMinutes pointer.
func (e Event) Clone() Event {
	if e.ReminderMinutes != nil {
		e.ReminderMinutes = Minutes(*e.ReminderMinutes)
	}
	return e
}

// SameContent compares every field except UpdatedAt.
func (e Event) SameContent(o Event) bool {
	if e.ID != o.ID || e.Title != o.Title || e.Description != o.Description {
		return false
	}
	if !e.End.Equal(o.End) {
		return false
	}
	return !NeedsReschedule(e, o)
}

// NeedsReschedule reports whether the edit from prev to next touches any field
// the reminder schedule is derived from.
func NeedsReschedule(prev, next Event) bool {
	if !prev.Start.Equal(next.Start) || prev.TimeZone != next.TimeZone {
		return true
	}
	if strings.TrimSpace(prev.Recurrence) != strings.TrimSpace(next.Recurrence) {
		return true
	}
	if !prev.RecurrenceEnd.Equal(next.RecurrenceEnd) {
		return true
	}
	switch {
	case prev.ReminderMinutes == nil && next.ReminderMinutes == nil:
		return false
	case prev.ReminderMinutes == nil || next.ReminderMinutes == nil:
		return true
	default:
		return *prev.ReminderMinutes != *next.ReminderMinutes
	}
}

// Change describes a store mutation as seen by subscribers.
type Change struct {
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted,omitempty"`
	Reschedule bool   `json:"reschedule"`
}
