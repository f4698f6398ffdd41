package reminder

import (
	"context"
	"strconv"
	"time"

	"calremind/internal/event"
)

// State is the per-event reminder lifecycle.
type State int

const (
	NoTrigger State = iota
	TriggerPending
	Fired
)

func (s State) String() string {
	switch s {
	case TriggerPending:
		return "trigger_pending"
	case Fired:
		return "fired"
	default:
		return "no_trigger"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is what the coordinator last decided for one event.
type Status struct {
	EventID      string    `json:"event_id"`
	State        State     `json:"state"`
	OccurrenceAt time.Time `json:"occurrence_at,omitempty"`
	FireAt       time.Time `json:"fire_at,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Reminder is one delivered notification.
type Reminder struct {
	EventID      string        `json:"event_id"`
	Title        string        `json:"title,omitempty"`
	Description  string        `json:"description,omitempty"`
	OccurrenceAt time.Time     `json:"occurrence_at"`
	FireAt       time.Time     `json:"fire_at"`
	Offset       time.Duration `json:"offset"`
	Recurring    bool          `json:"recurring,omitempty"`
	TimeZone     string        `json:"time_zone,omitempty"`
}

// Key identifies one occurrence's reminder; notifiers dedup on it.
func (r Reminder) Key() string {
	return r.EventID + "@" + strconv.FormatInt(r.OccurrenceAt.Unix(), 10)
}

// Store is the read side of the event collection.
type Store interface {
	AllWithReminders(ctx context.Context) ([]event.Event, error)
	Get(ctx context.Context, id string) (event.Event, bool, error)
}

// Notifier delivers a fired reminder to the user.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r Reminder) error

func (f NotifierFunc) Notify(ctx context.Context, r Reminder) error { return f(ctx, r) }

// Report summarizes one full re-scan.
type Report struct {
	Scanned   int           `json:"scanned"`
	Scheduled int           `json:"scheduled"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Orphans   int           `json:"orphans"`
	Took      time.Duration `json:"took"`
}
