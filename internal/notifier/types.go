package notifier

import "time"

// Config controls the async reminder delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	EventID string    `json:"event_id"`
	Sink    string    `json:"sink"`
	Text    string    `json:"text"`
}

// Bus topics published by the notifier.
const (
	TypeQueued  = "notifier.queued"
	TypeSent    = "notifier.sent"
	TypeFailed  = "notifier.failed"
	TypeDeduped = "notifier.deduped"
	TypeDropped = "notifier.dropped"
)

// NotificationEvent is the bus payload for notifier lifecycle events.
type NotificationEvent struct {
	Sink    string    `json:"sink,omitempty"`
	EventID string    `json:"event_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
