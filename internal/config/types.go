package config

import "strings"

// Config is the remindd config file. Unknown keys are rejected on load.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Reminder   ReminderConfig    `json:"reminder"`
	Permission PermissionConfig  `json:"permission"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Import     ImportConfig      `json:"import"`
	Boot       BootConfig        `json:"boot"`
	Status     StatusConfig      `json:"status"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the event store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindd.db" }
//
// Omitted means the in-memory driver.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskEngineConfig controls the worker pool fired triggers and re-scans run on.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// DefaultRescanSchedule applies when reminder.rescan_schedule is empty.
const DefaultRescanSchedule = "@every 15m"

// ReminderConfig controls trigger installation and re-scans.
type ReminderConfig struct {
	// RescanSchedule is a cron spec or "@every <duration>" for the periodic
	// safety re-scan. Empty means DefaultRescanSchedule; "off" disables it.
	RescanSchedule string `json:"rescan_schedule,omitempty"`
	// Timezone evaluates RescanSchedule. Defaults to the local zone.
	Timezone string `json:"timezone,omitempty"`

	FireTimeout   string `json:"fire_timeout,omitempty"`
	RescanTimeout string `json:"rescan_timeout,omitempty"`
	Parallelism   int    `json:"parallelism,omitempty"`

	MaxPending    int    `json:"max_pending,omitempty"`
	PastTolerance string `json:"past_tolerance,omitempty"`
}

// Schedule is the effective re-scan schedule; "" when disabled.
func (r ReminderConfig) Schedule() string {
	spec := strings.TrimSpace(r.RescanSchedule)
	switch strings.ToLower(spec) {
	case "":
		return DefaultRescanSchedule
	case "off", "none", "disabled":
		return ""
	}
	return spec
}

// PermissionConfig picks where the exact-scheduling capability comes from.
//
//   - "legacy" (default): always granted, nothing watched
//   - "static": fixed to Granted
//   - "file": flag file at Path containing "granted" or "denied"
type PermissionConfig struct {
	Source  string `json:"source,omitempty"`
	Granted bool   `json:"granted,omitempty"`
	Path    string `json:"path,omitempty"`
}

// NotifierConfig controls the delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true
// with the log sink only.
type NotifierConfig struct {
	Enabled         bool           `json:"enabled"`
	Workers         int            `json:"workers"`
	QueueSize       int            `json:"queue_size"`
	RatePerSec      int            `json:"rate_per_sec"`
	RetryMax        int            `json:"retry_max"`
	RetryBase       string         `json:"retry_base"`
	RetryMaxDelay   string         `json:"retry_max_delay"`
	SendTimeout     string         `json:"send_timeout,omitempty"`
	DedupWindow     string         `json:"dedup_window"`
	DedupMaxEntries int            `json:"dedup_max_entries"`
	PersistDedup    bool           `json:"persist_dedup,omitempty"`
	Telegram        TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// ImportConfig lists .ics files loaded into the store at start.
type ImportConfig struct {
	Paths []string `json:"paths,omitempty"`
	// Watch re-imports a file whenever it changes.
	Watch bool `json:"watch,omitempty"`
	// DefaultReminder (minutes) applies to events without a usable VALARM.
	DefaultReminder *int   `json:"default_reminder,omitempty"`
	Debounce        string `json:"debounce,omitempty"`
}

// BootConfig controls boot detection.
type BootConfig struct {
	// StatePath stores the last seen boot id. Empty disables boot detection.
	StatePath string `json:"state_path,omitempty"`
	// BootIDPath defaults to /proc/sys/kernel/random/boot_id.
	BootIDPath string `json:"boot_id_path,omitempty"`
}

// StatusConfig enables the read-only HTTP status endpoint.
//
//	"status": { "enabled": true, "addr": "127.0.0.1:6061", "pprof": true }
//
// A non-loopback addr requires a token.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
