package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"calremind/internal/task/scheduler"
)

// DefaultNotifier is what an omitted notifier section means.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "10m",
		DedupMaxEntries: 2000,
	}
}

// Validate checks cross-field constraints the decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if te := cfg.TaskEngine; te != nil {
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		if te.Workers < 0 || te.QueueSize < 0 {
			add(errors.New("task_engine: workers and queue_size must be >= 0"))
		}
	}

	r := cfg.Reminder
	dur("reminder.fire_timeout", r.FireTimeout)
	dur("reminder.rescan_timeout", r.RescanTimeout)
	dur("reminder.past_tolerance", r.PastTolerance)
	if r.Parallelism < 0 || r.MaxPending < 0 {
		add(errors.New("reminder: parallelism and max_pending must be >= 0"))
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("reminder.timezone: %w", err))
		}
	}
	if spec := r.Schedule(); spec != "" {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			add(fmt.Errorf("reminder.rescan_schedule: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Permission.Source)) {
	case "", "legacy", "static":
	case "file":
		if strings.TrimSpace(cfg.Permission.Path) == "" {
			add(errors.New("permission.path: required for source \"file\""))
		}
	default:
		add(fmt.Errorf("permission.source: unknown source %q", cfg.Permission.Source))
	}

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
		dur("notifier.telegram.timeout", n.Telegram.Timeout)
		if n.Telegram.Enabled {
			if strings.TrimSpace(n.Telegram.Token) == "" {
				add(errors.New("notifier.telegram.token: required when enabled"))
			}
			if n.Telegram.ChatID == 0 {
				add(errors.New("notifier.telegram.chat_id: required when enabled"))
			}
		}
	}

	if d := cfg.Import.DefaultReminder; d != nil && *d < 0 {
		add(errors.New("import.default_reminder: must be >= 0"))
	}
	dur("import.debounce", cfg.Import.Debounce)

	if st := cfg.Status; st.Enabled && strings.TrimSpace(st.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(st.Addr)); err != nil {
			add(fmt.Errorf("status.addr: %w", err))
		}
	}

	return errors.Join(errs...)
}
