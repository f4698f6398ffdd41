package app

import (
	"fmt"
	"strings"
	"time"

	"calremind/internal/config"
	"calremind/internal/ics"
	"calremind/internal/notifier"
	"calremind/internal/observability/status"
	"calremind/internal/permission"
	"calremind/internal/storage"
	"calremind/internal/task/engine"
	"calremind/internal/trigger"
	logx "calremind/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// reminderSettings are the resolved reminder.* values.
type reminderSettings struct {
	Schedule      string
	Timezone      string
	FireTimeout   time.Duration
	RescanTimeout time.Duration
	Parallelism   int
	Timer         trigger.TimerConfig
}

func mapReminderConfig(cfg *config.Config) (reminderSettings, error) {
	r := cfg.Reminder
	fire, err := config.ParseDurationOrDefault("reminder.fire_timeout", r.FireTimeout, 10*time.Second)
	if err != nil {
		return reminderSettings{}, err
	}
	rescan, err := config.ParseDurationOrDefault("reminder.rescan_timeout", r.RescanTimeout, 2*time.Minute)
	if err != nil {
		return reminderSettings{}, err
	}
	tol, err := config.ParseDurationOrDefault("reminder.past_tolerance", r.PastTolerance, 2*time.Second)
	if err != nil {
		return reminderSettings{}, err
	}
	return reminderSettings{
		Schedule:      r.Schedule(),
		Timezone:      strings.TrimSpace(r.Timezone),
		FireTimeout:   fire,
		RescanTimeout: rescan,
		Parallelism:   r.Parallelism,
		Timer: trigger.TimerConfig{
			MaxPending:    r.MaxPending,
			PastTolerance: tol,
			FireTimeout:   fire,
		},
	}, nil
}

func mapPermissionSource(cfg *config.Config, log logx.Logger) permission.Source {
	p := cfg.Permission
	switch strings.ToLower(strings.TrimSpace(p.Source)) {
	case "static":
		return permission.Static(p.Granted)
	case "file":
		return permission.NewFileSource(strings.TrimSpace(p.Path), log)
	default:
		return permission.Legacy{}
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 15*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 10*time.Minute); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapSinks always includes the log sink; Telegram is added when enabled.
func mapSinks(cfg *config.Config, log logx.Logger) ([]notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.LogSink{Log: log.With(logx.String("comp", "notifier.log"))}}
	if cfg.Notifier == nil || !cfg.Notifier.Telegram.Enabled {
		return sinks, nil
	}
	tg := cfg.Notifier.Telegram
	timeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", tg.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	t, err := notifier.NewTelegram(notifier.TelegramConfig{
		Token:    tg.Token,
		ChatID:   tg.ChatID,
		ThreadID: tg.ThreadID,
		APIURL:   tg.APIURL,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("notifier.telegram: %w", err)
	}
	return append(sinks, t), nil
}

func mapImportOptions(cfg *config.Config) (ics.Options, error) {
	debounce, err := config.ParseDurationField("import.debounce", cfg.Import.Debounce)
	if err != nil {
		return ics.Options{}, err
	}
	return ics.Options{DefaultReminder: cfg.Import.DefaultReminder, Debounce: debounce}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	st := cfg.Status
	return status.Config{
		Enabled: st.Enabled,
		Addr:    strings.TrimSpace(st.Addr),
		Token:   strings.TrimSpace(st.Token),
		Pprof:   st.Pprof,
	}
}
