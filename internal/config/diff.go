package config

import (
	"reflect"
	"sort"
	"strings"

	logx "calremind/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage: nil means the memory driver.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if oldCfg.Reminder != newCfg.Reminder {
		r := newCfg.Reminder
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.String("reminder.rescan_schedule", strings.TrimSpace(r.RescanSchedule)),
			logx.String("reminder.timezone", strings.TrimSpace(r.Timezone)),
			logx.String("reminder.fire_timeout", strings.TrimSpace(r.FireTimeout)),
			logx.Int("reminder.parallelism", r.Parallelism),
			logx.Int("reminder.max_pending", r.MaxPending),
		)
	}

	if oldCfg.Permission != newCfg.Permission {
		changed = append(changed, "permission")
		attrs = append(attrs,
			logx.String("permission.source", newCfg.Permission.Source),
			logx.Bool("permission.granted", newCfg.Permission.Granted),
		)
	}

	// Notifier: nil means runtime defaults. Never log the Telegram token.
	defN := DefaultNotifier()
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = &defN
	}
	if newN == nil {
		newN = &defN
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
			logx.Bool("notifier.telegram_enabled", newN.Telegram.Enabled),
			logx.Bool("notifier.telegram_token_set", strings.TrimSpace(newN.Telegram.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Import, newCfg.Import) {
		changed = append(changed, "import")
		attrs = append(attrs,
			logx.Int("import.paths", len(newCfg.Import.Paths)),
			logx.Bool("import.watch", newCfg.Import.Watch),
		)
	}

	if oldCfg.Boot != newCfg.Boot {
		changed = append(changed, "boot")
		attrs = append(attrs, logx.Bool("boot.state_path_set", strings.TrimSpace(newCfg.Boot.StatePath) != ""))
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", strings.TrimSpace(newCfg.Status.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(newCfg.Status.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// RequiresRestart reports the changed sections that only take effect after a
// restart. logging and notifier are applied live.
func RequiresRestart(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, c := range changed {
		if c != "logging" && c != "notifier" {
			out = append(out, c)
		}
	}
	return out
}
