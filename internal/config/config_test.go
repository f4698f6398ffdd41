package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "calremind/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./remindd.db
reminder:
  rescan_schedule: "@every 15m"
  fire_timeout: 10s
  parallelism: 4
permission:
  source: file
  path: ./exact_alarm
notifier:
  enabled: true
  workers: 1
  dedup_window: 10m
  telegram:
    enabled: false
import:
  paths: [./work.ics]
  watch: true
  default_reminder: 15
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func noEnv(string) string { return "" }

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "remindd.yaml", sampleYAML))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "@every 15m", cfg.Reminder.RescanSchedule)
	assert.Equal(t, 4, cfg.Reminder.Parallelism)
	assert.Equal(t, "file", cfg.Permission.Source)
	assert.Equal(t, []string{"./work.ics"}, cfg.Import.Paths)
	require.NotNil(t, cfg.Import.DefaultReminder)
	assert.Equal(t, 15, *cfg.Import.DefaultReminder)
	assert.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "remindd.json", `{"logging":{"level":"info"},"bogus":1}`))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestLoadRejectsTrailingData(t *testing.T) {
	m := NewConfigManager(writeFile(t, "remindd.json", `{} {}`))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]*Config{
		"bad driver":      {Storage: &StorageConfig{Driver: "redis"}},
		"file no path":    {Storage: &StorageConfig{Driver: "file"}},
		"bad duration":    {Reminder: ReminderConfig{FireTimeout: "soon"}},
		"negative":        {Reminder: ReminderConfig{FireTimeout: "-1s"}},
		"bad cron":        {Reminder: ReminderConfig{RescanSchedule: "every day"}},
		"bad zone":        {Reminder: ReminderConfig{Timezone: "Mars/Olympus"}},
		"bad permission":  {Permission: PermissionConfig{Source: "android"}},
		"flag no path":    {Permission: PermissionConfig{Source: "file"}},
		"telegram no tok": {Notifier: &NotifierConfig{Telegram: TelegramConfig{Enabled: true, ChatID: 1}}},
		"status bad addr": {Status: StatusConfig{Enabled: true, Addr: "localhost"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(&Config{}))
	assert.NoError(t, Validate(&Config{Reminder: ReminderConfig{RescanSchedule: "0 */6 * * *"}}))
	assert.NoError(t, Validate(&Config{Reminder: ReminderConfig{RescanSchedule: "off"}}))
}

func TestRescanScheduleDefaultsOn(t *testing.T) {
	assert.Equal(t, DefaultRescanSchedule, ReminderConfig{}.Schedule())
	assert.Equal(t, "@every 1h", ReminderConfig{RescanSchedule: " @every 1h "}.Schedule())
	assert.Empty(t, ReminderConfig{RescanSchedule: "OFF"}.Schedule())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:       "warn",
		EnvStoragePath:    "/var/lib/remindd/events",
		EnvTelegramToken:  "123:abc",
		EnvTelegramChatID: "-1001",
	}
	cfg := &Config{}
	require.NoError(t, ApplyEnv(cfg, func(k string) string { return env[k] }))

	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/remindd/events", cfg.Storage.Path)
	require.NotNil(t, cfg.Notifier)
	assert.True(t, cfg.Notifier.Enabled)
	assert.True(t, cfg.Notifier.Telegram.Enabled)
	assert.Equal(t, int64(-1001), cfg.Notifier.Telegram.ChatID)
	assert.NoError(t, Validate(cfg))

	env[EnvTelegramChatID] = "chat"
	assert.Error(t, ApplyEnv(&Config{}, func(k string) string { return env[k] }))
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Reminder: ReminderConfig{RescanSchedule: "@every 1h"},
		Notifier: &NotifierConfig{Telegram: TelegramConfig{Token: "secret"}},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "notifier", "reminder"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"reminder"}, RequiresRestart(changed))

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	path := writeFile(t, "remindd.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	assert.False(t, m.Reload(context.Background()), "unchanged content")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
	assert.True(t, m.Reload(context.Background()))
	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o644))
	assert.False(t, m.Reload(context.Background()))
	assert.Equal(t, "debug", m.Get().Logging.Level)

	m.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "remindd.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"logging":{"level":"error"}}`), 0o644)
		select {
		case cfg := <-sub:
			return cfg.Logging.Level == "error"
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
