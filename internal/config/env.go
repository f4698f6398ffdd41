package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	EnvLogLevel       = "REMINDD_LOG_LEVEL"
	EnvStoragePath    = "REMINDD_STORAGE_PATH"
	EnvTelegramToken  = "REMINDD_TELEGRAM_TOKEN"
	EnvTelegramChatID = "REMINDD_TELEGRAM_CHAT_ID"
)

// ApplyEnv overlays REMINDD_* variables onto cfg. Empty variables are ignored.
// A token or chat id enables the Telegram sink.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil || getenv == nil {
		return nil
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvStoragePath)); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "file"}
		}
		cfg.Storage.Path = v
	}

	token := strings.TrimSpace(getenv(EnvTelegramToken))
	chat := strings.TrimSpace(getenv(EnvTelegramChatID))
	if token == "" && chat == "" {
		return nil
	}
	if cfg.Notifier == nil {
		n := DefaultNotifier()
		cfg.Notifier = &n
	}
	tg := &cfg.Notifier.Telegram
	if token != "" {
		tg.Token = token
	}
	if chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvTelegramChatID, chat, err)
		}
		tg.ChatID = id
	}
	tg.Enabled = true
	return nil
}
