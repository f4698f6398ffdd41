package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"calremind/internal/reminder"
	logx "calremind/pkg/logx"
)

// LogSink writes reminders to the structured log.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, r reminder.Reminder, text string) error {
	s.Log.Info("reminder",
		logx.String("event_id", r.EventID),
		logx.String("title", r.Title),
		logx.Time("occurrence", r.OccurrenceAt),
		logx.Bool("recurring", r.Recurring),
		logx.String("text", text),
	)
	return nil
}

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, self-hosted API servers).
	APIURL  string
	Timeout time.Duration
}

// Telegram sends reminders as chat messages. It never polls for updates.
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b}, nil
}

func (*Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, _ reminder.Reminder, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// telebot has no per-call context; the client timeout bounds the request.
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text, &tele.SendOptions{
		ThreadID:              t.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}
