package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calremind/internal/reminder"
	"calremind/internal/storage"
	logx "calremind/pkg/logx"
)

type memSink struct {
	mu       sync.Mutex
	failures int
	sent     []string
	calls    int
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Send(_ context.Context, _ reminder.Reminder, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("boom")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func sampleReminder(id string, occ time.Time) reminder.Reminder {
	return reminder.Reminder{
		EventID:      id,
		Title:        "Standup",
		OccurrenceAt: occ,
		FireAt:       occ.Add(-15 * time.Minute),
		Offset:       15 * time.Minute,
		TimeZone:     "UTC",
	}
}

func startService(t *testing.T, cfg Config, sink Sink, store DedupStore) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 100
	}
	s := New(cfg, []Sink{sink}, logx.Nop(), nil, store)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	sink := &memSink{}
	s := startService(t, Config{DedupWindow: time.Hour}, sink, nil)

	r := sampleReminder("e1", time.Now().Add(time.Hour))
	require.NoError(t, s.Notify(context.Background(), r))
	require.NoError(t, s.Notify(context.Background(), r), "duplicate is swallowed")

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	other := sampleReminder("e1", r.OccurrenceAt.Add(24*time.Hour))
	require.NoError(t, s.Notify(context.Background(), other))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	hist := s.Snapshot()
	require.Len(t, hist, 2)
	assert.Equal(t, "e1", hist[0].EventID)
	assert.Equal(t, "mem", hist[0].Sink)
}

func TestNotifyRetries(t *testing.T) {
	sink := &memSink{failures: 2}
	s := startService(t, Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, sink, nil)

	require.NoError(t, s.Notify(context.Background(), sampleReminder("e1", time.Now())))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, 3, sink.calls)
	sink.mu.Unlock()
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	store := storage.NewMemory()
	r := sampleReminder("e1", time.Now().Add(time.Hour))

	first := &memSink{}
	s1 := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute, PersistDedup: true}, []Sink{first}, logx.Nop(), nil, store)
	s1.Start(context.Background())
	require.NoError(t, s1.Notify(context.Background(), r))
	require.Eventually(t, func() bool {
		_, ok, _ := store.GetDedup(context.Background(), r.Key())
		return ok
	}, time.Second, 5*time.Millisecond)
	s1.Stop(context.Background())
	assert.Equal(t, 1, first.count())

	second := &memSink{}
	s2 := startService(t, Config{DedupWindow: time.Minute, PersistDedup: true}, second, store)
	require.NoError(t, s2.Notify(context.Background(), r))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, second.count())
}

func TestNotifyStates(t *testing.T) {
	s := New(Config{}, nil, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), sampleReminder("x", time.Now())), ErrDisabled)

	s = New(Config{Enabled: true}, nil, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), sampleReminder("x", time.Now())), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), sampleReminder("x", time.Now())), ErrStopped)
}

func TestFormat(t *testing.T) {
	occ := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := sampleReminder("e1", occ)
	r.TimeZone = "Europe/Berlin"
	r.Description = "room 4"
	got := Format(r)
	assert.Equal(t, "⏰ Standup\nMon 2 Mar 10:00 CET (in 15m)\nroom 4", got)

	r.Title = ""
	r.Offset = 90 * time.Minute
	assert.True(t, strings.HasPrefix(Format(r), "⏰ e1\n"))
	assert.Contains(t, Format(r), "(in 1h30m)")
}

func TestHumanOffset(t *testing.T) {
	for d, want := range map[time.Duration]string{
		5 * time.Minute:  "5m",
		2 * time.Hour:    "2h",
		48 * time.Hour:   "2d",
		25 * time.Hour:   "25h",
		61 * time.Minute: "1h1m",
	} {
		assert.Equal(t, want, humanOffset(d), d.String())
	}
}

func TestTelegramSink(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(b, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	require.NoError(t, err)
	r := sampleReminder("e1", time.Now())
	require.NoError(t, tg.Send(context.Background(), r, Format(r)))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasSuffix(path, "/sendMessage"), path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "Standup")
}

func TestNewTelegramValidates(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}
