package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"calremind/internal/task/engine"
	logx "calremind/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// Runner executes fire handlers. *engine.Service implements it.
type Runner interface {
	Enqueue(t engine.Task) error
}

type TimerConfig struct {
	// MaxPending caps outstanding triggers. 0 means unlimited.
	MaxPending int
	// PastTolerance accepts fire times up to this far in the past (fired at once).
	PastTolerance time.Duration
	// FireTimeout is the execution grant of one fire handler.
	FireTimeout time.Duration
}

type timerEntry struct {
	timer   *time.Timer
	ver     uint64
	fireAt  time.Time
	payload Payload
}

// TimerScheduler keeps triggers as in-process timers keyed by event id.
//
// Each Schedule bumps a per-id version; a timer callback whose version is no
// longer current is ignored, so a replaced or canceled trigger never fires.
//
// Timers measure elapsed monotonic time. After a host suspend or a wall-clock
// step a trigger fires late, relative to the wall clock; the periodic safety
// re-scan (reminder.rescan_schedule) reinstalls triggers against the current
// wall clock and bounds that drift.
type TimerScheduler struct {
	cfg    TimerConfig
	gate   Gate
	runner Runner
	log    logx.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*timerEntry
	vers    map[string]uint64
	handler FireFunc
	closed  bool

	warnMu   sync.Mutex
	lastWarn time.Time
}

type TimerOption func(*TimerScheduler)

// WithNow overrides the clock used for the past-fire-time check.
func WithNow(now func() time.Time) TimerOption {
	return func(s *TimerScheduler) { s.now = now }
}

// NewTimerScheduler builds a scheduler. A nil gate means always granted; a nil
// runner runs handlers on their own goroutine.
func NewTimerScheduler(cfg TimerConfig, gate Gate, runner Runner, log logx.Logger, opts ...TimerOption) *TimerScheduler {
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 10 * time.Second
	}
	if cfg.PastTolerance < 0 {
		cfg.PastTolerance = 0
	}
	s := &TimerScheduler{
		cfg:     cfg,
		gate:    gate,
		runner:  runner,
		log:     log.With(logx.String("comp", "trigger")),
		now:     time.Now,
		entries: map[string]*timerEntry{},
		vers:    map[string]uint64{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHandler installs the fire handler. Triggers firing before a handler is
// set are dropped with a warning.
func (s *TimerScheduler) SetHandler(fn FireFunc) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *TimerScheduler) CanScheduleExact() bool {
	return s.gate == nil || s.gate.Granted()
}

func (s *TimerScheduler) Schedule(ctx context.Context, eventID string, fireAt time.Time, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ErrInvalidID
	}
	if !s.CanScheduleExact() {
		return ErrPermissionDenied
	}
	delay := fireAt.Sub(s.now())
	if delay < -s.cfg.PastTolerance {
		return fmt.Errorf("%w: %s", ErrPastFireTime, fireAt.Format(time.RFC3339))
	}
	if delay < 0 {
		delay = 0
	}
	if p.EventID == "" {
		p.EventID = eventID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrStopped
	}
	prev, replacing := s.entries[eventID]
	if s.cfg.MaxPending > 0 && !replacing && len(s.entries) >= s.cfg.MaxPending {
		return ErrQuotaExceeded
	}
	if replacing {
		prev.timer.Stop()
	}
	ver := s.vers[eventID] + 1
	s.vers[eventID] = ver

	e := &timerEntry{ver: ver, fireAt: fireAt, payload: p}
	e.timer = time.AfterFunc(delay, func() { s.fire(eventID, ver) })
	s.entries[eventID] = e

	s.log.Debug("trigger scheduled", logx.String("event_id", eventID), logx.Time("fire_at", fireAt), logx.Bool("replaced", replacing))
	return nil
}

func (s *TimerScheduler) Cancel(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok {
		return nil
	}
	e.timer.Stop()
	delete(s.entries, eventID)
	// Bump so an already-running callback for the old timer is ignored.
	s.vers[eventID]++
	s.log.Debug("trigger canceled", logx.String("event_id", eventID))
	return nil
}

func (s *TimerScheduler) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Pending{EventID: id, FireAt: e.fireAt, Payload: e.payload})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// Close stops every outstanding timer. Later Schedule calls fail.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.closed = true
}

func (s *TimerScheduler) fire(eventID string, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[eventID]
	if !ok || e.ver != ver || s.vers[eventID] != ver {
		s.mu.Unlock()
		return
	}
	// Remove before dispatch: a handler that reschedules installs a fresh entry.
	delete(s.entries, eventID)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.log.Warn("trigger fired without handler", logx.String("event_id", eventID))
		return
	}
	f := Fired{EventID: eventID, FireAt: e.fireAt, Payload: e.payload, FiredAt: time.Now()}
	run := func(ctx context.Context) error { return handler(ctx, f) }

	if s.runner == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
			defer cancel()
			if err := run(ctx); err != nil {
				s.log.Warn("fire handler failed", logx.String("event_id", eventID), logx.Err(err))
			}
		}()
		return
	}
	err := s.runner.Enqueue(engine.Task{
		Name:    "trigger.fire",
		Key:     "trigger.fire:" + eventID,
		Timeout: s.cfg.FireTimeout,
		Run:     run,
		Opt:     engine.TaskOptions{RetryMax: -1, KeepStale: true},
	})
	if err == nil {
		return
	}
	s.reportEnqueueError(eventID, err)
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		return
	}
	// The entry is already gone, so a dropped fire would leave a recurring
	// event with no trigger. Run it here on the timer goroutine instead.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
	defer cancel()
	if err := run(ctx); err != nil {
		s.log.Warn("fire handler failed", logx.String("event_id", eventID), logx.Err(err))
	}
}

func (s *TimerScheduler) reportEnqueueError(eventID string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	if !s.lastWarn.IsZero() && now.Sub(s.lastWarn) < enqueueWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn = now
	s.warnMu.Unlock()

	level := s.log.Warn
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		level = s.log.Debug
	}
	level("fired trigger not dispatched", logx.String("event_id", eventID), logx.Err(err))
}
