package reminder

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calremind/internal/event"
	"calremind/internal/eventbus"
	"calremind/internal/permission"
	"calremind/internal/storage"
	"calremind/internal/trigger"
	logx "calremind/pkg/logx"
)

// monday is 2026-03-02, a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeScheduler struct {
	denied atomic.Bool

	mu        sync.Mutex
	pending   map[string]trigger.Pending
	schedules int
	replaced  int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: map[string]trigger.Pending{}}
}

func (s *fakeScheduler) Schedule(_ context.Context, id string, fireAt time.Time, p trigger.Payload) error {
	if s.denied.Load() {
		return trigger.ErrPermissionDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		s.replaced++
	}
	s.schedules++
	s.pending[id] = trigger.Pending{EventID: id, FireAt: fireAt, Payload: p}
	return nil
}

func (s *fakeScheduler) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return nil
}

func (s *fakeScheduler) CanScheduleExact() bool { return !s.denied.Load() }

func (s *fakeScheduler) Pending() []trigger.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trigger.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

func (s *fakeScheduler) get(id string) (trigger.Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok
}

// take removes id's trigger the way the OS does when it fires.
func (s *fakeScheduler) take(id string, firedAt time.Time) trigger.Fired {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[id]
	delete(s.pending, id)
	return trigger.Fired{EventID: id, FireAt: p.FireAt, Payload: p.Payload, FiredAt: firedAt}
}

func (s *fakeScheduler) scheduleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []Reminder
}

func (n *recordingNotifier) Notify(_ context.Context, r Reminder) error {
	n.mu.Lock()
	n.got = append(n.got, r)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) all() []Reminder {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Reminder(nil), n.got...)
}

type harness struct {
	store  *storage.Memory
	sched  *fakeScheduler
	clock  *fakeClock
	notes  *recordingNotifier
	coord  *Coordinator
	logBuf *bytes.Buffer
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		store:  storage.NewMemory(),
		sched:  newFakeScheduler(),
		clock:  &fakeClock{t: now},
		notes:  &recordingNotifier{},
		logBuf: &bytes.Buffer{},
	}
	log := logx.NewJSON(h.logBuf, "warn")
	h.coord = New(h.store, h.sched, log, nil,
		WithClock(h.clock.Now), WithNotifier(h.notes), WithParallelism(1))
	return h
}

func (h *harness) put(t *testing.T, ev event.Event) event.Event {
	t.Helper()
	_, _, err := h.store.Put(context.Background(), ev)
	require.NoError(t, err)
	return ev
}

func weekly(id string, start time.Time, days string, offset int) event.Event {
	return event.Event{
		ID:              id,
		Title:           id,
		Start:           start,
		TimeZone:        "UTC",
		ReminderMinutes: event.Minutes(offset),
		Recurrence:      "RRULE:FREQ=WEEKLY;BYDAY=" + days,
	}
}

func oneShot(id string, start time.Time, offset int) event.Event {
	return event.Event{ID: id, Title: id, Start: start, ReminderMinutes: event.Minutes(offset)}
}

func TestPastOneShotYieldsNoTrigger(t *testing.T) {
	h := newHarness(t, monday.Add(12*time.Hour))
	ev := h.put(t, oneShot("past", monday.Add(9*time.Hour), 10))

	st, err := h.coord.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, NoTrigger, st.State)
	assert.Zero(t, h.sched.scheduleCount(), "no schedule call for a past one-shot")
}

func TestFutureOneShotInstallsTrigger(t *testing.T) {
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("lunch", monday.Add(12*time.Hour), 30))

	st, err := h.coord.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, TriggerPending, st.State)

	p, ok := h.sched.get("lunch")
	require.True(t, ok)
	assert.True(t, p.FireAt.Equal(monday.Add(11*time.Hour+30*time.Minute)))
	assert.True(t, p.Payload.OccurrenceAt.Equal(ev.Start))
	assert.False(t, p.Payload.Recurring)
}

func TestOffsetPastNextOccurrenceIsNoTrigger(t *testing.T) {
	// Occurrence at 09:00 today, offset 120m, now 08:00: fire time already passed.
	h := newHarness(t, monday.Add(8*time.Hour))
	ev := h.put(t, weekly("w", monday.Add(9*time.Hour), "MO", 120))

	st, err := h.coord.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, NoTrigger, st.State)
	assert.Equal(t, "fire time passed", st.Reason)
	assert.Zero(t, h.sched.scheduleCount())
}

func TestRecurringFiredInstallsNextOccurrence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday.Add(8*time.Hour))
	ev := h.put(t, weekly("standup", monday.Add(9*time.Hour), "MO,WE", 15))

	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)
	first, ok := h.sched.get("standup")
	require.True(t, ok)
	require.True(t, first.FireAt.Equal(monday.Add(8*time.Hour+45*time.Minute)))

	h.clock.Set(first.FireAt.Add(time.Second))
	require.NoError(t, h.coord.HandleFired(ctx, h.sched.take("standup", h.clock.Now())))

	next, ok := h.sched.get("standup")
	require.True(t, ok, "a new trigger is installed")
	wednesday := monday.AddDate(0, 0, 2)
	assert.True(t, next.Payload.OccurrenceAt.Equal(wednesday.Add(9*time.Hour)), "got %s", next.Payload.OccurrenceAt)
	assert.True(t, next.FireAt.Equal(wednesday.Add(8*time.Hour+45*time.Minute)))
	assert.Len(t, h.sched.Pending(), 1, "old trigger is gone")

	st, ok := h.coord.State("standup")
	require.True(t, ok)
	assert.Equal(t, TriggerPending, st.State)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.True(t, notes[0].OccurrenceAt.Equal(monday.Add(9*time.Hour)))
	assert.True(t, notes[0].Recurring)
	assert.Equal(t, 15*time.Minute, notes[0].Offset)
}

func TestOneShotFiredIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("dentist", monday.Add(10*time.Hour), 60))
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)

	h.clock.Set(monday.Add(9 * time.Hour))
	require.NoError(t, h.coord.HandleFired(ctx, h.sched.take("dentist", h.clock.Now())))

	st, ok := h.coord.State("dentist")
	require.True(t, ok)
	assert.Equal(t, Fired, st.State)
	assert.Empty(t, h.sched.Pending())
	assert.Len(t, h.notes.all(), 1)

	// A later rescan keeps the terminal state.
	h.clock.Set(monday.Add(11 * time.Hour))
	_, err = h.coord.Rescan(ctx)
	require.NoError(t, err)
	st, _ = h.coord.State("dentist")
	assert.Equal(t, Fired, st.State)
}

func TestFiredForDeletedEventExitsEarly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("gone", monday.Add(10*time.Hour), 5))
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)
	f := h.sched.take("gone", monday.Add(10*time.Hour))

	_, err = h.store.Delete(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, h.coord.HandleFired(ctx, f))

	assert.Empty(t, h.notes.all())
	_, ok := h.coord.State("gone")
	assert.False(t, ok)
}

func TestFiredForEditedEventIsStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("moved", monday.Add(10*time.Hour), 5))
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)
	f := h.sched.take("moved", monday.Add(10*time.Hour))

	ev.Start = monday.Add(15 * time.Hour)
	h.put(t, ev)
	require.NoError(t, h.coord.HandleFired(ctx, f))

	assert.Empty(t, h.notes.all(), "old occurrence is not delivered")
	p, ok := h.sched.get("moved")
	require.True(t, ok)
	assert.True(t, p.Payload.OccurrenceAt.Equal(ev.Start))
}

func TestRecomputeMissingEventCancels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("x", monday.Add(10*time.Hour), 5))
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)

	_, err = h.store.Delete(ctx, "x")
	require.NoError(t, err)
	st, err := h.coord.Recompute(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, NoTrigger, st.State)
	assert.Empty(t, h.sched.Pending())
	assert.Empty(t, h.coord.Snapshot())
}

func TestReminderRemovedCancelsTrigger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, oneShot("x", monday.Add(10*time.Hour), 5))
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)

	ev.ReminderMinutes = nil
	h.put(t, ev)
	_, err = h.coord.Recompute(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, h.sched.Pending())
}

func TestAtMostOneTriggerPerEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := weekly("w", monday.Add(9*time.Hour), "TU,TH", 10)
	for i := 0; i < 20; i++ {
		ev.Start = monday.Add(time.Duration(9+i%5) * time.Hour)
		ev.ReminderMinutes = event.Minutes(i)
		h.put(t, ev)
		_, err := h.coord.Reconcile(ctx, ev)
		require.NoError(t, err)
		assert.Len(t, h.sched.Pending(), 1)
	}
	assert.Zero(t, h.sched.replaced, "existing trigger is canceled before install")
}

func TestConcurrentReconcileSameID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, weekly("w", monday.Add(9*time.Hour), "TU", 10))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.coord.Reconcile(ctx, ev)
		}()
	}
	wg.Wait()
	assert.Len(t, h.sched.Pending(), 1)
	assert.Zero(t, h.sched.replaced)
	assert.Zero(t, h.coord.locks.size(), "idle locks are released")
}

func TestRescanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	h.put(t, weekly("a", monday.Add(9*time.Hour), "MO,FR", 10))
	h.put(t, oneShot("b", monday.Add(20*time.Hour), 0))
	h.put(t, oneShot("past", monday.Add(-time.Hour), 0))
	h.put(t, event.Event{ID: "silent", Start: monday.Add(5 * time.Hour)})

	rep, err := h.coord.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 2, rep.Scheduled)
	assert.Equal(t, 1, rep.Skipped)
	first := pendingSet(h.sched.Pending())

	rep, err = h.coord.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scheduled)
	assert.Equal(t, first, pendingSet(h.sched.Pending()))
}

func TestRescanCancelsOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	require.NoError(t, h.sched.Schedule(ctx, "ghost", monday.Add(time.Hour), trigger.Payload{}))

	rep, err := h.coord.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Orphans)
	assert.Empty(t, h.sched.Pending())
}

func TestPermissionGrantReschedulesFailedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	h.sched.denied.Store(true)

	h.put(t, weekly("a", monday.Add(9*time.Hour), "TU", 10))
	h.put(t, weekly("b", monday.Add(9*time.Hour), "WE,FR", 10))
	h.put(t, oneShot("c", monday.Add(30*time.Hour), 60))

	rep, err := h.coord.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Failed)
	for _, st := range h.coord.Snapshot() {
		assert.Equal(t, NoTrigger, st.State, st.EventID)
	}

	w := permission.NewWatcher(permission.Static(false), func(ctx context.Context) {
		_, _ = h.coord.Rescan(ctx)
	}, logx.Nop(), nil)
	require.False(t, w.Granted())

	h.sched.denied.Store(false)
	w.Observe(ctx, true)

	assert.Len(t, h.sched.Pending(), 3)
	for _, st := range h.coord.Snapshot() {
		assert.Equal(t, TriggerPending, st.State, st.EventID)
	}
}

func TestMalformedRuleLoggedOnceAndTreatedAsOneShot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, monday)
	ev := h.put(t, event.Event{
		ID:              "bad",
		Start:           monday.Add(9 * time.Hour),
		ReminderMinutes: event.Minutes(0),
		Recurrence:      "FREQ=WEEKLY;BYDAY=MO",
	})

	for i := 0; i < 3; i++ {
		st, err := h.coord.Reconcile(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, TriggerPending, st.State)
	}
	p, ok := h.sched.get("bad")
	require.True(t, ok)
	assert.False(t, p.Payload.Recurring)
	assert.True(t, p.FireAt.Equal(ev.Start))
	assert.Equal(t, 1, strings.Count(h.logBuf.String(), "malformed recurrence"))

	ev.Recurrence = "RRULE:FREQ=SOMETIMES"
	_, err := h.coord.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(h.logBuf.String(), "malformed recurrence"))
}

func TestStatePublishedOnBus(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	store := storage.NewMemory()
	sched := newFakeScheduler()
	c := New(store, sched, logx.Nop(), bus, WithClock(func() time.Time { return monday }))
	ev := oneShot("x", monday.Add(time.Hour), 5)
	_, err := c.Reconcile(ctx, ev)
	require.NoError(t, err)
	_, err = c.Reconcile(ctx, ev)
	require.NoError(t, err)

	var states []Status
	for len(ch) > 0 {
		e := <-ch
		if e.Type == eventbus.TypeReminderState {
			states = append(states, e.Data.(Status))
		}
	}
	require.Len(t, states, 1, "unchanged decisions are not republished")
	assert.Equal(t, TriggerPending, states[0].State)
}

func TestTimerSchedulerEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	sched := trigger.NewTimerScheduler(trigger.TimerConfig{}, nil, nil, logx.Nop())
	t.Cleanup(sched.Close)

	delivered := make(chan Reminder, 1)
	c := New(store, sched, logx.Nop(), nil, WithNotifier(NotifierFunc(func(_ context.Context, r Reminder) error {
		delivered <- r
		return nil
	})))
	sched.SetHandler(c.HandleFired)

	ev := oneShot("soon", time.Now().Add(50*time.Millisecond), 0)
	_, _, err := store.Put(ctx, ev)
	require.NoError(t, err)
	st, err := c.Reconcile(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, TriggerPending, st.State)

	select {
	case r := <-delivered:
		assert.Equal(t, "soon", r.EventID)
		assert.Equal(t, "soon@"+strconv.FormatInt(ev.Start.Unix(), 10), r.Key())
	case <-time.After(3 * time.Second):
		t.Fatal("reminder not delivered")
	}
	require.Eventually(t, func() bool {
		s, ok := c.State("soon")
		return ok && s.State == Fired
	}, time.Second, 5*time.Millisecond)
}

func pendingSet(ps []trigger.Pending) map[string]time.Time {
	out := make(map[string]time.Time, len(ps))
	for _, p := range ps {
		out[p.EventID] = p.FireAt
	}
	return out
}
