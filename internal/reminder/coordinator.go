// Package reminder keeps exactly one outstanding trigger per reminder-bearing
// event and reacts to lifecycle signals: event edits, fired triggers, boot,
// app start and permission grants.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"calremind/internal/event"
	"calremind/internal/eventbus"
	"calremind/internal/occurrence"
	"calremind/internal/recurrence"
	"calremind/internal/trigger"
	logx "calremind/pkg/logx"
)

const defaultParallelism = 4

// Coordinator owns the state machine NoTrigger -> TriggerPending -> Fired for
// every event with a reminder. Work for one event id is serialized; distinct
// ids run concurrently.
type Coordinator struct {
	store  Store
	sched  trigger.Scheduler
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	parallel int
	locks    keyLock

	mu        sync.Mutex
	states    map[string]Status
	malformed map[string]string // id -> rule text already reported
}

type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notify = n }
}

// WithParallelism bounds concurrent per-event work during Rescan.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parallel = n
		}
	}
}

func New(store Store, sched trigger.Scheduler, log logx.Logger, bus eventbus.Bus, opts ...Option) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		store:     store,
		sched:     sched,
		bus:       bus,
		log:       log.With(logx.String("comp", "reminder")),
		now:       time.Now,
		parallel:  defaultParallelism,
		states:    map[string]Status{},
		malformed: map[string]string{},
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// Reconcile recomputes the next fire time for ev and installs it, replacing
// whatever trigger the id had. Scheduling failures are returned but leave the
// event in NoTrigger; they are not fatal.
func (c *Coordinator) Reconcile(ctx context.Context, ev event.Event) (Status, error) {
	unlock := c.locks.lock(ev.ID)
	defer unlock()
	return c.reconcileLocked(ctx, ev, c.now())
}

// Recompute loads id from the store and reconciles it. A missing event has
// its trigger canceled and its state dropped.
func (c *Coordinator) Recompute(ctx context.Context, id string) (Status, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	ev, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("load event %s: %w", id, err)
	}
	if !ok {
		c.forgetLocked(ctx, id)
		return Status{EventID: id, State: NoTrigger, Reason: "event deleted", UpdatedAt: c.now()}, nil
	}
	return c.reconcileLocked(ctx, ev, c.now())
}

// Forget cancels id's trigger and drops all state for it.
func (c *Coordinator) Forget(ctx context.Context, id string) {
	unlock := c.locks.lock(id)
	defer unlock()
	c.forgetLocked(ctx, id)
}

// HandleFired is the inbound "trigger fired" message. A trigger whose event
// was deleted or edited since scheduling is stale and exits early.
func (c *Coordinator) HandleFired(ctx context.Context, f trigger.Fired) error {
	unlock := c.locks.lock(f.EventID)
	defer unlock()

	ev, ok, err := c.store.Get(ctx, f.EventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", f.EventID, err)
	}
	if !ok {
		c.log.Debug("stale trigger: event gone", logx.String("event_id", f.EventID))
		c.dropState(f.EventID)
		return nil
	}
	if !ev.HasReminder() {
		c.log.Debug("stale trigger: reminder removed", logx.String("event_id", f.EventID))
		c.dropState(f.EventID)
		return nil
	}

	rule, hasRule := c.rule(ev)
	occ := f.Payload.OccurrenceAt
	if occ.IsZero() {
		occ = f.FireAt.Add(ev.Offset())
	}
	if stale(ev, hasRule, occ, f.FireAt) {
		c.log.Debug("stale trigger: event edited", logx.String("event_id", ev.ID), logx.Time("fire_at", f.FireAt))
		_, err := c.reconcileLocked(ctx, ev, c.now())
		return err
	}

	eventbus.Publish(c.bus, eventbus.TypeTriggerFired, f)
	c.deliver(ctx, ev, hasRule, occ, f.FireAt)

	if !hasRule {
		c.setState(Status{EventID: ev.ID, State: Fired, OccurrenceAt: occ, FireAt: f.FireAt})
		return nil
	}
	after := c.now()
	if occ.After(after) {
		after = occ
	}
	_, err = c.installLocked(ctx, ev, rule, hasRule, after)
	return err
}

// State reports the last decision for id.
func (c *Coordinator) State(id string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	return st, ok
}

// Snapshot lists every tracked event ordered by id.
func (c *Coordinator) Snapshot() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (c *Coordinator) reconcileLocked(ctx context.Context, ev event.Event, now time.Time) (Status, error) {
	if !ev.HasReminder() {
		c.cancel(ctx, ev.ID)
		c.dropState(ev.ID)
		return Status{EventID: ev.ID, State: NoTrigger, Reason: "no reminder", UpdatedAt: now}, nil
	}
	rule, hasRule := c.rule(ev)
	return c.installLocked(ctx, ev, rule, hasRule, now)
}

// installLocked finds the first occurrence strictly after after and installs
// its trigger. Any existing trigger for the id is canceled first.
func (c *Coordinator) installLocked(ctx context.Context, ev event.Event, rule recurrence.Rule, hasRule bool, after time.Time) (Status, error) {
	c.cancel(ctx, ev.ID)

	occ, ok := occurrence.ForEvent(ev, rule, hasRule, after)
	if !ok {
		reason := "start passed"
		if hasRule {
			reason = "no further occurrence"
		}
		return c.setState(Status{EventID: ev.ID, State: NoTrigger, Reason: reason}), nil
	}
	fireAt := occ.Add(-ev.Offset())
	if !fireAt.After(c.now()) {
		// Offset reaches back past now: no valid future trigger.
		return c.setState(Status{EventID: ev.ID, State: NoTrigger, OccurrenceAt: occ, Reason: "fire time passed"}), nil
	}

	if !c.sched.CanScheduleExact() {
		c.log.Debug("exact scheduling not granted; reminder not guaranteed", logx.String("event_id", ev.ID))
	}
	p := trigger.Payload{EventID: ev.ID, Title: ev.Title, OccurrenceAt: occ, Recurring: hasRule}
	if err := c.sched.Schedule(ctx, ev.ID, fireAt, p); err != nil {
		c.log.Warn("schedule failed; reminder not guaranteed",
			logx.String("event_id", ev.ID), logx.Time("fire_at", fireAt), logx.Err(err))
		st := c.setState(Status{EventID: ev.ID, State: NoTrigger, OccurrenceAt: occ, FireAt: fireAt, Reason: err.Error()})
		return st, fmt.Errorf("schedule %s: %w", ev.ID, err)
	}
	c.log.Debug("trigger installed", logx.String("event_id", ev.ID), logx.Time("occurrence", occ), logx.Time("fire_at", fireAt))
	return c.setState(Status{EventID: ev.ID, State: TriggerPending, OccurrenceAt: occ, FireAt: fireAt}), nil
}

func (c *Coordinator) forgetLocked(ctx context.Context, id string) {
	c.cancel(ctx, id)
	c.dropState(id)
	c.mu.Lock()
	delete(c.malformed, id)
	c.mu.Unlock()
}

func (c *Coordinator) cancel(ctx context.Context, id string) {
	if err := c.sched.Cancel(ctx, id); err != nil {
		c.log.Warn("cancel trigger failed", logx.String("event_id", id), logx.Err(err))
	}
}

// rule decodes ev's recurrence. Malformed text is reported once per
// (id, text) and the event is treated as one-shot.
func (c *Coordinator) rule(ev event.Event) (recurrence.Rule, bool) {
	rule, ok, err := ev.Rule()
	if err == nil {
		return rule, ok
	}
	c.mu.Lock()
	seen := c.malformed[ev.ID] == ev.Recurrence
	c.malformed[ev.ID] = ev.Recurrence
	c.mu.Unlock()
	if !seen {
		c.log.Warn("malformed recurrence; treating as one-shot",
			logx.String("event_id", ev.ID), logx.String("rule", ev.Recurrence), logx.Err(err))
	}
	return recurrence.Rule{}, false
}

func (c *Coordinator) deliver(ctx context.Context, ev event.Event, recurring bool, occ, fireAt time.Time) {
	if c.notify == nil {
		return
	}
	r := Reminder{
		EventID:      ev.ID,
		Title:        ev.Title,
		Description:  ev.Description,
		OccurrenceAt: occ,
		FireAt:       fireAt,
		Offset:       ev.Offset(),
		Recurring:    recurring,
		TimeZone:     ev.Location().String(),
	}
	if err := c.notify.Notify(ctx, r); err != nil {
		c.log.Warn("reminder delivery failed", logx.String("event_id", ev.ID), logx.Err(err))
		return
	}
	eventbus.Publish(c.bus, eventbus.TypeReminderDelivered, r)
}

func (c *Coordinator) setState(st Status) Status {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = c.now()
	}
	c.mu.Lock()
	prev, had := c.states[st.EventID]
	c.states[st.EventID] = st
	c.mu.Unlock()
	if !had || prev.State != st.State || !prev.FireAt.Equal(st.FireAt) {
		eventbus.Publish(c.bus, eventbus.TypeReminderState, st)
	}
	return st
}

func (c *Coordinator) dropState(id string) {
	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()
}

// stale reports whether a fired trigger no longer matches ev.
func stale(ev event.Event, recurring bool, occ, fireAt time.Time) bool {
	if !fireAt.Equal(occ.Add(-ev.Offset())) {
		return true
	}
	return !recurring && !ev.Start.Equal(occ)
}
