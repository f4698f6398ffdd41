package reminder

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"calremind/internal/event"
	"calremind/internal/eventbus"
	"calremind/internal/trigger"
	logx "calremind/pkg/logx"
)

// Rescan reconciles every reminder-bearing event against the scheduler.
//
// Events that should have a live trigger (recurring, or one-shot in the
// future) are reconciled; the rest have any trigger canceled. Pending triggers
// whose event no longer carries a reminder are canceled when the scheduler can
// list them. Running Rescan twice with no mutation in between yields the same
// scheduled set.
func (c *Coordinator) Rescan(ctx context.Context) (Report, error) {
	started := time.Now()
	evs, err := c.store.AllWithReminders(ctx)
	if err != nil {
		return Report{}, err
	}
	if !c.sched.CanScheduleExact() {
		c.log.Warn("exact scheduling not granted; reminders not guaranteed", logx.Int("events", len(evs)))
	}

	var scheduled, skipped, failed atomic.Int64
	live := make(map[string]struct{}, len(evs))
	now := c.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, ev := range evs {
		live[ev.ID] = struct{}{}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !c.shouldHaveTrigger(ev, now) {
				c.retire(gctx, ev.ID)
				skipped.Add(1)
				return nil
			}
			st, err := c.Reconcile(gctx, ev)
			switch {
			case err != nil:
				failed.Add(1)
			case st.State == TriggerPending:
				scheduled.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	rep := Report{
		Scanned:   len(evs),
		Scheduled: int(scheduled.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	if err == nil {
		rep.Orphans = c.sweepOrphans(ctx, live)
	}
	rep.Took = time.Since(started)

	c.log.Info("rescan finished",
		logx.Int("scanned", rep.Scanned),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Int("orphans", rep.Orphans),
		logx.Duration("took", rep.Took),
	)
	eventbus.Publish(c.bus, eventbus.TypeRescanFinished, rep)
	return rep, err
}

func (c *Coordinator) shouldHaveTrigger(ev event.Event, now time.Time) bool {
	if _, recurring := c.rule(ev); recurring {
		return true
	}
	return ev.Start.After(now)
}

// retire cancels any trigger for a one-shot event whose start has passed.
// A Fired state is kept.
func (c *Coordinator) retire(ctx context.Context, id string) {
	unlock := c.locks.lock(id)
	defer unlock()
	c.cancel(ctx, id)
	if st, ok := c.State(id); ok && st.State == Fired {
		return
	}
	c.setState(Status{EventID: id, State: NoTrigger, Reason: "start passed"})
}

// sweepOrphans cancels pending triggers whose event is not in live. Each
// candidate is re-checked under its lock so a concurrent create is not undone.
func (c *Coordinator) sweepOrphans(ctx context.Context, live map[string]struct{}) int {
	lister, ok := c.sched.(trigger.Lister)
	if !ok {
		return 0
	}
	n := 0
	for _, p := range lister.Pending() {
		if _, ok := live[p.EventID]; ok {
			continue
		}
		if c.sweepOne(ctx, p.EventID) {
			n++
		}
	}
	return n
}

func (c *Coordinator) sweepOne(ctx context.Context, id string) bool {
	unlock := c.locks.lock(id)
	defer unlock()
	ev, ok, err := c.store.Get(ctx, id)
	if err != nil {
		c.log.Warn("orphan check failed", logx.String("event_id", id), logx.Err(err))
		return false
	}
	if ok && ev.HasReminder() {
		return false
	}
	c.log.Info("canceling orphaned trigger", logx.String("event_id", id))
	c.forgetLocked(ctx, id)
	return true
}
