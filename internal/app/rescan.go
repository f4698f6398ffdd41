package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"calremind/internal/task/engine"
	logx "calremind/pkg/logx"
)

// rescanner single-flights full re-scans on the task engine.
//
// A request while a re-scan is queued joins it. A request while one is
// running marks it dirty, and exactly one more re-scan follows, so a
// permission grant landing mid-scan still reaches the events already visited.
type rescanner struct {
	enqueue func(engine.Task) error
	run     func(context.Context) error
	timeout time.Duration
	log     logx.Logger
	// retryAfter spaces attempts when the engine queue is full.
	retryAfter time.Duration

	mu      sync.Mutex
	queued  bool
	running bool
	again   bool
}

func newRescanner(enqueue func(engine.Task) error, run func(context.Context) error, timeout time.Duration, log logx.Logger) *rescanner {
	return &rescanner{enqueue: enqueue, run: run, timeout: timeout, log: log, retryAfter: time.Second}
}

func (r *rescanner) request(reason string) {
	r.mu.Lock()
	switch {
	case r.queued:
		r.mu.Unlock()
		r.log.Debug("rescan already queued", logx.String("reason", reason))
		return
	case r.running:
		r.again = true
		r.mu.Unlock()
		r.log.Debug("rescan rerun requested", logx.String("reason", reason))
		return
	}
	r.queued = true
	r.mu.Unlock()

	err := r.enqueue(engine.Task{
		Name:    rescanTaskName,
		Key:     rescanTaskName,
		Timeout: r.timeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapAllow, RetryMax: -1, KeepStale: true},
		Run:     r.loop,
	})
	if err != nil {
		r.mu.Lock()
		r.queued = false
		r.mu.Unlock()
		if !errors.Is(err, engine.ErrQueueFull) {
			r.log.Warn("rescan not queued", logx.String("reason", reason), logx.Err(err))
			return
		}
		r.log.Warn("rescan not queued; retrying", logx.String("reason", reason), logx.Duration("after", r.retryAfter))
		time.AfterFunc(r.retryAfter, func() { r.request(reason) })
		return
	}
	r.log.Debug("rescan queued", logx.String("reason", reason))
}

func (r *rescanner) loop(ctx context.Context) error {
	r.mu.Lock()
	r.queued, r.running = false, true
	r.mu.Unlock()

	err := r.run(ctx)

	r.mu.Lock()
	again := r.again
	r.running, r.again = false, false
	r.mu.Unlock()
	if again {
		r.request("rerun")
	}
	return err
}
