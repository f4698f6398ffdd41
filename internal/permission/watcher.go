// Package permission observes the capability that exact reminder triggers
// depend on and asks for a full re-scan whenever it is granted again.
package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"calremind/internal/eventbus"
	logx "calremind/pkg/logx"
)

// Watcher tracks one boolean capability.
//
// Only a false->true transition has an effect: onGrant runs exactly once per
// transition. Revocation only updates state; existing triggers may still fire
// and new schedule attempts fail on their own.
type Watcher struct {
	src     Source
	onGrant func(ctx context.Context)
	log     logx.Logger
	bus     eventbus.Bus

	granted   atomic.Bool
	permanent atomic.Bool

	runMu   sync.Mutex
	running bool
}

func NewWatcher(src Source, onGrant func(ctx context.Context), log logx.Logger, bus eventbus.Bus) *Watcher {
	if src == nil {
		src = Legacy{}
	}
	w := &Watcher{src: src, onGrant: onGrant, log: log.With(logx.String("comp", "permission")), bus: bus}
	if _, ok := src.(Notifier); !ok {
		w.permanent.Store(true)
	}
	w.granted.Store(w.permanent.Load() || src.Granted())
	return w
}

// Granted is the current capability state. It satisfies trigger.Gate.
func (w *Watcher) Granted() bool {
	return w.permanent.Load() || w.granted.Load()
}

// Watching reports whether Run is consuming change notifications.
func (w *Watcher) Watching() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.running
}

// Run observes the source until ctx is done. Without a change mechanism it
// marks the capability permanently granted and returns immediately.
func (w *Watcher) Run(ctx context.Context) error {
	n, ok := w.src.(Notifier)
	if !ok {
		w.markPermanent("source has no change notification")
		return nil
	}
	ch, err := n.Changes(ctx)
	if errors.Is(err, ErrUnsupported) {
		w.markPermanent(err.Error())
		return nil
	}
	if err != nil {
		return err
	}

	w.runMu.Lock()
	w.running = true
	w.runMu.Unlock()
	defer func() {
		w.runMu.Lock()
		w.running = false
		w.runMu.Unlock()
	}()

	w.log.Info("permission watcher started", logx.Bool("granted", w.granted.Load()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			w.Observe(ctx, v)
		}
	}
}

// Observe records a new capability value and reacts to a grant transition.
func (w *Watcher) Observe(ctx context.Context, granted bool) {
	if w.permanent.Load() {
		return
	}
	prev := w.granted.Swap(granted)
	switch {
	case !prev && granted:
		w.log.Info("exact scheduling permission granted; requesting re-scan")
		eventbus.Publish(w.bus, eventbus.TypePermissionGranted, true)
		if w.onGrant != nil {
			w.onGrant(ctx)
		}
	case prev && !granted:
		w.log.Warn("exact scheduling permission revoked; reminders not guaranteed")
		eventbus.Publish(w.bus, eventbus.TypePermissionRevoked, false)
	}
}

func (w *Watcher) markPermanent(reason string) {
	w.permanent.Store(true)
	w.granted.Store(true)
	w.log.Info("permission treated as permanently granted", logx.String("reason", reason))
}
