package storage

import (
	"context"

	"calremind/internal/event"
	"calremind/internal/eventbus"
)

// WithBus publishes an event.changed notification for every successful
// mutation of st. Reads pass through untouched.
func WithBus(st Store, bus eventbus.Bus) Store {
	if bus == nil {
		return st
	}
	return WithHook(st, func(ch event.Change) {
		eventbus.Publish(bus, eventbus.TypeEventChanged, ch)
	})
}

// WithHook calls fn synchronously after every successful mutation of st.
// Unlike the bus, a hook never drops a change; fn must not block.
func WithHook(st Store, fn func(event.Change)) Store {
	if fn == nil {
		return st
	}
	return &hookStore{Store: st, fn: fn}
}

type hookStore struct {
	Store
	fn func(event.Change)
}

func (s *hookStore) Put(ctx context.Context, ev event.Event) (event.Event, bool, error) {
	prev, existed, err := s.Store.Put(ctx, ev)
	if err != nil {
		return prev, existed, err
	}
	reschedule := !existed || event.NeedsReschedule(prev, ev)
	s.fn(event.Change{ID: ev.ID, Reschedule: reschedule})
	return prev, existed, nil
}

func (s *hookStore) Delete(ctx context.Context, id string) (bool, error) {
	existed, err := s.Store.Delete(ctx, id)
	if err != nil || !existed {
		return existed, err
	}
	s.fn(event.Change{ID: id, Deleted: true, Reschedule: true})
	return true, nil
}
