package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"calremind/internal/event"
)

// Memory keeps everything in process memory.
type Memory struct {
	mu     sync.RWMutex
	events map[string]event.Event
	dedup  map[string]int64 // unix milli
	closed bool
}

func NewMemory() *Memory {
	return &Memory{events: map[string]event.Event{}, dedup: map[string]int64{}}
}

func (m *Memory) List(ctx context.Context) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]event.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Clone())
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) AllWithReminders(ctx context.Context) ([]event.Event, error) {
	evs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	return withReminders(evs), nil
}

func (m *Memory) Get(ctx context.Context, id string) (event.Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return event.Event{}, false, ErrClosed
	}
	ev, ok := m.events[strings.TrimSpace(id)]
	return ev.Clone(), ok, nil
}

func (m *Memory) Put(ctx context.Context, ev event.Event) (event.Event, bool, error) {
	ev, err := prepare(ev)
	if err != nil {
		return event.Event{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return event.Event{}, false, ErrClosed
	}
	prev, existed := m.events[ev.ID]
	m.events[ev.ID] = ev
	return prev, existed, nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	id = strings.TrimSpace(id)
	_, existed := m.events[id]
	delete(m.events, id)
	return existed, nil
}

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dedup[key] = until.UnixMilli()
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := m.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

