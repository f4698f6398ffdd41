package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"calremind/internal/event"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver selects "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func withReminders(in []event.Event) []event.Event {
	out := in[:0]
	for _, ev := range in {
		if ev.HasReminder() {
			out = append(out, ev)
		}
	}
	return out
}

func sortByStart(evs []event.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].ID < evs[j].ID
	})
}

// prepare validates ev and stamps UpdatedAt when the caller left it empty.
func prepare(ev event.Event) (event.Event, error) {
	ev.ID = strings.TrimSpace(ev.ID)
	if err := ev.ValidateRecord(); err != nil {
		return event.Event{}, err
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = time.Now().UTC()
	}
	return ev.Clone(), nil
}
