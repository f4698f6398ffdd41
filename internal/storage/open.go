package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"calremind/internal/event"
	logx "calremind/pkg/logx"
)

// Store is the event collection plus notifier dedup state.
//
// Each call is atomic per event; callers need no locking of their own.
type Store interface {
	List(ctx context.Context) ([]event.Event, error)
	AllWithReminders(ctx context.Context) ([]event.Event, error)
	Get(ctx context.Context, id string) (event.Event, bool, error)
	// Put validates and upserts ev, returning the previous version if any.
	Put(ctx context.Context, ev event.Event) (prev event.Event, existed bool, err error)
	Delete(ctx context.Context, id string) (existed bool, err error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
