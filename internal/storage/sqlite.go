package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"calremind/internal/event"
	logx "calremind/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const eventColumns = `id, title, description, start_at, time_zone, end_at, reminder_minutes, recurrence, recurrence_end, updated_at`

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string

	// dataVersion is the last PRAGMA data_version seen. It moves only when
	// another connection commits.
	dataVersion atomic.Int64

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, path: path, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := st.Refresh(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) WatchPaths() []string {
	return []string{s.path, s.path + "-wal"}
}

// Refresh compares data_version on the store's single connection. Rows are
// always read from disk, so there is nothing to reload.
func (s *sqliteStore) Refresh(ctx context.Context) (bool, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return false, err
	}
	return s.dataVersion.Swap(v) != v, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) List(ctx context.Context) ([]event.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY start_ms, id`)
}

func (s *sqliteStore) AllWithReminders(ctx context.Context) ([]event.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE reminder_minutes IS NOT NULL ORDER BY start_ms, id`)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (event.Event, bool, error) {
	return getEvent(ctx, s.db, strings.TrimSpace(id))
}

func (s *sqliteStore) Put(ctx context.Context, ev event.Event) (event.Event, bool, error) {
	ev, err := prepare(ev)
	if err != nil {
		return event.Event{}, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, existed, err := getEvent(ctx, tx, ev.ID)
	if err != nil {
		return event.Event{}, false, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(id, title, description, start_at, start_ms, time_zone, end_at, reminder_minutes, recurrence, recurrence_end, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, description=excluded.description,
		   start_at=excluded.start_at, start_ms=excluded.start_ms, time_zone=excluded.time_zone,
		   end_at=excluded.end_at, reminder_minutes=excluded.reminder_minutes,
		   recurrence=excluded.recurrence, recurrence_end=excluded.recurrence_end,
		   updated_at=excluded.updated_at`,
		ev.ID, ev.Title, ev.Description,
		fmtTime(ev.Start), ev.Start.UnixMilli(), ev.TimeZone,
		nullTime(ev.End), nullInt(ev.ReminderMinutes),
		ev.Recurrence, nullTime(ev.RecurrenceEnd), fmtTime(ev.UpdatedAt),
	)
	if err != nil {
		return event.Event{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, false, err
	}
	return prev, existed, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEvent(ctx context.Context, q queryRower, id string) (event.Event, bool, error) {
	ev, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, false, nil
	}
	if err != nil {
		return event.Event{}, false, err
	}
	return ev, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (event.Event, error) {
	var (
		ev             event.Event
		start, updated string
		end, recEnd    sql.NullString
		reminder       sql.NullInt64
	)
	if err := sc.Scan(&ev.ID, &ev.Title, &ev.Description, &start, &ev.TimeZone, &end, &reminder, &ev.Recurrence, &recEnd, &updated); err != nil {
		return event.Event{}, err
	}
	var err error
	if ev.Start, err = parseTime(start); err != nil {
		return event.Event{}, fmt.Errorf("event %s: start: %w", ev.ID, err)
	}
	if end.Valid {
		ev.End, _ = parseTime(end.String)
	}
	if recEnd.Valid {
		ev.RecurrenceEnd, _ = parseTime(recEnd.String)
	}
	ev.UpdatedAt, _ = parseTime(updated)
	if reminder.Valid {
		ev.ReminderMinutes = event.Minutes(int(reminder.Int64))
	}
	return ev, nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(v string) (time.Time, error) { return time.Parse(time.RFC3339Nano, v) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}
