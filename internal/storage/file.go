package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"calremind/internal/event"
	logx "calremind/pkg/logx"
)

// fileStore persists to plain files next to cfg.Path.
//
// Files:
//   - <prefix>.events.json         (full snapshot, rewritten atomically per mutation)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The dedup journal is periodically compacted into its snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	events     *Memory
	eventsPath string
	// eventsSum is the hash of the snapshot last written or loaded, so
	// Refresh can tell a foreign write from our own.
	eventsSum uint64

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type eventsFile struct {
	Version int           `json:"version"`
	Events  []event.Event `json:"events"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".events.json"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	mem := NewMemory()
	n, sum, err := loadEvents(eventsPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("path", eventsPath), logx.Int("events", n), logx.Int("dedup", len(dedup)))
	return &fileStore{
		log:               log,
		events:            mem,
		eventsPath:        eventsPath,
		eventsSum:         sum,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
	}, nil
}

func (s *fileStore) mem() *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *fileStore) List(ctx context.Context) ([]event.Event, error) {
	return s.mem().List(ctx)
}

func (s *fileStore) AllWithReminders(ctx context.Context) ([]event.Event, error) {
	return s.mem().AllWithReminders(ctx)
}

func (s *fileStore) Get(ctx context.Context, id string) (event.Event, bool, error) {
	return s.mem().Get(ctx, id)
}

func (s *fileStore) WatchPaths() []string { return []string{s.eventsPath} }

// Refresh reloads the events snapshot when its content differs from what this
// handle last wrote or loaded.
func (s *fileStore) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := NewMemory()
	_, sum, err := loadEvents(s.eventsPath, mem)
	switch {
	case errors.Is(err, os.ErrNotExist):
		sum = 0
	case err != nil:
		return false, err
	}
	if sum == s.eventsSum {
		return false, nil
	}
	s.events, s.eventsSum = mem, sum
	s.log.Debug("events reloaded from disk", logx.String("path", s.eventsPath))
	return true, nil
}

func (s *fileStore) Put(ctx context.Context, ev event.Event) (event.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed, err := s.events.Put(ctx, ev)
	if err != nil {
		return event.Event{}, false, err
	}
	if err := s.flushEventsLocked(ctx); err != nil {
		// Keep memory and disk in agreement.
		if existed {
			_, _, _ = s.events.Put(ctx, prev)
		} else {
			_, _ = s.events.Delete(ctx, ev.ID)
		}
		return event.Event{}, false, err
	}
	return prev, existed, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed, err := s.events.Get(ctx, id)
	if err != nil || !existed {
		return false, err
	}
	if _, err := s.events.Delete(ctx, id); err != nil {
		return false, err
	}
	if err := s.flushEventsLocked(ctx); err != nil {
		_, _, _ = s.events.Put(ctx, prev)
		return false, err
	}
	return true, nil
}

func (s *fileStore) flushEventsLocked(ctx context.Context) error {
	evs, err := s.events.List(ctx)
	if err != nil {
		return err
	}
	b, err := encodeJSON(eventsFile{Version: 1, Events: evs})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.eventsPath, b); err != nil {
		return err
	}
	s.eventsSum = checksum(b)
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.events.Close()
	if s.dedupJournalFile == nil {
		return nil
	}
	err := s.dedupJournalFile.Close()
	s.dedupJournalFile = nil
	return err
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)
	b, err := encodeJSON(s.dedup)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.dedupSnapshotPath, b); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func encodeJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func checksum(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadEvents(path string, into *Memory) (int, uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	var ef eventsFile
	if err := json.Unmarshal(b, &ef); err != nil {
		return 0, 0, err
	}
	n := 0
	for _, ev := range ef.Events {
		if _, _, err := into.Put(context.Background(), ev); err != nil {
			continue
		}
		n++
	}
	return n, checksum(b), nil
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
