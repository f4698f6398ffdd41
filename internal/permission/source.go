package permission

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"calremind/internal/fswatch"
	logx "calremind/pkg/logx"
)

// ErrUnsupported is returned by Notifier.Changes when the host cannot report
// capability changes.
var ErrUnsupported = errors.New("permission: change notification unsupported")

// Source reports the current state of the exact-scheduling capability.
type Source interface {
	Granted() bool
}

// Notifier is implemented by sources that can report state changes. The
// channel is closed when ctx is done.
type Notifier interface {
	Changes(ctx context.Context) (<-chan bool, error)
}

// Legacy is a host without any change mechanism. Watchers treat it as
// permanently granted.
type Legacy struct{}

func (Legacy) Granted() bool { return true }

// Static is a fixed capability that never changes.
type Static bool

func (s Static) Granted() bool { return bool(s) }

func (Static) Changes(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// FileSource reads the capability from a flag file holding "granted" or
// "denied". A missing or unreadable file means denied.
type FileSource struct {
	path string
	log  logx.Logger

	mu      sync.Mutex
	granted bool
}

func NewFileSource(path string, log logx.Logger) *FileSource {
	s := &FileSource{path: path, log: log.With(logx.String("comp", "permission.file"))}
	s.granted = s.read()
	return s
}

func (s *FileSource) Granted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted
}

// Refresh re-reads the flag file and reports the new state and whether it changed.
func (s *FileSource) Refresh() (granted, changed bool) {
	v := s.read()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = v != s.granted
	s.granted = v
	return v, changed
}

func (s *FileSource) Changes(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 4)
	go func() {
		defer close(ch)
		_ = fswatch.Watch(ctx, fswatch.File(s.path, s.log), func() {
			v, changed := s.Refresh()
			if !changed {
				return
			}
			s.log.Debug("permission flag changed", logx.String("path", s.path), logx.Bool("granted", v))
			select {
			case ch <- v:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}

func (s *FileSource) read() bool {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return ParseFlag(string(b))
}

// ParseFlag interprets flag file contents.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "granted", "grant", "true", "yes", "1":
		return true
	default:
		return false
	}
}
