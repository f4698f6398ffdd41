// Package fswatch wraps fsnotify with the debounce and self-healing restart
// loop shared by the config, permission flag and calendar import watchers.
package fswatch

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "calremind/pkg/logx"
)

const (
	DefaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

type Options struct {
	// Dir is watched non-recursively. Editors replace files via rename, so
	// watching the directory catches more than watching the file.
	Dir string
	// Match filters events by base name. nil matches everything.
	Match func(base string) bool
	// Debounce coalesces bursts of events into one callback.
	Debounce time.Duration
	Log      logx.Logger
}

// File returns Options that watch a single file through its directory.
func File(path string, log logx.Logger) Options {
	base := filepath.Base(path)
	return Options{
		Dir:   filepath.Dir(path),
		Match: func(name string) bool { return strings.EqualFold(name, base) },
		Log:   log,
	}
}

// Watch calls onChange (debounced) for every matching event until ctx is done.
// A broken watcher is recreated with jittered exponential backoff. Watch
// returns nil when ctx is canceled.
func Watch(ctx context.Context, opt Options, onChange func()) error {
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	log := opt.Log
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(opt.Debounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", opt.Dir))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := w.Add(opt.Dir); err != nil {
			_ = w.Close()
			log.Warn("watch add failed", logx.Err(err), logx.String("dir", opt.Dir))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.String("dir", opt.Dir))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if opt.Match != nil && !opt.Match(filepath.Base(ev.Name)) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events were missed; fire once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("watch overflow; forcing reload", logx.Err(err), logx.String("dir", opt.Dir))
					debounce()
					continue
				}
				log.Warn("watch error", logx.Err(err), logx.String("dir", opt.Dir))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("watcher stopped; restarting", logx.String("dir", opt.Dir))
		if !sleep() {
			return nil
		}
	}
	return nil
}
