package ics

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"calremind/internal/event"
	"calremind/internal/fswatch"
	logx "calremind/pkg/logx"
)

// Store is the slice of storage the importer writes through.
type Store interface {
	Get(ctx context.Context, id string) (event.Event, bool, error)
	Put(ctx context.Context, ev event.Event) (event.Event, bool, error)
}

type Options struct {
	DefaultReminder *int
	Debounce        time.Duration
}

// Result summarises one import run.
type Result struct {
	Source    string `json:"source"`
	Parsed    int    `json:"parsed"`
	Imported  int    `json:"imported"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
}

type Importer struct {
	store Store
	log   logx.Logger
	opt   Options
}

func NewImporter(store Store, log logx.Logger, opt Options) *Importer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Importer{store: store, log: log, opt: opt}
}

func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Source: path}, err
	}
	defer f.Close()
	return im.Import(ctx, f, filepath.Base(path))
}

// Import upserts every mappable VEVENT. Events whose content is unchanged are
// not rewritten, so re-importing the same file produces no change notices.
func (im *Importer) Import(ctx context.Context, r io.Reader, source string) (Result, error) {
	res := Result{Source: source}
	evs, skips, err := Parse(r, ParseOptions{
		DefaultReminder: im.opt.DefaultReminder,
		Source:          source,
		Log:             im.log,
	})
	if err != nil {
		return res, err
	}
	res.Parsed = len(evs) + len(skips)
	res.Skipped = len(skips)
	for _, e := range skips {
		im.log.Warn("vevent skipped", logx.String("source", source), logx.Err(e))
	}

	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		prev, ok, err := im.store.Get(ctx, ev.ID)
		if err != nil {
			return res, fmt.Errorf("get %s: %w", ev.ID, err)
		}
		if ok && prev.SameContent(ev) {
			res.Unchanged++
			continue
		}
		ev.UpdatedAt = time.Now().UTC()
		if _, _, err := im.store.Put(ctx, ev); err != nil {
			return res, fmt.Errorf("put %s: %w", ev.ID, err)
		}
		res.Imported++
	}

	im.log.Info("calendar imported",
		logx.String("source", source),
		logx.Int("parsed", res.Parsed),
		logx.Int("imported", res.Imported),
		logx.Int("unchanged", res.Unchanged),
		logx.Int("skipped", res.Skipped),
	)
	return res, nil
}

// WatchFile imports path once, then again on every change until ctx is done.
func (im *Importer) WatchFile(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	run := func() {
		if _, err := im.ImportFile(ctx, path); err != nil {
			im.log.Warn("calendar import failed", logx.String("path", path), logx.Err(err))
		}
	}
	run()
	opt := fswatch.File(path, im.log)
	opt.Debounce = im.opt.Debounce
	return fswatch.Watch(ctx, opt, run)
}
