// Package app wires remindd together: storage, the task engine, the trigger
// scheduler, the reminder coordinator, delivery, permission watching, calendar
// import, the periodic safety re-scan and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"calremind/internal/config"
	"calremind/internal/event"
	"calremind/internal/eventbus"
	"calremind/internal/fswatch"
	"calremind/internal/ics"
	"calremind/internal/notifier"
	"calremind/internal/observability/status"
	"calremind/internal/permission"
	"calremind/internal/reminder"
	"calremind/internal/runtime/supervisor"
	"calremind/internal/storage"
	"calremind/internal/task/engine"
	"calremind/internal/task/scheduler"
	"calremind/internal/trigger"
	logx "calremind/pkg/logx"
	"calremind/pkg/systemd"
)

const rescanTaskName = "reminder.rescan"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	shared   storage.Shared
	engine   *engine.Service
	timers   *trigger.TimerScheduler
	coord    *reminder.Coordinator
	notif    *notifier.Service
	perm     *permission.Watcher
	sched    *scheduler.Service
	importer *ics.Importer
	sd       *systemd.Notifier
	status   *status.Server
	rescans  *rescanner

	rem reminderSettings
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()
	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logs, bus: bus}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	// Mutations reach the coordinator through the hook; the bus copy is for
	// observers only and may drop under load.
	a.store = storage.WithHook(storage.WithBus(raw, bus), a.onStoreChange)
	if sh, ok := raw.(storage.Shared); ok {
		a.shared = sh
	}
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	fail := func(err error) (*App, error) {
		_ = a.store.Close()
		return nil, err
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	if a.rem, err = mapReminderConfig(cfg); err != nil {
		return fail(err)
	}
	a.rescans = newRescanner(a.engine.Enqueue, a.rescan, a.rem.RescanTimeout, a.log)

	a.perm = permission.NewWatcher(mapPermissionSource(cfg, log), a.onGrant, log, bus)
	a.timers = trigger.NewTimerScheduler(a.rem.Timer, a.perm, a.engine, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sinks, err := mapSinks(cfg, log)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, sinks, log, bus, a.store)

	a.coord = reminder.New(a.store, a.timers, log, bus,
		reminder.WithNotifier(a.notif),
		reminder.WithParallelism(a.rem.Parallelism),
	)
	a.timers.SetHandler(a.coord.HandleFired)

	a.sched = scheduler.New(scheduler.Config{Timezone: a.rem.Timezone}, a.engine, log)

	iopt, err := mapImportOptions(cfg)
	if err != nil {
		return fail(err)
	}
	a.importer = ics.NewImporter(a.store, log.With(logx.String("comp", "ics")), iopt)
	a.sd = systemd.New(log)
	a.status = status.New(mapStatusConfig(cfg), a.snapshot, log)
	return a, nil
}

func (a *App) Store() storage.Store               { return a.store }
func (a *App) Coordinator() *reminder.Coordinator { return a.coord }
func (a *App) Bus() eventbus.Bus                  { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapReminderConfig(cfg)
		return err
	})

	a.engine.Start(runCtx)
	a.notif.Start(runCtx)

	// Subscribe before anything can publish a lifecycle signal.
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.dispatch", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.dispatch(c, e)
			}
		}
	})

	a.sup.Go("permission.watch", a.perm.Run)

	for _, path := range a.cfgm.Get().Import.Paths {
		path := strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if a.cfgm.Get().Import.Watch {
			a.sup.GoRestart("import.watch:"+path, func(c context.Context) error {
				return a.importer.WatchFile(c, path)
			}, time.Second, 30*time.Second)
			continue
		}
		if _, err := a.importer.ImportFile(runCtx, path); err != nil {
			a.log.Warn("calendar import failed", logx.String("path", path), logx.Err(err))
		}
	}

	if a.shared != nil {
		a.sup.GoRestart("storage.watch", a.watchStore, time.Second, 30*time.Second)
	}

	if a.rem.Schedule != "" {
		if err := a.sched.AddSchedule(rescanTaskName, a.rem.Schedule, a.rem.RescanTimeout, a.scheduledRescan); err != nil {
			return fmt.Errorf("reminder.rescan_schedule: %w", err)
		}
	}
	a.sched.Start(runCtx)

	boot := a.cfgm.Get().Boot
	booted, err := detectBoot(boot.BootIDPath, boot.StatePath)
	if err != nil {
		a.log.Warn("boot detection failed", logx.Err(err))
	}
	if booted {
		eventbus.Publish(a.bus, eventbus.TypeSystemBoot, nil)
	}
	eventbus.Publish(a.bus, eventbus.TypeAppStarted, nil)

	if a.status.Enabled() {
		a.sup.GoRestart("status.serve", a.status.Run, 500*time.Millisecond, 10*time.Second)
	}
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.RunWatchdog)
	a.sd.Ready()

	a.log.Info("app started", logx.Bool("exact_granted", a.perm.Granted()))
	return nil
}

// dispatch turns lifecycle signals into re-scans.
func (a *App) dispatch(_ context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeSystemBoot:
		a.requestRescan("boot")
	case eventbus.TypeAppStarted:
		a.requestRescan("app_started")
	}
}

// onStoreChange runs for every mutation made through a.store. The coordinator
// work goes to the engine so the writer never waits on a per-event lock.
func (a *App) onStoreChange(ch event.Change) {
	if !ch.Reschedule {
		return
	}
	id := ch.ID
	t := engine.Task{
		Name:    "reminder.recompute",
		Key:     "recompute:" + id,
		Timeout: a.rem.FireTimeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapAllow, RetryMax: -1, KeepStale: true},
		Run: func(c context.Context) error {
			_, err := a.coord.Recompute(c, id)
			return err
		},
	}
	if ch.Deleted {
		t.Name = "reminder.forget"
		t.Run = func(c context.Context) error {
			a.coord.Forget(c, id)
			return nil
		}
	}
	err := a.engine.Enqueue(t)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrStopping), errors.Is(err, engine.ErrStopped):
		a.log.Debug("change ignored while stopping", logx.String("event_id", id))
	default:
		a.log.Warn("change not queued; falling back to rescan", logx.String("event_id", id), logx.Err(err))
		a.requestRescan("change_dropped")
	}
}

// watchStore re-scans after another process (remindctl) writes the store.
func (a *App) watchStore(ctx context.Context) error {
	paths := a.shared.WatchPaths()
	names := make(map[string]bool, len(paths))
	for _, p := range paths {
		names[filepath.Base(p)] = true
	}
	log := a.log.With(logx.String("comp", "storage.watch"))
	return fswatch.Watch(ctx, fswatch.Options{
		Dir:   filepath.Dir(paths[0]),
		Match: func(base string) bool { return names[base] },
		Log:   log,
	}, func() {
		changed, err := a.shared.Refresh(ctx)
		if err != nil {
			log.Warn("store refresh failed", logx.Err(err))
			return
		}
		if changed {
			a.requestRescan("store_changed")
		}
	})
}

// onGrant is the permission watcher's false->true callback. It is the only
// path from a grant to a re-scan.
func (a *App) onGrant(context.Context) { a.requestRescan("permission_granted") }

func (a *App) requestRescan(reason string) { a.rescans.request(reason) }

func (a *App) scheduledRescan(context.Context) error {
	a.requestRescan("schedule")
	return nil
}

// Snapshot is what the status endpoint serves.
type Snapshot struct {
	ExactGranted bool                     `json:"exact_granted"`
	Reminders    []reminder.Status        `json:"reminders"`
	Triggers     []trigger.Pending        `json:"triggers"`
	Tasks        engine.Snapshot          `json:"tasks"`
	Deliveries   []notifier.HistoryItem   `json:"deliveries"`
	Schedules    []scheduler.ScheduleInfo `json:"schedules"`
}

func (a *App) snapshot(context.Context) any {
	return Snapshot{
		ExactGranted: a.perm.Granted(),
		Reminders:    a.coord.Snapshot(),
		Triggers:     a.timers.Pending(),
		Tasks:        a.engine.Snapshot(),
		Deliveries:   a.notif.Snapshot(),
		Schedules:    a.sched.Snapshot(),
	}
}

func (a *App) rescan(ctx context.Context) error {
	rep, err := a.coord.Rescan(ctx)
	if err == nil {
		a.sd.Status(fmt.Sprintf("%d reminders scheduled", rep.Scheduled))
	}
	return err
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies logging, notifier and re-scan schedule changes live.
// Everything else is logged as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if oldCfg.Reminder.Schedule() != newCfg.Reminder.Schedule() || oldCfg.Reminder.Timezone != newCfg.Reminder.Timezone {
		a.sched.Apply(scheduler.Config{Timezone: strings.TrimSpace(newCfg.Reminder.Timezone)})
		if spec := newCfg.Reminder.Schedule(); spec == "" {
			a.sched.Remove(rescanTaskName)
		} else if err := a.sched.AddSchedule(rescanTaskName, spec, a.rem.RescanTimeout, a.scheduledRescan); err != nil {
			a.log.Warn("invalid rescan schedule; keeping previous", logx.Err(err))
		}
	}

	if restart := restartSections(oldCfg, newCfg, sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func restartSections(oldCfg, newCfg *config.Config, changed []string) []string {
	out := config.RequiresRestart(changed)
	o, n := oldCfg.Reminder, newCfg.Reminder
	o.RescanSchedule, o.Timezone = n.RescanSchedule, n.Timezone
	if o != n {
		return out
	}
	// Only the live-applied reminder fields changed.
	kept := out[:0]
	for _, s := range out {
		if s != "reminder" {
			kept = append(kept, s)
		}
	}
	return kept
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	// Each step gets its own bound so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("triggers", time.Second, func(context.Context) error { a.timers.Close(); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
