package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"musictimer/internal/config"
	"musictimer/internal/control"
	"musictimer/internal/eventbus"
	"musictimer/internal/player"
	"musictimer/internal/runtime/supervisor"
	"musictimer/internal/scheduler"
	"musictimer/internal/storage"
	"musictimer/internal/volume"
	logx "musictimer/pkg/logx"
)

const defaultKillGrace = 5 * time.Second

type App struct {
	cfgPath string
	version string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	vol    *volume.Controller
	player *player.Controller
	auto   *player.Automator
	sched  *scheduler.Service
	ctl    *control.Server

	ctlAddr string

	// notify reports state to systemd; it is a no-op outside a unit.
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

type Option func(*App)

func WithVersion(v string) Option { return func(a *App) { a.version = v } }

// WithSystemd overrides the sd_notify hooks.
func WithSystemd(notify func(state string) (bool, error), watchdog func() (time.Duration, error)) Option {
	return func(a *App) {
		a.notify = notify
		a.watchdog = watchdog
	}
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, found, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	if !found {
		log.Info("config file not found; using defaults", logx.String("path", cfgPath))
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	// A corrupt task document halts startup.
	lctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	tasks, err := store.Load(lctx)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("load tasks: %w", err))
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		ctlAddr:  cfg.ControlAddr(),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	backend, err := volume.NewBackend(mapVolumeConfig(cfg), log.With(logx.String("comp", "volume")))
	if err != nil {
		return fail(err)
	}
	a.vol = volume.New(backend, log.With(logx.String("comp", "volume")))

	grace, err := config.ParseDurationOrDefault("player.kill_grace", cfg.Player.KillGrace, defaultKillGrace)
	if err != nil {
		return fail(err)
	}
	a.player = player.New(log.With(logx.String("comp", "player")),
		player.WithSpawner(player.SpawnerFunc(a.goWorker)),
		player.WithKillGrace(grace))

	ac, err := mapAutomationConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.auto = player.NewAutomator(ac.rules, ac.settle, ac.sender, log.With(logx.String("comp", "automation")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.sched = scheduler.New(schedCfg, scheduler.Deps{
		Player:     a.player,
		Volume:     a.vol,
		Store:      store,
		Automation: a.auto,
		Spawner:    workers{a},
		Bus:        bus,
	}, log.With(logx.String("comp", "scheduler")))
	a.sched.Hydrate(tasks)

	if cfg.Control.Enabled {
		a.ctl = control.NewServer(a.sched, store,
			control.WithLogger(log.With(logx.String("comp", "control"))),
			control.WithVersion(a.version),
			control.WithPprof(cfg.Control.Pprof))
	}

	return a, nil
}

// Scheduler exposes the loop (tests and embedding).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

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

// workers routes component goroutines to the app supervisor once it exists.
type workers struct{ a *App }

func (w workers) Go0(name string, fn func(ctx context.Context)) {
	if sup := w.a.sup; sup != nil {
		sup.Go0(name, fn)
		return
	}
	go fn(context.Background())
}

func (a *App) goWorker(name string, fn func()) {
	workers{a}.Go0(name, func(context.Context) { fn() })
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAutomationConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.sup.Go("scheduler.loop", a.sched.Run)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, "task.")
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			a.recordHistory(c, events)
		})
	}

	// Debug-level event log; the history recorder is the durable consumer.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	if a.ctl != nil {
		addr := a.ctlAddr
		a.sup.Go("control.http", func(c context.Context) error {
			return a.ctl.ListenAndServe(c, addr)
		})
	}

	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd(daemon.SdNotifyReady)
	if a.watchdog != nil {
		if interval, err := a.watchdog(); err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		} else if interval > 0 {
			a.sup.Go0("systemd.watchdog", func(c context.Context) { a.runWatchdog(c, interval) })
		}
	}

	a.log.Info("app started", logx.String("version", a.version))
	return nil
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyConfig(newCfg, sections)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config, sections []string) {
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	if sc, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	for _, s := range sections {
		if s != "volume" {
			continue
		}
		b, err := volume.NewBackend(mapVolumeConfig(cfg), a.log.With(logx.String("comp", "volume")))
		if err != nil {
			a.log.Warn("invalid volume config; keeping previous", logx.Err(err))
			break
		}
		a.vol.SetBackend(b)
	}

	if ac, err := mapAutomationConfig(cfg); err != nil {
		a.log.Warn("invalid player config; keeping previous", logx.Err(err))
	} else {
		a.auto.Apply(ac.rules, ac.settle, ac.sender)
	}
}

func (a *App) notifySystemd(state string) {
	if a.notify == nil {
		return
	}
	sent, err := a.notify(state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// runWatchdog pings systemd at half the watchdog interval while the tick
// loop keeps evaluating. A stalled loop stops the pings and lets systemd
// restart the unit.
func (a *App) runWatchdog(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			last := a.sched.LastTick()
			if last.IsZero() || time.Since(last) > interval {
				a.log.Warn("scheduler loop stalled; withholding watchdog ping", logx.Time("last_tick", last))
				continue
			}
			a.notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(daemon.SdNotifyStopping)

	// Cancelling the run context makes the scheduler stop running programs.
	a.sup.Cancel()

	a.step(ctx, "supervisor", defaultKillGrace+2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "control", time.Second, func(c context.Context) error {
		if a.ctl != nil {
			a.ctl.Close()
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)))
	}
}
