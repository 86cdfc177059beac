package app

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"reshuffle/internal/adapters/telegram"
	"reshuffle/internal/catalog"
	"reshuffle/internal/command"
	"reshuffle/internal/config"
	"reshuffle/internal/eventbus"
	"reshuffle/internal/exec"
	"reshuffle/internal/host"
	"reshuffle/internal/notify"
	"reshuffle/internal/runtime/supervisor"
	"reshuffle/internal/storage"
	"reshuffle/internal/timer"
	logx "reshuffle/pkg/logx"
)

// Options are the parts of the app that are not in the config file.
type Options struct {
	// Console receives rendered broadcasts; nil disables the console sink.
	Console io.Writer
	// Auth gates commands; nil allows every caller.
	Auth command.Authorizer
}

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	host    *host.Host
	exec    *exec.Dispatcher
	notif   *notify.Service
	state   *catalog.StateKeeper
	coord   *catalog.Coordinator
	trigger *timer.CronTrigger
	timer   *timer.Engine
	router  *command.Router
	history *historyRecorder
	tg      *telegram.Adapter

	mu      sync.Mutex
	applied *config.Config
	stopped bool
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, loadErr := cfgm.LoadOrDefault()

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	if loadErr != nil {
		log.Warn("config load failed; using defaults", logx.String("path", cfgPath), logx.Err(loadErr))
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		log.Warn("config has invalid values", logx.Err(err))
	}

	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return fail(err)
	}
	fail = func(err error) (*App, error) {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	h, err := host.Load(hostOptions(cfg))
	if err != nil {
		return fail(fmt.Errorf("load host: %w", err))
	}
	eopts, err := mapExecOptions(cfg)
	if err != nil {
		return fail(err)
	}
	ex, err := exec.Select(cfg.Execution.Model, h.Probe, exec.NewGlobalOrderer(), eopts, log)
	if err != nil {
		return fail(err)
	}
	live, err := h.Attach(ex)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	sinks := []notify.Sink{notify.NewLogSink(log)}
	if opts.Console != nil {
		sinks = append(sinks, notify.NewConsoleSink(opts.Console))
	}
	notif := notify.New(mapNotifyConfig(cfg), log, sinks...)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		host:    h,
		exec:    ex,
		notif:   notif,
		applied: cfg,
	}

	a.state = catalog.LoadStateKeeper(context.Background(), store, log)
	a.coord, err = catalog.New(catalog.Deps{
		Exec:     ex,
		Host:     live,
		Items:    h.Items,
		State:    a.state,
		Notifier: notif,
		Sync:     catalog.NewClientSync(h.Clients, log),
		Settings: func() catalog.Settings { return catalogSettings(a.cfgm.Get()) },
		Bus:      bus,
		Log:      log,
	})
	if err != nil {
		return fail(err)
	}

	a.trigger = timer.NewCronTrigger(log)
	a.timer, err = timer.New(timer.Deps{
		Exec:     ex,
		Trigger:  a.trigger,
		Shuffler: a,
		Notifier: notif,
		Settings: func() timer.Settings { return timerSettings(a.cfgm.Get()) },
		Log:      log,
	})
	if err != nil {
		return fail(err)
	}

	a.router = command.New(command.Deps{
		Catalog:  a.coord,
		Seeds:    a.state,
		Timer:    a.timer,
		Settings: settingsStore{a: a},
		Reload:   a.Reload,
		History:  store,
		Auth:     opts.Auth,
		Log:      log,
	})
	a.history = newHistoryRecorder(bus, store, log)

	tc, enabled, err := mapTelegramConfig(cfg)
	if err != nil {
		log.Warn("telegram disabled", logx.Err(err))
	} else if enabled {
		tg, err := telegram.New(tc, log)
		if err != nil {
			log.Warn("telegram disabled", logx.Err(err))
		} else {
			a.tg = tg
			notif.AddSink(tg)
		}
	}
	return a, nil
}

// Host exposes the bundled host, mainly for tests and the console.
func (a *App) Host() *host.Host { return a.host }

// Catalog is the shuffle coordinator.
func (a *App) Catalog() *catalog.Coordinator { return a.coord }

// Timer is the countdown engine.
func (a *App) Timer() *timer.Engine { return a.timer }

// Store is the state and history store.
func (a *App) Store() storage.Store { return a.store }

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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(validateConfig)

	// Stop tears these down in order, so they must outlive the supervisor context.
	base := context.WithoutCancel(a.sup.Context())
	if err := a.exec.Start(base); err != nil {
		return err
	}
	a.notif.Start(base)
	a.history.Start(base)
	a.trigger.Start()

	cfg := a.cfgm.Get()
	if err := a.coord.Initialize(a.sup.Context(), shuffleMode(cfg)); err != nil {
		a.log.Warn("restoring shuffle state failed", logx.Err(err))
	}
	a.applyTimer(cfg, false)

	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context(), a.Dispatch); err != nil {
			a.log.Warn("telegram start failed", logx.Err(err))
		}
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
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
				a.applyConfig(newCfg, false)
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, "READY=1")
	a.log.Info("app started",
		logx.String("model", a.exec.Model().String()),
		logx.Bool("timer", a.timer.Running()),
		logx.Bool("telegram", a.tg != nil),
	)
	return nil
}

// Dispatch runs one command line. Replies use tag markup.
func (a *App) Dispatch(ctx context.Context, caller, line string, out io.Writer) error {
	return a.router.Dispatch(ctx, caller, line, out)
}

// Complete suggests completions for a partial command line.
func (a *App) Complete(caller string, args []string) []string {
	return a.router.Complete(caller, args)
}

// TimedShuffle is called by the timer when a countdown ends.
func (a *App) TimedShuffle(ctx context.Context) {
	req := catalog.Request{
		Mode:     shuffleMode(a.cfgm.Get()),
		Seed:     a.state.Snapshot().Seed,
		Announce: true,
	}
	_ = a.coord.ShuffleAsync(ctx, req)
}

// Reload re-reads the config file and applies it. Unlike a file change
// picked up by the watcher, the timer is always restarted.
func (a *App) Reload(ctx context.Context) error {
	cfg, err := a.cfgm.Reload(ctx)
	if err != nil {
		return err
	}
	a.applyConfig(cfg, true)
	return nil
}

func (a *App) applyConfig(cfg *config.Config, force bool) {
	a.mu.Lock()
	prev := a.applied
	a.applied = cfg
	a.mu.Unlock()

	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 && !force {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.notif.Apply(mapNotifyConfig(cfg))
	if force || slices.Contains(sections, "timer") {
		a.applyTimer(cfg, force)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	if len(sections) > 0 {
		a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// applyTimer starts or stops the timer to match cfg. restart forces a fresh
// period even when the interval is unchanged.
func (a *App) applyTimer(cfg *config.Config, restart bool) {
	if !cfg.Timer.Enabled {
		if a.timer.Running() {
			a.timer.Stop()
			a.publishTimer()
		}
		return
	}
	d := timerInterval(cfg)
	var err error
	if restart {
		err = a.timer.Restart(d)
	} else {
		err = a.timer.Start(d)
	}
	if err != nil {
		a.log.Warn("timer not started", logx.Int("interval", cfg.Timer.Interval), logx.Err(err))
		return
	}
	a.publishTimer()
}

func (a *App) publishTimer() {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTimerStateChange, Time: time.Now(), Data: a.timer.Status()})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.sup == nil || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
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
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("timer", 2*time.Second, func(c context.Context) error {
		a.timer.Stop()
		return a.trigger.Stop(c)
	})
	// An apply already on the writer finishes; queued work fails with ErrStopped.
	step("exec", 5*time.Second, a.exec.Stop)
	step("history", 1*time.Second, a.history.Stop)
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if err := a.state.Persist(c); err != nil {
			a.log.Warn("persist state failed", logx.Err(err))
		}
		return a.store.Close()
	})

	// Finally, wait for supervised goroutines (config watch/reload, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// settingsStore is the command view of the config. Saved changes count as
// applied so a later reload only reacts to edits made elsewhere.
type settingsStore struct{ a *App }

func (s settingsStore) Get() *config.Config { return s.a.cfgm.Get() }

func (s settingsStore) Update(fn func(*config.Config)) (*config.Config, error) {
	cfg, err := s.a.cfgm.Update(fn)
	s.a.mu.Lock()
	s.a.applied = cfg
	s.a.mu.Unlock()
	return cfg, err
}
