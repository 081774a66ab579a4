package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"threadrunner/internal/clock"
	"threadrunner/internal/config"
	"threadrunner/internal/eventbus"
	"threadrunner/internal/history"
	"threadrunner/internal/mainloop"
	"threadrunner/internal/observability/debug"
	rtsup "threadrunner/internal/runtime/supervisor"
	"threadrunner/internal/storage"
	"threadrunner/internal/task/engine"
	"threadrunner/internal/task/scheduler"
	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

// App hosts a thread runner: it owns the main loop that ticks the runner and
// drains callbacks, the worker pool, the scheduler that feeds the runner and
// the services around them.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	hist  *history.Recorder

	engine *engine.Service
	queue  *mainloop.Queue
	runner *thread.Runner
	sched  *scheduler.Service
	debug  *debug.Server

	// frame is nil when the runner uses wall time.
	frame *clock.Frame
	tick  time.Duration

	started   time.Time
	lastFrame time.Time

	// schedules registered from config, by name.
	schedules map[string]config.ScheduleConfig
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rs, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	poolCfg, err := mapPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	engineSvc := engine.New(poolCfg, log.With(logx.String("comp", "taskengine")), bus)
	queue := mainloop.New(log.With(logx.String("comp", "mainloop")))

	var (
		clk   thread.Clock = clock.System{}
		frame *clock.Frame
	)
	if rs.Frame {
		frame = clock.NewFrame(time.Now())
		frame.SetScale(rs.TimeScale)
		clk = frame
	}

	runner, err := thread.New(thread.Options{
		Clock:           clk,
		Relay:           queue,
		Pool:            engineSvc,
		Bus:             bus,
		Log:             log.With(logx.String("comp", "thread")),
		ReportUnhandled: cfg.Runner.ReportUnhandled,
	})
	if err != nil {
		return nil, err
	}

	schedSvc := scheduler.New(schedCfg, runner, log.With(logx.String("comp", "scheduler")))

	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		hist:      history.New(store, cfg.History.Size, log),
		engine:    engineSvc,
		queue:     queue,
		runner:    runner,
		sched:     schedSvc,
		frame:     frame,
		tick:      rs.Tick,
		schedules: map[string]config.ScheduleConfig{},
	}
	a.debug = debug.New(debugCfg, debug.Sources{
		Status: func() any { return a.Status() },
		Recent: func(limit int) any { return a.hist.Recent(limit) },
	}, log.With(logx.String("comp", "debug")))
	a.syncSchedules(cfg)
	return a, nil
}

func (a *App) Runner() *thread.Runner       { return a.runner }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) History() *history.Recorder    { return a.hist }

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

// Start brings up the background services. The main loop itself runs in Run,
// on the caller's goroutine.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.hist != nil {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.hist.Restore(rctx); err != nil {
			a.log.Warn("history restore failed", logx.Err(err))
		}
		cancel()
		a.sup.Go("history.record", func(c context.Context) error {
			return a.hist.Run(c, a.bus)
		})
	}

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	// Keep this debug-level to avoid noise for frequent schedules.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("status", a.statusLoop)
	a.startWatchdog()
	notifyReady(a.log)

	a.log.Info("app started",
		logx.Duration("tick", a.tick),
		logx.Bool("frame_clock", a.frame != nil),
		logx.Int("schedules", len(a.schedules)),
	)
	return nil
}

// Run is the host main loop: every tick it advances the frame clock, promotes
// due tasks and runs delivered callbacks. It blocks until ctx is done or the
// supervisor fails, and returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.sup.Context().Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	a.lastFrame = time.Now()
	err := a.queue.Run(runCtx, a.tick, a.frameTick)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return a.Err()
	}
	return err
}

func (a *App) frameTick() {
	now := time.Now()
	if a.frame != nil {
		a.frame.Advance(now.Sub(a.lastFrame))
	}
	a.lastFrame = now
	a.runner.Tick()
}

// Stop shuts everything down. Triggers stop first, then the runner and the
// pool; callbacks the pool delivers while stopping still run on one last
// drain of the main queue.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	notifyStopping(a.log)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("runner", time.Second, func(context.Context) error {
		a.runner.Stop()
		return nil
	})
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	// The last callbacks run here, on the caller's goroutine: Stop is called by
	// the goroutine that ran Run, once Run has returned.
	if n := a.queue.Drain(); n > 0 {
		a.log.Debug("final callbacks ran", logx.Int("callbacks", n))
	}
	a.queue.Stop()

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	// Background loops (history, config, status) go last so they see the final outcomes.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("summary", a.summary()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// syncSchedules makes the scheduler's config-declared schedules match cfg.
func (a *App) syncSchedules(cfg *config.Config) {
	want := make(map[string]config.ScheduleConfig, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		want[strings.TrimSpace(sc.Name)] = sc
	}
	for name := range a.schedules {
		if _, ok := want[name]; !ok {
			a.sched.Remove(name)
			delete(a.schedules, name)
			a.log.Info("schedule removed", logx.String("name", name))
		}
	}
	for name, sc := range want {
		if prev, ok := a.schedules[name]; ok && prev == sc {
			continue
		}
		delay, err := config.ParseDurationField("schedules."+name+".delay", sc.Delay)
		if err != nil {
			a.log.Warn("schedule skipped", logx.String("name", name), logx.Err(err))
			continue
		}
		if _, err := a.sched.AddSchedule(name, sc.Schedule, delay, a.scheduleWork(name, sc.Message)); err != nil {
			a.log.Warn("schedule register failed", logx.String("name", name), logx.String("schedule", sc.Schedule), logx.Err(err))
			continue
		}
		a.schedules[name] = sc
	}
}

// scheduleWork is the body of a config-declared schedule: it reports the run.
func (a *App) scheduleWork(name, msg string) func(ctx context.Context) error {
	log := a.log.With(logx.String("comp", "schedule"), logx.String("name", name))
	if strings.TrimSpace(msg) == "" {
		msg = "schedule fired"
	}
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info(msg)
		return nil
	}
}
