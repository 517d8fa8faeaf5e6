package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"scriptd/internal/activitylog"
	"scriptd/internal/config"
	"scriptd/internal/eventbus"
	"scriptd/internal/notifier"
	"scriptd/internal/runner"
	rtsup "scriptd/internal/runtime/supervisor"
	"scriptd/internal/scheduler"
	"scriptd/internal/storage"
	logx "scriptd/pkg/logx"
)

// App owns every long-lived component. One-shot CLI commands build an App,
// call the controller and Stop it; serve additionally calls Start.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    *storage.Store
	activity *activitylog.Log
	notif    *notifier.Service
	runner   *runner.Runner
	registry *scheduler.Registry
	ctrl     *scheduler.Controller

	started bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		a.closeAll()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build opens the components in dependency order. On error the caller
// closes whatever was opened.
func (a *App) build(cfg *config.Config) error {
	base := a.logs.Logger()

	st, err := storage.Open(mapStorageConfig(cfg), base)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	a.log.Debug("storage opened", logx.String("driver", cfg.Storage.StorageDriver()), logx.String("path", cfg.Storage.StoragePath()))

	act, err := activitylog.New(mapActivityLogConfig(cfg), base)
	if err != nil {
		return fmt.Errorf("activity log: %w", err)
	}
	a.activity = act

	ncfg, channels, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, channels, base, a.bus)

	rn, err := runner.New(mapRunnerConfig(cfg), st,
		runner.WithActivityLog(act),
		runner.WithNotifier(a.notif),
		runner.WithBus(a.bus),
		runner.WithLogger(base),
	)
	if err != nil {
		return err
	}
	a.runner = rn

	a.sup = rtsup.New(context.Background(), rtsup.WithLogger(base.With(logx.String("comp", "supervisor"))))
	a.registry = scheduler.NewRegistry(cfg.Scheduler.Timezone,
		scheduler.WithRegistryLogger(base),
		scheduler.WithRegistryBus(a.bus),
	)
	a.ctrl = scheduler.NewController(a.registry, st, rn, a.sup,
		scheduler.WithControllerLogger(base),
		scheduler.WithControllerBus(a.bus),
	)
	return nil
}

func (a *App) Log() logx.Logger                  { return a.log }
func (a *App) Config() *config.Config            { return a.cfgm.Get() }
func (a *App) Controller() *scheduler.Controller { return a.ctrl }
func (a *App) Store() *storage.Store             { return a.store }
func (a *App) Activity() *activitylog.Log        { return a.activity }
func (a *App) Notifier() *notifier.Service       { return a.notif }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error { return a.sup.Err() }

// StartNotifier starts notification delivery without the scheduler, for
// one-shot commands that execute scripts. Delivery outlives ctx so Stop can
// drain the queue.
func (a *App) StartNotifier(ctx context.Context) {
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(ctx))
	}
}

// Start registers every schedule, starts cron dispatch and the config
// watcher, and reports readiness to systemd. A failed scheduler
// initialization is logged and does not stop the remaining startup.
func (a *App) Start(ctx context.Context) {
	// transactional config reload: the notifier channels must build before commit
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := mapNotifierConfig(cfg)
		return err
	})

	a.StartNotifier(ctx)
	// A broken store document must not keep the daemon down: a later reload
	// (SIGHUP) retries once the file is fixed.
	if err := a.ctrl.Initialize(ctx); err != nil {
		a.log.Error("scheduler initialization failed; no jobs registered until reload", logx.Err(err))
	}
	a.registry.Start()
	a.started = true

	sub := a.cfgm.Subscribe(1)
	a.sup.GoRestart("config.watch", 500*time.Millisecond, 30*time.Second, a.cfgm.Watch)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.applyLoop(c, sub)
	})

	events, unsubscribe := a.bus.Subscribe(64)
	a.sup.Go0("events", func(c context.Context) {
		defer unsubscribe()
		a.eventLoop(c, events)
	})
	a.sup.Go0("watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("started", logx.String("config", a.cfgPath), logx.Int("jobs", len(a.registry.Keys())))
}

// Reload rebuilds the registry from the store so edits made by other
// processes (one-shot CLI commands) take effect.
func (a *App) Reload(ctx context.Context) error {
	a.sdNotify(daemon.SdNotifyReloading)
	defer a.sdNotify(daemon.SdNotifyReady)
	if err := a.ctrl.Initialize(ctx); err != nil {
		a.log.Warn("reload failed", logx.Err(err))
		return err
	}
	a.log.Info("reloaded", logx.Int("jobs", len(a.registry.Keys())))
	return nil
}

func (a *App) applyLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	ncfg, channels, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg, channels)
	switch enabled := a.notif.Enabled(); {
	case enabled && !wasEnabled:
		a.StartNotifier(context.Background())
	case !enabled && wasEnabled:
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	}
}

// eventLoop mirrors the latest execution into the systemd status line.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeExecutionCompleted {
				continue
			}
			done, ok := ev.Data.(eventbus.ExecutionCompleted)
			if !ok {
				continue
			}
			a.sdNotify(fmt.Sprintf("STATUS=last run: %s %s in %s", done.ScriptName, done.Status, done.Runtime.Round(time.Millisecond)))
		}
	}
}

// Stop shuts everything down in reverse dependency order. In-flight script
// runs get a bounded window to finish and be recorded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.started {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		a.sdNotify(daemon.SdNotifyStopping)
	}

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.started {
		step("registry", 2*time.Second, a.registry.Close)
	}
	// Script runs are detached from the supervisor context, so Wait is what
	// lets them land their execution record.
	step("supervisor", 30*time.Second, func(c context.Context) error {
		a.sup.Cancel()
		return a.sup.Wait(c)
	})
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.closeAll()
	if a.started {
		a.log.Info("stopped")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeAll() {
	if a.activity != nil {
		if err := a.activity.Close(); err != nil {
			a.log.Warn("activity log close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}
