package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"unibot/internal/commands"
	"unibot/internal/config"
	"unibot/internal/eventbus"
	"unibot/internal/mail"
	"unibot/internal/notifier"
	"unibot/internal/observability/diag"
	"unibot/internal/otp"
	"unibot/internal/presence"
	"unibot/internal/reminder"
	"unibot/internal/runtime/supervisor"
	"unibot/internal/storage"
	"unibot/internal/task/scheduler"
	"unibot/internal/timer"
	kit "unibot/internal/transport"
	"unibot/internal/verify"
	logx "unibot/pkg/logx"
)

// Task names registered on the periodic scheduler.
const (
	taskOTPSweep      = "otp.sweep"
	taskVerifySweep   = "verify.sweep"
	taskReminderSweep = "reminder.sweep"
	taskPresence      = "presence.rotate"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	timers    *timer.Scheduler
	handlers  *timer.Registry
	tasks     *scheduler.Service
	notif     *notifier.Service
	codes     *otp.Cache
	verify    *verify.Service // nil when verification is disabled
	reminders *reminder.Service
	presence  *presence.Rotator // nil when disabled or unsupported
	router    *commands.Router
	diag      *diag.Service

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing is started yet.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return checkMappings(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	adapter, err := newAdapter(cfg, root)
	if err != nil {
		return nil, err
	}
	logs.SetSender(adapter)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		adapter: adapter,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, root); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	tcfg, handlerTimeout, err := mapTimerConfig(cfg)
	if err != nil {
		return err
	}
	a.handlers = timer.NewRegistry(root.With(logx.String("comp", "timer.handlers")), handlerTimeout)
	a.timers = timer.New(tcfg, a.store, a.handlers,
		timer.WithLogger(root.With(logx.String("comp", "timer"))), timer.WithBus(a.bus))

	taskCfg, err := mapTaskConfig(cfg)
	if err != nil {
		return err
	}
	a.tasks = scheduler.New(taskCfg, root.With(logx.String("comp", "tasks")), a.bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.adapter, root, a.bus)

	a.router = commands.NewRouter(commands.Options{
		Prefix: cfg.Bot.Prefix,
		Owners: cfg.Bot.OwnerUserIDs,
	}, a.adapter, root.With(logx.String("comp", "commands")), a.bus)

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	a.reminders = reminder.New(rcfg, a.timers, a.notif, a.adapter,
		reminder.WithLogger(root), reminder.WithPrefix(a.router.Prefix))
	a.handlers.On(reminder.Event, a.reminders.OnFired)
	a.router.Register(a.reminders.Commands()...)
	if err := a.tasks.AddInterval(taskReminderSweep, time.Minute, 0, a.reminders.SweepJob); err != nil {
		return err
	}

	if err := a.buildVerify(cfg, root); err != nil {
		return err
	}
	if err := a.buildPresence(cfg, root); err != nil {
		return err
	}

	a.router.Register(a.opsCommands()...)
	a.diag = diag.New(mapDiagConfig(cfg), diag.Views{
		Timers:     func() any { return a.timers.Snapshot() },
		Tasks:      func() any { return a.tasks.Snapshot() },
		Goroutines: func() any { return a.sup.Snapshot() },
	}, root)
	return nil
}

func (a *App) buildVerify(cfg *config.Config, root logx.Logger) error {
	vcfg, ttl, sweep, err := mapVerifyConfig(cfg)
	if err != nil {
		return err
	}
	a.codes = otp.New(otp.WithTTL(ttl), otp.WithLogger(root.With(logx.String("comp", "otp"))))
	if err := a.tasks.AddInterval(taskOTPSweep, sweep, 0, a.codes.SweepJob); err != nil {
		return err
	}
	if !cfg.Verification.Enabled {
		return nil
	}

	mcfg, err := mapMailConfig(cfg)
	if err != nil {
		return err
	}
	opts := []verify.Option{verify.WithLogger(root)}
	if g, ok := a.adapter.(kit.RoleGranter); ok {
		opts = append(opts, verify.WithRoles(g))
	} else if len(vcfg.RoleIDs) > 0 {
		a.log.Warn("transport cannot grant roles; verification will not assign any",
			logx.String("transport", a.adapter.Name()))
	}
	a.verify, err = verify.New(vcfg, a.store, a.codes, mail.New(mcfg, root), opts...)
	if err != nil {
		return err
	}
	a.router.Register(a.verify.Commands()...)
	return a.tasks.AddInterval(taskVerifySweep, sweep, 0, a.verify.SweepJob)
}

func (a *App) buildPresence(cfg *config.Config, root logx.Logger) error {
	if !cfg.Presence.Enabled {
		return nil
	}
	pcfg, every, err := mapPresenceConfig(cfg)
	if err != nil {
		return err
	}
	rot, err := presence.New(pcfg, a.adapter, root)
	if errors.Is(err, presence.ErrUnsupported) {
		a.log.Warn("presence enabled but the transport cannot show it", logx.String("transport", a.adapter.Name()))
		return nil
	}
	if err != nil {
		return err
	}
	a.presence = rot
	return a.tasks.AddInterval(taskPresence, every, 0, rot.Rotate)
}

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
	run := a.sup.Context()

	a.notif.Start(run)
	if err := a.timers.Start(run); err != nil {
		return errors.Wrap(err, "start timer scheduler")
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.tasks.Start(run)
	if err := a.diag.Start(run); err != nil {
		return err
	}
	if a.presence != nil {
		a.tasks.Trigger(taskPresence)
	}

	if err := a.router.SyncMenu(run); err != nil {
		a.log.Warn("command menu sync failed", logx.Err(err))
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if a.bus != nil {
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
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("transport", a.adapter.Name()),
		logx.Bool("verification", a.verify != nil),
		logx.Bool("presence", a.presence != nil))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// bounded so one component cannot stall the whole stop
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// inputs first, then producers of timers, then their consumers
	step("diag", time.Second, func(c context.Context) error { return a.diag.Stop(c) })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("tasks", 2*time.Second, func(c context.Context) error { a.tasks.Stop(c); return nil })
	step("timers", 2*time.Second, func(c context.Context) error { return a.timers.Stop(c) })
	step("timer.handlers", 3*time.Second, func(c context.Context) error { return a.handlers.Close(c) })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
