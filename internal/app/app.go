// Package app wires the bot together: config, logging, storage, the
// backup mirror, the scheduler, delivery, reconciliation, the conflict
// guard, and the transport adapter.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/guard"
	"remindbot/internal/health"
	"remindbot/internal/history"
	"remindbot/internal/reconcile"
	"remindbot/internal/registry"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/store"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	clk  *clock.Clock

	store *store.Store
	bk    backup.Client
	reg   *registry.Registry
	hist  history.Store

	adapter *telegram.Adapter
	engine  *delivery.Engine
	sched   *scheduler.Service
	rec     *reconcile.Service
	grd     *guard.Guard
	hl      *health.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	clk := mapClock(cfg)

	dir := cfg.Store.Dir
	if dir == "" {
		dir = "."
	}
	st, err := store.Open(dir, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	var bk backup.Client = backup.Disabled{}
	if bc, enabled, err := mapBackupConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		cl, err := backup.NewHTTP(bc, log.With(logx.String("comp", "backup")))
		if err != nil {
			return nil, err
		}
		bk = cl
		log.Info("backup mirror enabled", logx.String("base_url", bc.BaseURL))
	}

	reg := registry.New(st, bk, log.With(logx.String("comp", "registry")))

	hc, err := mapHistoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(hc, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}
	if hist != nil {
		log.Info("delivery history enabled", logx.String("driver", hc.Driver))
	}

	ac, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(ac, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	eng := delivery.New(ad, st, reg, bk, hist, clk, log.With(logx.String("comp", "delivery")))

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(sc, clk, eng, log.With(logx.String("comp", "scheduler")))

	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		return nil, err
	}
	rec := reconcile.New(rc, bk, st, reg, sched, log.With(logx.String("comp", "reconcile")))

	gc, err := mapGuardConfig(cfg)
	if err != nil {
		return nil, err
	}
	grd := guard.New(gc, ad, log.With(logx.String("comp", "guard")))

	var hl *health.Server
	if hcfg, enabled, err := mapHealthConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		hl = health.New(hcfg, log.With(logx.String("comp", "health")))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		clk:     clk,
		store:   st,
		bk:      bk,
		reg:     reg,
		hist:    hist,
		adapter: ad,
		engine:  eng,
		sched:   sched,
		rec:     rec,
		grd:     grd,
		hl:      hl,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	// Local state first: restore from backup where local files are
	// missing, then turn records into jobs before anything can fire.
	a.rec.RestoreAll(a.sup.Context())
	a.scheduleAll()

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("inbound.dispatch", func(c context.Context) error {
		return a.dispatchLoop(c)
	})

	a.sup.Go("guard.run", func(c context.Context) error {
		err := a.grd.Run(c, a.adapter.Conflicts())
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("conflict guard: %w", err)
	})

	a.sup.Go0("reconcile.run", func(c context.Context) {
		_ = a.rec.Run(c)
	})

	if a.hl != nil {
		if err := a.hl.Start(); err != nil {
			return err
		}
		a.sup.Go0("health.ping", func(c context.Context) {
			_ = a.hl.RunPinger(c)
		})
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.log.Info("bot started",
		logx.Int("reminder_jobs", a.sched.JobCount(scheduler.ReminderPrefix)),
		logx.Int("poll_jobs", a.sched.JobCount(scheduler.PollPrefix)))
	return nil
}

// scheduleAll turns every stored record into a live job.
func (a *App) scheduleAll() {
	rs, err := a.store.LoadReminders()
	if err != nil {
		a.log.Error("reminders not loaded", logx.Err(err))
	}
	ps, err := a.store.LoadPolls()
	if err != nil {
		a.log.Error("polls not loaded", logx.Err(err))
	}
	nr := a.sched.ScheduleReminders(rs)
	np := a.sched.SchedulePolls(ps)
	a.log.Info("records scheduled", logx.Int("reminders", nr), logx.Int("polls", np))
}

// reloadLoop applies hot config changes. Only logging takes effect
// live; everything else needs a restart and is called out as such.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))

			for _, s := range sections {
				if s != "logging" {
					a.log.Warn("config section changed; restart required to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context so background loops start unwinding, then
	// walk components down with per-step bounds.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.hl != nil {
		step("health", 1*time.Second, func(c context.Context) error { return a.hl.Stop(c) })
	}
	if a.hist != nil {
		step("history", 1*time.Second, func(context.Context) error { return a.hist.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
