// Package app wires the bot together: config, logging, telegram, storage,
// the reminder loop, the digest registry, the broadcast dispatcher, operator
// commands and the debug HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"rentbot/internal/broadcast"
	"rentbot/internal/config"
	"rentbot/internal/digest"
	"rentbot/internal/observability/httpd"
	"rentbot/internal/observability/metrics"
	"rentbot/internal/reminder"
	rtsup "rentbot/internal/runtime/supervisor"
	"rentbot/internal/storage"
	kit "rentbot/internal/transport"
	telegram "rentbot/internal/transport/telegram/adapter"
	logx "rentbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   *storage.SQLite
	metrics *metrics.Metrics

	reminders *reminder.Service
	digests   *digest.Registry
	broadcast *broadcast.Dispatcher
	http      *httpd.Service
	cmds      *Commands

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	tcfg, _ := mapTelegramConfig(cfg)
	ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	scfg, _ := mapStorageConfig(cfg)
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("path", scfg.Path))

	m := metrics.New()

	rcfg, _ := mapReminderConfig(cfg)
	reminders := reminder.New(rcfg, store, ad, log, reminder.WithMetrics(m))

	dcfg, _ := mapDigestConfig(cfg)
	digests := digest.New(dcfg, store, ad, log, digest.WithMetrics(m))

	bcfg, _ := mapBroadcastConfig(cfg)
	disp := broadcast.New(bcfg, store, ad, log, broadcast.WithMetrics(m))

	hcfg, _ := mapHTTPConfig(cfg)
	httpSvc := httpd.New(hcfg, m.Handler(), map[string]httpd.HealthFunc{
		"storage": store.Ping,
	}, log)

	cmds := NewCommands(log.With(logx.String("comp", "commands")), ad, disp, digests, store, cfg.Telegram.OwnerUserIDs)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		adapter:   ad,
		store:     store,
		metrics:   m,
		reminders: reminders,
		digests:   digests,
		broadcast: disp,
		http:      httpSvc,
		cmds:      cmds,
		updates:   make(chan kit.Update, 256),
	}, nil
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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.reminders.Enabled() {
		a.reminders.Start(a.sup.Context())
	}
	// Start always: it records the run context so a later reload can enable digests.
	if err := a.digests.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("reminders", a.reminders.Enabled()),
		logx.Bool("digests", a.digests.Enabled()),
		logx.Bool("http", a.http.Enabled()),
	)
	return nil
}

// applyConfig pushes a validated config into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	if prev != nil && (prev.Storage != next.Storage || prev.Telegram.Token != next.Telegram.Token) {
		a.log.Warn("storage or telegram token changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.cmds.SetOwners(next.Telegram.OwnerUserIDs)
	a.adapter.SetRate(next.Telegram.RatePerSec)

	if rcfg, err := mapReminderConfig(next); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.reminders.Enabled()
		a.reminders.Apply(rcfg)
		switch {
		case wasEnabled && !rcfg.Enabled:
			a.log.Info("reminders disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			_ = a.reminders.Stop(stopCtx)
			cancel()
		case !wasEnabled && rcfg.Enabled:
			a.log.Info("reminders enabled via config")
			a.reminders.Start(ctx)
		}
	}

	if dcfg, err := mapDigestConfig(next); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	} else {
		a.digests.Apply(dcfg)
	}

	if bcfg, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.broadcast.Apply(bcfg)
	}

	if hcfg, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

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

	step("reminders", 3*time.Second, a.reminders.Stop)
	step("digests", 3*time.Second, func(c context.Context) error { a.digests.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	// supervised goroutines include the command dispatcher, which lets a running
	// broadcast finish its current batch and write its log
	step("supervisor", 20*time.Second, a.sup.Wait)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
