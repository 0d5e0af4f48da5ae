// Package app wires configuration, storage, the Telegram adapter, the
// trainer and its timer into one process with a shared lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drillbot/internal/bot"
	"drillbot/internal/config"
	"drillbot/internal/eventbus"
	"drillbot/internal/export"
	"drillbot/internal/runtime/supervisor"
	"drillbot/internal/scenario"
	"drillbot/internal/schedule"
	"drillbot/internal/storage"
	"drillbot/internal/training"
	kit "drillbot/internal/transport"
	"drillbot/internal/transport/telegram"
	logx "drillbot/pkg/logx"
	"drillbot/pkg/systemd"
)

const routerWorkers = 8

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter
	trainer *training.Trainer
	sched   *schedule.Service
	bot     *bot.Bot

	// scenarioPath is the path the stored scenario was last loaded from.
	scenarioPath string

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rs, err := mapRuntime(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Buttons:     bot.MenuButtons(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply doesn't warn about a
	// missing target, then point it at the log chat and apply the real config.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID := groupLogChat(cfg); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	trainer := training.NewTrainer(store, bot.NewGateway(ad), training.Options{
		Window:   rs.Window,
		Delivery: rs.Delivery,
		Render:   bot.RenderItem,
		Bus:      bus,
	}, log)

	items, err := scenario.Load(rs.ScenarioPath)
	if err == nil {
		err = trainer.LoadScenario(context.Background(), items)
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	sched := schedule.New(rs.Schedule, func(ctx context.Context) error {
		_, err := trainer.OnTimerTick(ctx)
		return err
	}, log)

	b := bot.New(bot.Deps{
		Trainer:  trainer,
		Exporter: export.New(store, rs.Window.Loc, cfg.Export.Dir, log),
		Adapter:  ad,
		Audit:    store,
		NextTick: sched.Next,
		Workers:  routerWorkers,
	}, rs.Bot, log)

	log = log.With(logx.String("comp", "app"))
	log.Info("scenario loaded", logx.Int("items", len(items)), logx.String("source", scenarioSource(rs.ScenarioPath)))

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		adapter:      ad,
		trainer:      trainer,
		sched:        sched,
		bot:          b,
		scenarioPath: rs.ScenarioPath,
		updates:      make(chan kit.Update, 256),
	}, nil
}

func scenarioSource(path string) string {
	if strings.TrimSpace(path) == "" {
		return "embedded"
	}
	return path
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

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("bot.router", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})
	a.sup.Go("bot.events", func(c context.Context) error {
		return a.bot.WatchEvents(c, a.bus)
	})

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
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", time.Second, 30*time.Second, true, func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into the running services. The
// manager only publishes configs that passed validation.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := summarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if keys := restartOnly(prev, next); len(keys) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	a.logs.SetTelegramTarget(groupLogChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogging(next))

	rs, err := mapRuntime(next)
	if err != nil {
		a.log.Warn("invalid training config; keeping previous", logx.Err(err))
		return
	}
	a.trainer.Apply(rs.Window, rs.Delivery)
	if err := a.sched.Apply(rs.Schedule); err != nil {
		a.log.Error("reschedule failed", logx.Err(err))
	}
	a.bot.Apply(rs.Bot)

	if rs.ScenarioPath != a.scenarioPath {
		if err := a.reloadScenario(ctx, rs.ScenarioPath); err != nil {
			a.log.Error("scenario reload failed; keeping previous", logx.String("path", rs.ScenarioPath), logx.Err(err))
		}
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

func (a *App) reloadScenario(ctx context.Context, path string) error {
	items, err := scenario.Load(path)
	if err != nil {
		return err
	}
	if err := a.trainer.LoadScenario(ctx, items); err != nil {
		return err
	}
	a.scenarioPath = path
	a.log.Info("scenario reloaded", logx.Int("items", len(items)), logx.String("source", scenarioSource(path)))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler waits for a running tick to unwind before the adapter
	// goes away.
	step("scheduler", 30*time.Second, a.sched.Stop)
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
