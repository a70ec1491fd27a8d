// Package app wires configuration, logging, storage, the Telegram adapter,
// and the command router into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/services/maint"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

const defaultMaintSchedule = "30 3 * * *"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter kit.Adapter
	router  *relay.Router
	maint   *maint.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies the config immediately. Telegram mirroring would warn
	// about a missing target at that point, so it starts disabled and is
	// switched on once the target is set.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	router := relay.NewRouter(log.With(logx.String("comp", "relay")),
		ad, store, store, cfg.Telegram.OwnerUserIDs)

	maintSvc := maint.New(mapMaintConfig(cfg), store,
		log.With(logx.String("comp", "maint")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		router:  router,
		maint:   maintSvc,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop).
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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token must not be empty")
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
			if _, err := strconv.ParseInt(gl, 10, 64); err != nil {
				return fmt.Errorf("telegram.group_log: not a chat id: %q", gl)
			}
		}
		return mapMaintConfig(cfg).Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.maint.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("relay.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies committed config changes at runtime: log sinks, owner
// list, and the maintenance schedule. Storage and telegram token changes
// need a restart and are only warned about.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.applyReload(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	if old != nil && (old.Storage != cfg.Storage || old.Telegram.Token != cfg.Telegram.Token) {
		a.log.Warn("storage or telegram token changed; restart required to take effect")
	}

	applyLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogConfig(cfg))

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	if old == nil || old.Maintenance != cfg.Maintenance {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.maint.Stop(stopCtx)
		cancel()
		a.maint = maint.New(mapMaintConfig(cfg), a.store,
			a.log.With(logx.String("comp", "maint")))
		if err := a.maint.Start(ctx); err != nil {
			a.log.Warn("maintenance restart failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component cannot stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name),
			logx.Duration("took", time.Since(start)))
	}

	step("maintenance", 2*time.Second, a.maint.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	gl := strings.TrimSpace(cfg.Telegram.GroupLog)
	if gl == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./relaybot.db"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapMaintConfig(cfg *config.Config) maint.Config {
	schedule := strings.TrimSpace(cfg.Maintenance.Schedule)
	if schedule == "" {
		schedule = defaultMaintSchedule
	}
	return maint.Config{Enabled: cfg.Maintenance.Enabled, Schedule: schedule}
}
