// Package app wires configuration, logging, the state store, the event
// service, the checkpoint loop, and the Telegram transport into one process.
package app

import (
	"context"
	"fmt"
	"sync"

	"eventbot/internal/audit"
	"eventbot/internal/checkpoint"
	"eventbot/internal/config"
	"eventbot/internal/event"
	"eventbot/internal/store"
	"eventbot/internal/transport/telegram"
	logx "eventbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	st  *store.Store
	au  audit.Store
	ev  *event.Service
	chk *checkpoint.Service
	bot *telegram.Bot

	stopOnce    sync.Once
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New builds the whole process from the config file and the bot token.
//
// A snapshot that exists but cannot be decoded comes back as an error
// wrapping store.ErrCorruptState; main turns that into a distinct exit code
// instead of starting with an empty store.
func New(cfgPath, token string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	st, err := store.Open(cfg.State.Path, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	var au audit.Store
	if cfg.Audit != nil {
		busy, derr := config.ParseDurationField("audit.busy_timeout", cfg.Audit.BusyTimeout)
		if derr != nil {
			_ = logSvc.Close()
			return nil, derr
		}
		au, err = audit.Open(audit.Config{
			Driver:      cfg.Audit.Driver,
			Path:        cfg.Audit.Path,
			BusyTimeout: busy,
		}, logSvc.Logger().With(logx.String("comp", "audit")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
	}

	ev, err := event.NewService(st, au, logSvc.Logger().With(logx.String("comp", "event")))
	if err != nil {
		closeAll(au, logSvc)
		return nil, err
	}

	grace, err := config.ParseDurationOrDefault("state.expiry_grace", cfg.State.ExpiryGrace, 0)
	if err != nil {
		closeAll(au, logSvc)
		return nil, err
	}
	chk := checkpoint.New(checkpoint.Config{
		Spec:        cfg.State.Checkpoint,
		ExpiryGrace: grace,
	}, st, ev, logSvc.Logger().With(logx.String("comp", "checkpoint")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
	if err != nil {
		closeAll(au, logSvc)
		return nil, err
	}
	bot, err := telegram.New(telegram.Config{
		Token:        token,
		AdminUserIDs: cfg.Telegram.AdminUserIDs,
		PollTimeout:  pollTimeout,
		RatePerSec:   cfg.Telegram.RatePerSec,
	}, ev, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		closeAll(au, logSvc)
		return nil, fmt.Errorf("telegram: %w", err)
	}
	// Promotions and expiry announce themselves in the /setlog chat.
	ev.SetNotifier(bot)

	return &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log,
		st:   st,
		au:   au,
		ev:   ev,
		chk:  chk,
		bot:  bot,
	}, nil
}

// Start launches the checkpoint loop, the config watcher, and Telegram
// polling. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	if err := a.chk.Start(); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		if err := a.cfgm.Watch(wctx, a.applyConfig); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	a.bot.Start(ctx)
	a.log.Info("eventbot started", logx.String("state", a.st.Path()))
	return nil
}

// applyConfig pushes hot-reloadable knobs into the running services.
// Storage and telegram settings intentionally require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	grace, err := config.ParseDurationOrDefault("state.expiry_grace", cfg.State.ExpiryGrace, 0)
	if err != nil {
		a.log.Warn("reload: bad expiry grace", logx.Err(err))
		return
	}
	if err := a.chk.Apply(checkpoint.Config{
		Spec:        cfg.State.Checkpoint,
		ExpiryGrace: grace,
	}); err != nil {
		a.log.Warn("reload: checkpoint schedule unchanged", logx.Err(err))
	}
}

// Stop shuts everything down in dependency order and writes the final
// checkpoint before the store goes away.
func (a *App) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.bot.Stop(ctx)
		if a.watchCancel != nil {
			a.watchCancel()
			select {
			case <-a.watchDone:
			case <-ctx.Done():
			}
		}
		err = a.chk.Stop(ctx)
		if a.au != nil {
			if cerr := a.au.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		a.log.Info("eventbot stopped")
		_ = a.logs.Close()
	})
	return err
}

func closeAll(au audit.Store, logs *logx.Service) {
	if au != nil {
		_ = au.Close()
	}
	if logs != nil {
		_ = logs.Close()
	}
}
