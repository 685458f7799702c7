// Package daemon composes the client daemon and the relay server with fx.
package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/api"
	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/link"
	"github.com/penguinchat/penguinchat/internal/lock"
	"github.com/penguinchat/penguinchat/internal/logging"
	"github.com/penguinchat/penguinchat/internal/profile"
	"github.com/penguinchat/penguinchat/internal/status"
	"github.com/penguinchat/penguinchat/internal/store"
	intsync "github.com/penguinchat/penguinchat/internal/sync"
)

// Params holds the resolved wallet configuration passed to the client module.
type Params struct {
	Wallet     string
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // optional; nil = resolve from ~/.penguinchat
	LogPath    string         // optional override; empty = profile log
}

// ClientModule returns the fx module for a wallet daemon.
func ClientModule(p Params) fx.Option {
	return fx.Module("penguind",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackends,
			provideSigner,
			provideUploader,
			provideScheduler,
			provideScanner,
			provideSyncEngine,
			provideReconciler,
			provideLink,
			provideSessionService,
			provideChatService,
			provideMessageService,
			provideSyncService,
			NewServer,
		),
		fx.WithLogger(zapEventLogger),
		fx.Invoke(registerLifecycle),
	)
}

func zapEventLogger(logger *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	path := p.LogPath
	if path == "" {
		path = profile.LogPath(p.Wallet)
	}
	return logging.New(path, "penguind", zap.String("wallet", p.Wallet))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Wallet); err != nil {
		return nil, err
	}
	logger.Info("acquiring wallet lock")
	l, err := lock.Acquire(profile.Dir(p.Wallet), p.Wallet)
	if err != nil {
		return nil, err
	}
	logger.Info("wallet lock acquired")
	return l, nil
}

// provideStore depends on the lock so the store is never opened by a second daemon.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.Store, error) {
	switch cfg.Store.Engine {
	case "", store.EngineSQLite:
		path := profile.SQLitePath(p.Wallet)
		db, result, err := store.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
		logger.Info("store initialized", zap.String("engine", store.EngineSQLite), zap.String("path", path))
		return store.New(db), nil
	case store.EngineLevelDB:
		dir := profile.LevelDBDir(p.Wallet)
		db, err := store.OpenLevelDB(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("engine", store.EngineLevelDB), zap.String("path", dir))
		return store.New(db), nil
	}
	return nil, fmt.Errorf("unknown store engine %q", cfg.Store.Engine)
}

func provideUploader(cfg *config.Config, st *store.Store, b *Backends, signer blob.Signer, bs *bus.Bus, logger *zap.Logger) *backup.Uploader {
	return backup.NewUploader(st, b.Publisher, signer, bs, logger, uploadOptions(cfg))
}

func provideScheduler(st *store.Store, up *backup.Uploader, logger *zap.Logger) *backup.Scheduler {
	return backup.NewScheduler(st, up, logger)
}

func provideSyncEngine(st *store.Store, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, b, logger)
}

func provideReconciler(sc *backup.Scanner, e *intsync.Engine, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(sc, e, b, logger)
}

func provideLink(p Params, cfg *config.Config, st *store.Store, b *bus.Bus, m *status.Machine, logger *zap.Logger) *link.Link {
	return link.New(p.Wallet, st, b, m, logger, link.Options{
		URL:               cfg.Relay.URL,
		HTTPURL:           cfg.Relay.HTTPURL,
		ReconnectDelay:    cfg.Relay.ReconnectDelay,
		ReconnectMaxDelay: cfg.Relay.ReconnectMaxDelay,
		PingInterval:      cfg.Relay.PingInterval,
		SendTimeout:       cfg.Relay.SendTimeout,
	})
}

func provideSessionService(p Params, m *status.Machine, st *store.Store, up *backup.Uploader) *api.SessionService {
	return api.NewSessionService(p.Wallet, m, st, up)
}

func provideChatService(p Params, st *store.Store, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.Wallet, st, b, logger)
}

func provideMessageService(p Params, l *link.Link) *api.MessageService {
	return api.NewMessageService(p.Wallet, l)
}

func provideSyncService(p Params, st *store.Store, up *backup.Uploader, sch *backup.Scheduler, rec *intsync.Reconciler, l *link.Link) *api.SyncService {
	return api.NewSyncService(p.Wallet, st, up, sch, rec, l)
}

type lifecycleDeps struct {
	fx.In

	Params     Params
	Config     *config.Config
	Server     *Server
	Lock       *lock.Lock
	Store      *store.Store
	Engine     *intsync.Engine
	Link       *link.Link
	Scheduler  *backup.Scheduler
	Reconciler *intsync.Reconciler
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Engine.Start(ctx)

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("control server error", zap.Error(err))
				}
			}()

			d.Link.Start(ctx)
			if err := d.Scheduler.Start(ctx, d.Params.Wallet); err != nil {
				return err
			}

			if d.Config.Backup.RecoverOnStart {
				go func() {
					if _, err := d.Reconciler.Reconcile(ctx, d.Params.Wallet); err != nil {
						d.Logger.Warn("startup recovery failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Scheduler.Stop()
			_ = d.Link.Stop()
			d.Engine.Stop()
			d.Server.Stop(stopCtx)
			if err := d.Store.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
