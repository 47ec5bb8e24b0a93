// Package daemon composes the gateway process: config, lock, store,
// attachment server, the session manager and its housekeeping.
package daemon

import (
	"context"
	"fmt"

	"github.com/hbruning/xgw/internal/attach"
	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/lock"
	"github.com/hbruning/xgw/internal/logging"
	"github.com/hbruning/xgw/internal/session"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds what main resolved before handing control to fx: the
// loaded config and the adapter factories compiled into this binary.
type Params struct {
	Config    *config.Config
	Factories map[string]legacy.Factory
}

// Module returns the fx module for the gateway daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAttachServer,
			provideBlobStore,
			provideEmitter,
			provideManager,
			provideSweeper,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogFile(), "xgwd")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring gateway lock", zap.String("data_dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("gateway lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.StoreFile())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.StoreFile()))
	return db, nil
}

func provideAttachServer(cfg *config.Config, db *store.DB, logger *zap.Logger) *attach.Server {
	if cfg.Attachments.Listen == "" {
		return nil
	}
	baseURL := cfg.Attachments.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Attachments.Listen
	}
	return attach.New(cfg.Attachments.Listen, baseURL, cfg.AttachmentDir(), db, logger)
}

func provideBlobStore(srv *attach.Server) session.BlobStore {
	if srv == nil {
		return nil
	}
	return srv
}

func provideEmitter(b *bus.Bus, logger *zap.Logger) xmpp.Emitter {
	return NewBusEmitter(b, logger)
}

func provideManager(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, emitter xmpp.Emitter, blobs session.BlobStore, logger *zap.Logger) (*session.Manager, error) {
	factory, ok := p.Factories[cfg.Adapter]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
	return session.NewManager(cfg, db, b, emitter, factory, blobs, logger), nil
}

func registerLifecycle(lc fx.Lifecycle, p Params, mgr *session.Manager, srv *attach.Server, sw *Sweeper, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if srv != nil {
				if err := srv.Start(); err != nil {
					return err
				}
			}
			sw.Start()
			if err := mgr.Rehydrate(context.Background()); err != nil {
				return err
			}
			logger.Info("gateway started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.StopAll()
			sw.Stop()
			if srv != nil {
				if err := srv.Stop(ctx); err != nil {
					logger.Warn("attachment server shutdown", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("gateway stopped")
			return nil
		},
	})
}
