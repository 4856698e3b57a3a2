// Package app composes the core into a running application with fx.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/cache"
	"github.com/dfalcao/parley/internal/config"
	"github.com/dfalcao/parley/internal/lock"
	"github.com/dfalcao/parley/internal/logging"
	"github.com/dfalcao/parley/internal/profile"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/search"
	"github.com/dfalcao/parley/internal/status"
	"github.com/dfalcao/parley/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	DBPath      string // optional override for testing; empty = profile default
	ConsoleLog  bool   // tee logs to stderr; off under the TUI
}

// Module returns the fx module for the application core, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("core",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRepository,
			provideCurrentUser,
			provideScheduler,
			provideReconciler,
			provideSearchEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

// currentUser names the identity all chat operations run as.
type currentUser string

func provideConfig() *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		// Missing config is normal on first run.
		return &config.Config{
			DeliveryDelayMS:  config.DefaultDeliveryDelayMS,
			SearchDebounceMS: config.DefaultSearchDebounceMS,
		}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.ConsoleLog)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.DBPath
	if dbPath == "" {
		dbPath = profile.DBPath(p.ProfileName)
	}
	db, err := store.Open(dbPath)
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

	seeded, err := db.Seeded()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !seeded {
		if err := db.SeedDemo(); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("demo data seeded")
	}

	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRepository(db *store.DB, logger *zap.Logger) *repo.Repository {
	return repo.New(db, logger)
}

func provideCurrentUser(cfg *config.Config, db *store.DB) (currentUser, error) {
	if cfg.CurrentUser != "" {
		return currentUser(cfg.CurrentUser), nil
	}
	users, err := db.ListUsers()
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("no users in store and no current_user configured")
	}
	// ListUsers orders by name; prefer the lowest id as the stable default.
	me := users[0].ID
	for _, u := range users[1:] {
		if u.ID < me {
			me = u.ID
		}
	}
	return currentUser(me), nil
}

func provideScheduler(r *repo.Repository, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *status.Scheduler {
	delay := time.Duration(cfg.DeliveryDelayMS) * time.Millisecond
	return status.NewScheduler(r, b, delay, logger)
}

func provideReconciler(r *repo.Repository, s *status.Scheduler, b *bus.Bus, me currentUser, logger *zap.Logger) *cache.Reconciler {
	return cache.New(r, s, b, string(me), logger)
}

func provideSearchEngine(db *store.DB, rec *cache.Reconciler, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *search.Engine {
	debounce := time.Duration(cfg.SearchDebounceMS) * time.Millisecond
	return search.New(db, rec, b, debounce, logger)
}

func registerLifecycle(lc fx.Lifecycle, rec *cache.Reconciler, sched *status.Scheduler, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return rec.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			sched.Stop()
			rec.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("core stopped")
			return nil
		},
	})
}
