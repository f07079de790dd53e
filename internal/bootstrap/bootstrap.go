// Package bootstrap assembles the service dependency graph shared by the
// server and run commands.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/simply-migrate/simply-migrate/internal/config"
	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/executor"
	"github.com/simply-migrate/simply-migrate/pkg/orchestrator"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// App bundles the long-lived components of a running instance.
type App struct {
	Config       *config.Config
	Logger       hclog.Logger
	Store        state.Store
	Registry     *callback.Registry
	Pool         *dispatch.Pool
	Emitter      dispatch.ProgressEmitter
	Orchestrator *orchestrator.Orchestrator
}

// New builds the full dependency graph from the configuration. A state store
// that cannot be reached is a startup failure.
func New(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*App, error) {
	var (
		store state.Store
		err   error
	)
	if cfg.RedisURL != "" {
		store, err = state.NewRedisStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis state store")
	} else {
		store = state.NewMemoryStore()
		logger.Warn("no redis_url configured, job state will not survive restarts")
	}

	registry := callback.NewRegistry(logger)
	if cfg.CallbackFile != "" {
		hooks, err := callback.PluginLoader{Path: cfg.CallbackFile}.Load()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to load callbacks: %w", err)
		}
		registry.RegisterHooks(hooks)
		logger.Info("loaded callbacks", "path", cfg.CallbackFile)
	}

	var emitter dispatch.ProgressEmitter = dispatch.NopEmitter{}
	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		emitter, err = dispatch.NewKafkaEmitter(dispatch.KafkaEmitterConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ProgressTopic,
			Logger:  logger,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("progress events enabled", "topic", cfg.Kafka.ProgressTopic)
	}

	pool := dispatch.NewPool(dispatch.PoolConfig{
		Workers:       cfg.Workers,
		SoftTimeLimit: time.Duration(cfg.SoftTimeLimitSeconds) * time.Second,
		HardTimeLimit: time.Duration(cfg.HardTimeLimitSeconds) * time.Second,
		Logger:        logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store:      store,
		Registry:   registry,
		Dispatcher: pool,
		Executor:   executor.NewPostgresExecutor(logger),
		Emitter:    emitter,
		Logger:     logger,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Registry:     registry,
		Pool:         pool,
		Emitter:      emitter,
		Orchestrator: orch,
	}, nil
}

// Close shuts the components down in dependency order.
func (a *App) Close() {
	a.Pool.Close()
	a.Emitter.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("failed to close state store", "error", err)
	}
}
