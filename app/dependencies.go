// Package app wires configuration, storage, services and transport concerns
// into one dependency container shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/regenfab/regenops/config"
	"github.com/regenfab/regenops/middleware"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/repositories/postgres"
	"github.com/regenfab/regenops/services/evidence"
	"github.com/regenfab/regenops/services/idempotency"
	"github.com/regenfab/regenops/services/orchestrator"
	"github.com/regenfab/regenops/services/outbox"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Dependencies holds every constructed component of the application.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	RepoFactory  *postgres.RepositoryFactory
	Repos        *repositories.Repositories
	TxManager    repositories.TransactionManager
	Ledger       *evidence.Ledger
	Guard        *idempotency.Guard
	Dispatcher   *outbox.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Auth         *middleware.AuthMiddleware
}

// NewDependencies builds the full dependency graph from configuration.
// The database schema is initialized here so every caller starts against a
// migrated store.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	repoFactory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}
	if err := repoFactory.InitSchema(ctx); err != nil {
		_ = repoFactory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	repos := repoFactory.NewRepositories()
	txManager := repoFactory.GetTransactionManager()

	ledger := evidence.NewLedger(repos.Evidence, logger)
	guard := idempotency.NewGuard(repos.Idempotency, cfg.Policy.IdempotencyTTL, logger)

	dispatcher := outbox.NewDispatcher(repos.Outbox, outbox.NewLogPublisher(logger), logger, outbox.Config{
		PollInterval:  cfg.Dispatcher.PollInterval,
		BatchSize:     cfg.Dispatcher.BatchSize,
		WorkerCount:   cfg.Dispatcher.WorkerCount,
		MaxAttempts:   cfg.Dispatcher.MaxAttempts,
		BaseBackoff:   cfg.Dispatcher.BaseBackoff,
		MaxBackoff:    cfg.Dispatcher.MaxBackoff,
		ProcessingTTL: cfg.Dispatcher.ProcessingTTL,
	})

	orch := orchestrator.NewOrchestrator(repos, txManager, ledger, guard, orchestrator.Policy{
		RequireSignature:   cfg.Policy.RequireSignature,
		RequireDualControl: cfg.Policy.RequireDualControl,
		DriftThreshold:     cfg.Policy.DriftThreshold,
	}, logger)

	auth := middleware.NewAuthMiddleware(
		middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		logger,
	)

	return &Dependencies{
		Config:       cfg,
		Logger:       logger,
		RepoFactory:  repoFactory,
		Repos:        repos,
		TxManager:    txManager,
		Ledger:       ledger,
		Guard:        guard,
		Dispatcher:   dispatcher,
		Orchestrator: orch,
		Auth:         auth,
	}, nil
}

// Close releases all held resources. Safe to call once after the server has
// stopped; the dispatcher is stopped first so it cannot touch a closed pool.
func (d *Dependencies) Close() error {
	if err := d.Dispatcher.Stop(10 * time.Second); err != nil {
		d.Logger.Warn("dispatcher did not stop cleanly", zap.Error(err))
	}

	if err := d.RepoFactory.Close(); err != nil {
		return fmt.Errorf("failed to close repository factory: %w", err)
	}

	_ = d.Logger.Sync()
	return nil
}

// NewLogger builds the application logger from observability configuration.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Observability.LogFormat == "text" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
