package postgres

import (
	"context"

	"github.com/regenfab/regenops/config"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db            *DB
	logger        *zap.Logger
	claimStrategy ClaimStrategy
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	return &RepositoryFactory{
		db:            db,
		logger:        logger,
		claimStrategy: ClaimStrategySkipLocked,
	}, nil
}

// InitSchema initializes the database schema, then probes the outbox claim
// strategy. The probe runs after migration so a fresh database, whose
// outbox_events table did not exist a moment ago, is not mistaken for a
// store without SKIP LOCKED support.
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	f.claimStrategy = DetectClaimStrategy(ctx, f.db, f.logger)
	return nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Protocols:   NewProtocolRepository(f.db, f.logger),
		Approvals:   NewApprovalRepository(f.db, f.logger),
		Runs:        NewRunRepository(f.db, f.logger),
		Gateways:    NewGatewayRepository(f.db, f.logger),
		Drift:       NewDriftRepository(f.db, f.logger),
		Evidence:    NewEvidenceRepository(f.db, f.logger),
		Outbox:      NewOutboxRepository(f.db, f.logger, f.claimStrategy),
		Idempotency: NewIdempotencyRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
