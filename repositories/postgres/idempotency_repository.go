package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// IdempotencyRepository implements the repositories.IdempotencyRepository interface
type IdempotencyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *DB, logger *zap.Logger) repositories.IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		logger: logger,
	}
}

// Remember records (operation, key, payloadHash) and classifies the request.
// Expired records are pruned lazily on access, so an expired key behaves as
// if it was never seen. Two racing first requests both resolve: the loser of
// the insert race re-reads the winner's record and classifies against it.
func (r *IdempotencyRepository) Remember(ctx context.Context, operation, key, payloadHash string, ttl time.Duration) (models.IdempotencyOutcome, error) {
	if ttl < models.MinIdempotencyTTL {
		ttl = models.MinIdempotencyTTL
	}
	now := time.Now()

	executor := GetExecutor(ctx, r.db)

	if _, err := executor.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE operation = $1 AND key = $2 AND expires_at <= $3`,
		operation, key, now); err != nil {
		return "", fmt.Errorf("failed to prune expired idempotency record: %w", err)
	}

	result, err := executor.ExecContext(ctx, `
		INSERT INTO idempotency_records (operation, key, payload_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operation, key) DO NOTHING
	`, operation, key, payloadHash, now.Add(ttl), now)
	if err != nil {
		return "", fmt.Errorf("failed to store idempotency record: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency insert result: %w", err)
	}
	if inserted == 1 {
		return models.IdempotencyStored, nil
	}

	var existingHash string
	err = executor.QueryRowContext(ctx,
		`SELECT payload_hash FROM idempotency_records WHERE operation = $1 AND key = $2`,
		operation, key,
	).Scan(&existingHash)
	if err != nil {
		if err == sql.ErrNoRows {
			// The conflicting record expired and was pruned between our
			// insert and this read. Treat the request as seen anyway.
			return models.IdempotencyDuplicateMatch, nil
		}
		return "", fmt.Errorf("failed to read existing idempotency record: %w", err)
	}

	if existingHash == payloadHash {
		return models.IdempotencyDuplicateMatch, nil
	}

	r.logger.Warn("idempotency key reused with different payload",
		zap.String("operation", operation),
		zap.String("key", key))
	return models.IdempotencyDuplicateMismatch, nil
}
