package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// ClaimStrategy selects how pending outbox rows are claimed.
type ClaimStrategy int

const (
	// ClaimStrategySkipLocked claims with SELECT ... FOR UPDATE SKIP LOCKED
	// inside one transaction.
	ClaimStrategySkipLocked ClaimStrategy = iota
	// ClaimStrategyConditionalUpdate claims with per-row conditional updates,
	// keeping only rows whose update affected exactly one row. Used when the
	// backing store does not support the locking hint.
	ClaimStrategyConditionalUpdate
)

// OutboxRepository implements the durable delivery queue. The claim strategy
// is detected once after schema initialization, never re-probed per call, so
// real transient errors are not masked as an unsupported feature.
type OutboxRepository struct {
	db       *DB
	logger   *zap.Logger
	strategy ClaimStrategy
}

// NewOutboxRepository creates an outbox repository with an explicit strategy.
func NewOutboxRepository(db *DB, logger *zap.Logger, strategy ClaimStrategy) repositories.OutboxRepository {
	return &OutboxRepository{
		db:       db,
		logger:   logger,
		strategy: strategy,
	}
}

// PostgreSQL error codes marking the claim probe as a feature gap rather
// than a transient failure.
const (
	pqFeatureNotSupported = "0A000"
	pqSyntaxError         = "42601"
)

// DetectClaimStrategy probes whether the store accepts FOR UPDATE SKIP LOCKED.
// Only a feature or syntax error demotes the strategy; any other failure, a
// missing table or a dropped connection, keeps the default.
func DetectClaimStrategy(ctx context.Context, db *DB, logger *zap.Logger) ClaimStrategy {
	_, err := db.ExecContext(ctx, `SELECT id FROM outbox_events WHERE false FOR UPDATE SKIP LOCKED`)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == pqFeatureNotSupported || pqErr.Code == pqSyntaxError) {
			logger.Warn("store does not support SKIP LOCKED, using conditional-update claims", zap.Error(err))
			return ClaimStrategyConditionalUpdate
		}
		logger.Warn("outbox claim probe failed, keeping SKIP LOCKED claims", zap.Error(err))
		return ClaimStrategySkipLocked
	}
	logger.Info("outbox claims will use SKIP LOCKED")
	return ClaimStrategySkipLocked
}

// Enqueue persists a pending integration event.
func (r *OutboxRepository) Enqueue(ctx context.Context, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (id, tenant_id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.Attempts,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}

	r.logger.Debug("outbox event enqueued",
		zap.String("id", event.ID.String()),
		zap.String("event_type", event.EventType))
	return nil
}

// ClaimPending releases stuck claims, then claims up to limit due PENDING
// rows using the detected strategy. Batches handed to concurrent callers are
// always disjoint.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, processingTTL time.Duration) ([]*models.OutboxEvent, error) {
	now := time.Now()

	if err := r.releaseStuck(ctx, now, processingTTL); err != nil {
		return nil, err
	}

	var (
		ids []uuid.UUID
		err error
	)
	if r.strategy == ClaimStrategySkipLocked {
		ids, err = r.claimSkipLocked(ctx, limit, now)
	} else {
		ids, err = r.claimConditional(ctx, limit, now)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return r.loadByIDs(ctx, ids)
}

// releaseStuck returns PROCESSING rows whose claim outlived the TTL to
// PENDING, recovering from workers that died between claim and ack.
func (r *OutboxRepository) releaseStuck(ctx context.Context, now time.Time, processingTTL time.Duration) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL
		WHERE status = $2 AND processing_started_at < $3
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		models.OutboxStatusPending, models.OutboxStatusProcessing, now.Add(-processingTTL))
	if err != nil {
		return fmt.Errorf("failed to release stuck outbox claims: %w", err)
	}

	if released, err := result.RowsAffected(); err == nil && released > 0 {
		r.logger.Warn("released stuck outbox claims", zap.Int64("count", released))
	}
	return nil
}

func (r *OutboxRepository) claimSkipLocked(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := `
		SELECT id FROM outbox_events
		WHERE status = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, models.OutboxStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable events: %w", err)
	}

	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	updateQuery := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = $2
		WHERE id = ANY($3)
	`
	if _, err := tx.ExecContext(ctx, updateQuery, models.OutboxStatusProcessing, now, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to mark events processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return ids, nil
}

// claimConditional selects candidates without locking, then races per row:
// a concurrent winner simply costs this caller the row, never an error.
func (r *OutboxRepository) claimConditional(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	executor := GetExecutor(ctx, r.db)

	selectQuery := `
		SELECT id FROM outbox_events
		WHERE status = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := executor.QueryContext(ctx, selectQuery, models.OutboxStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidates: %w", err)
	}

	candidates, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = $2
		WHERE id = $3 AND status = $4
	`
	var claimed []uuid.UUID
	for _, id := range candidates {
		result, err := executor.ExecContext(ctx, updateQuery,
			models.OutboxStatusProcessing, now, id, models.OutboxStatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read claim result: %w", err)
		}
		if affected == 1 {
			claimed = append(claimed, id)
		}
	}

	return claimed, nil
}

// MarkProcessed finalizes a delivered event.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox_events SET status = $1, processing_started_at = NULL WHERE id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, models.OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return requireOneRow(result, id)
}

// ScheduleRetry returns a claimed event to PENDING with the attempt counted.
func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string) error {
	query := `
		UPDATE outbox_events
		SET status = $1, attempts = attempts + 1, next_attempt_at = $2,
		    processing_started_at = NULL, last_error = $3
		WHERE id = $4
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, models.OutboxStatusPending, nextAttemptAt, reason, id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return requireOneRow(result, id)
}

// MoveToDeadLetter copies the event into dead-letter storage and removes it
// from the active set, atomically.
func (r *OutboxRepository) MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin dead-letter transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	copyQuery := `
		INSERT INTO dead_letter_events (id, tenant_id, event_type, payload, attempts, reason, failed_at)
		SELECT id, tenant_id, event_type, payload, attempts + 1, $2, $3
		FROM outbox_events
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, copyQuery, id, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to copy event to dead letter: %w", err)
	}
	if err := requireOneRow(result, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove dead-lettered event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead-letter move: %w", err)
	}

	r.logger.Warn("outbox event dead-lettered",
		zap.String("id", id.String()),
		zap.String("reason", reason))
	return nil
}

// ListDeadLetter lists dead-lettered events for a tenant, newest first.
func (r *OutboxRepository) ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetterEvent, error) {
	query := `
		SELECT id, tenant_id, event_type, payload, attempts, reason, failed_at
		FROM dead_letter_events
		WHERE tenant_id = $1
		ORDER BY failed_at DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter events: %w", err)
	}
	defer rows.Close()

	var events []*models.DeadLetterEvent
	for rows.Next() {
		event := &models.DeadLetterEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.TenantID,
			&event.EventType,
			&event.Payload,
			&event.Attempts,
			&event.Reason,
			&event.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead-letter event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead-letter rows: %w", err)
	}

	return events, nil
}

// ReplayDeadLetter transactionally clones a dead-letter entry back into the
// pending queue and deletes it; both happen or neither.
func (r *OutboxRepository) ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin replay transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	event := &models.OutboxEvent{}
	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT tenant_id, event_type, payload FROM dead_letter_events WHERE id = $1`, id,
	).Scan(&event.TenantID, &event.EventType, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("dead-letter event %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read dead-letter event: %w", err)
	}

	event.ID = uuid.New()
	event.Payload = payload
	event.Status = models.OutboxStatusPending
	event.CreatedAt = time.Now()

	insert := `
		INSERT INTO outbox_events (id, tenant_id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`
	if _, err := tx.ExecContext(ctx, insert,
		event.ID, event.TenantID, event.EventType, payload, event.Status, event.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to requeue dead-letter event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter_events WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete dead-letter event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit replay: %w", err)
	}

	r.logger.Info("dead-letter event replayed",
		zap.String("dead_letter_id", id.String()),
		zap.String("new_id", event.ID.String()))
	return event, nil
}

func (r *OutboxRepository) loadByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, tenant_id, event_type, payload, status, attempts,
		       next_attempt_at, processing_started_at, last_error, created_at
		FROM outbox_events
		WHERE id = ANY($1)
		ORDER BY created_at
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		event := &models.OutboxEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.TenantID,
			&event.EventType,
			&event.Payload,
			&event.Status,
			&event.Attempts,
			&event.NextAttemptAt,
			&event.ProcessingStartedAt,
			&event.LastError,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}

	// A claimed row disappearing before this read would mean the store lost
	// a committed update; treat as fatal rather than user-facing.
	if len(events) != len(ids) {
		return nil, fmt.Errorf("claimed %d outbox events but loaded %d", len(ids), len(events))
	}

	return events, nil
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating id rows: %w", err)
	}
	return ids, nil
}

func requireOneRow(result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox event %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}
