package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/regenfab/regenops/internal/canonjson"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// EvidenceRepository implements the hash-chained evidence ledger over
// PostgreSQL. Appends for the same tenant are serialized with a transactional
// advisory lock, so reading the chain head and inserting the next link can
// never interleave between writers.
type EvidenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *DB, logger *zap.Logger) repositories.EvidenceRepository {
	return &EvidenceRepository{
		db:     db,
		logger: logger,
	}
}

// AppendEvent links the event to the tenant's chain head and inserts it.
// When the context carries a transaction the append joins it; otherwise the
// repository opens its own. The advisory lock is transaction-scoped, so the
// serialization window always covers both the read and the insert.
func (r *EvidenceRepository) AppendEvent(ctx context.Context, event *models.EvidenceEvent) error {
	if _, ok := GetTransactionFromContext(ctx); ok {
		return r.appendLocked(ctx, GetExecutor(ctx, r.db), event)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin evidence transaction: %w", err)
	}

	if err := r.appendLocked(ctx, tx, event); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evidence append: %w", err)
	}
	return nil
}

func (r *EvidenceRepository) appendLocked(ctx context.Context, executor Executor, event *models.EvidenceEvent) error {
	if _, err := executor.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.TenantID); err != nil {
		return fmt.Errorf("failed to acquire tenant chain lock: %w", err)
	}

	var prevHash string
	err := executor.QueryRowContext(ctx,
		`SELECT event_hash FROM evidence_events WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
		event.TenantID,
	).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	event.PrevHash = prevHash
	event.EventHash = models.ComputeEventHash(
		event.TenantID,
		event.PrevHash,
		event.PayloadHash,
		event.ActionType,
		event.ActorID,
		event.ResourceType,
		event.ResourceID,
		event.CreatedAtMs,
	)

	insert := `
		INSERT INTO evidence_events (id, tenant_id, action_type, actor_id, resource_type, resource_id,
		                             payload, payload_hash, prev_hash, event_hash, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`
	err = executor.QueryRowContext(ctx, insert,
		event.ID,
		event.TenantID,
		event.ActionType,
		event.ActorID,
		event.ResourceType,
		event.ResourceID,
		string(event.Payload),
		event.PayloadHash,
		event.PrevHash,
		event.EventHash,
		event.CreatedAtMs,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("failed to append evidence event: %w", err)
	}

	r.logger.Debug("evidence event appended",
		zap.String("tenant_id", event.TenantID),
		zap.String("action_type", event.ActionType),
		zap.Int64("seq", event.Seq))
	return nil
}

// VerifyChain replays up to limit events oldest-first, recomputing both
// hashes at every step. Verification stops at the first broken entry.
func (r *EvidenceRepository) VerifyChain(ctx context.Context, tenantID string, limit int) (*models.ChainVerification, error) {
	query := `
		SELECT id, seq, tenant_id, action_type, actor_id, resource_type, resource_id,
		       payload, payload_hash, prev_hash, event_hash, created_at_ms
		FROM evidence_events
		WHERE tenant_id = $1
		ORDER BY seq
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence chain: %w", err)
	}
	defer rows.Close()

	var events []*models.EvidenceEvent
	for rows.Next() {
		event := &models.EvidenceEvent{}
		var payload string
		if err := rows.Scan(
			&event.ID,
			&event.Seq,
			&event.TenantID,
			&event.ActionType,
			&event.ActorID,
			&event.ResourceType,
			&event.ResourceID,
			&payload,
			&event.PayloadHash,
			&event.PrevHash,
			&event.EventHash,
			&event.CreatedAtMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evidence event: %w", err)
		}
		event.Payload = []byte(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence rows: %w", err)
	}

	return VerifyEvents(events), nil
}

// VerifyEvents replays an ordered slice of evidence events and reports the
// first broken link. Exposed for verification against already loaded chains.
func VerifyEvents(events []*models.EvidenceEvent) *models.ChainVerification {
	expectedPrev := ""
	for i, event := range events {
		canonical, err := canonjson.Canonicalize(event.Payload)
		if err != nil {
			return failVerification(i, fmt.Sprintf("payload is not valid JSON: %v", err))
		}
		if models.ComputePayloadHash(canonical) != event.PayloadHash {
			return failVerification(i, "payload hash mismatch")
		}
		if event.PrevHash != expectedPrev {
			return failVerification(i, "previous hash mismatch")
		}
		recomputed := models.ComputeEventHash(
			event.TenantID,
			event.PrevHash,
			event.PayloadHash,
			event.ActionType,
			event.ActorID,
			event.ResourceType,
			event.ResourceID,
			event.CreatedAtMs,
		)
		if recomputed != event.EventHash {
			return failVerification(i, "event hash mismatch")
		}
		expectedPrev = event.EventHash
	}

	return &models.ChainVerification{
		Valid:        true,
		Checked:      len(events),
		FailureIndex: -1,
	}
}

func failVerification(index int, reason string) *models.ChainVerification {
	return &models.ChainVerification{
		Valid:        false,
		Checked:      index,
		FailureIndex: index,
		Reason:       reason,
	}
}
