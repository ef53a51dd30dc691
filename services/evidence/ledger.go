package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/internal/canonjson"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"go.uber.org/zap"
)

// Ledger records every state-changing action as a hash-chained evidence
// event. The chain hash is computed by the repository under the per-tenant
// append lock; this service owns payload canonicalization and hashing.
type Ledger struct {
	evidenceRepo repositories.EvidenceRepository
	logger       *zap.Logger
}

// NewLedger creates a new evidence ledger service
func NewLedger(evidenceRepo repositories.EvidenceRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		evidenceRepo: evidenceRepo,
		logger:       logger,
	}
}

// Append canonicalizes the payload, hashes it and appends the event to the
// tenant's chain. When the context carries a transaction the append joins
// it, so the evidence entry commits together with the action it records.
func (l *Ledger) Append(ctx context.Context, tenantID, actionType, actorID, resourceType, resourceID string, payload interface{}) (*models.EvidenceEvent, error) {
	canonical, err := canonjson.Marshal(payload)
	if err != nil {
		return nil, services.WrapInternal("failed to canonicalize evidence payload", err)
	}

	event := &models.EvidenceEvent{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ActionType:   actionType,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      canonical,
		PayloadHash:  models.ComputePayloadHash(canonical),
		CreatedAtMs:  time.Now().UnixMilli(),
	}

	if err := l.evidenceRepo.AppendEvent(ctx, event); err != nil {
		return nil, services.WrapInternal("failed to append evidence event", err)
	}

	return event, nil
}

// VerifyChain replays up to limit events of the tenant's chain and reports
// the first broken link, if any.
func (l *Ledger) VerifyChain(ctx context.Context, tenantID string, limit int) (*models.ChainVerification, error) {
	if limit <= 0 {
		return nil, services.ErrInvalidInput.WithDetail("limit", limit)
	}

	verification, err := l.evidenceRepo.VerifyChain(ctx, tenantID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to verify evidence chain", err)
	}

	if !verification.Valid {
		l.logger.Error("evidence chain verification failed",
			zap.String("tenant_id", tenantID),
			zap.Int("failure_index", verification.FailureIndex),
			zap.String("reason", verification.Reason))
	}

	return verification, nil
}
