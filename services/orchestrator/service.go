// Package orchestrator coordinates protocol publishing, run lifecycle,
// gateway ingestion and reporting. Every mutating operation appends to the
// evidence ledger and enqueues an integration event in the same transaction
// as the business change.
package orchestrator

import (
	"context"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"github.com/regenfab/regenops/services/evidence"
	"github.com/regenfab/regenops/services/idempotency"
	"go.uber.org/zap"
)

// Policy holds the tenant-wide publishing and drift policy.
type Policy struct {
	RequireSignature   bool    // e-signature mandatory on publish
	RequireDualControl bool    // consumed approval mandatory on publish
	DriftThreshold     float64 // telemetry drift score spawning an alert
}

// DefaultPolicy returns the default policy
func DefaultPolicy() Policy {
	return Policy{
		RequireSignature:   true,
		RequireDualControl: true,
		DriftThreshold:     0.2,
	}
}

// Orchestrator is the top-level service coordinating all domain operations.
// Tenant id is an explicit parameter on every operation; nothing is carried
// in ambient state.
type Orchestrator struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	ledger *evidence.Ledger
	guard  *idempotency.Guard
	policy Policy
	logger *zap.Logger
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(
	repos *repositories.Repositories,
	txMgr repositories.TransactionManager,
	ledger *evidence.Ledger,
	guard *idempotency.Guard,
	policy Policy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		repos:  repos,
		txMgr:  txMgr,
		ledger: ledger,
		guard:  guard,
		policy: policy,
		logger: logger,
	}
}

// recordAction appends an evidence event and enqueues the matching outbox
// event. Called inside the mutating transaction so ledger, queue and the
// business change commit together.
func (o *Orchestrator) recordAction(ctx context.Context, tenantID, actionType, actorID, resourceType, resourceID string, payload interface{}) error {
	if _, err := o.ledger.Append(ctx, tenantID, actionType, actorID, resourceType, resourceID, payload); err != nil {
		return err
	}

	outboxEvent, err := models.NewOutboxEvent(tenantID, actionType, payload)
	if err != nil {
		return services.WrapInternal("failed to build outbox event", err)
	}
	if err := o.repos.Outbox.Enqueue(ctx, outboxEvent); err != nil {
		return services.WrapInternal("failed to enqueue outbox event", err)
	}

	return nil
}

// rememberOrConflict consults the idempotency guard. DUPLICATE_MISMATCH is a
// conflict; STORED and DUPLICATE_MATCH are returned for the caller to decide.
func (o *Orchestrator) rememberOrConflict(ctx context.Context, operation, key string, payload interface{}) (models.IdempotencyOutcome, error) {
	outcome, err := o.guard.Remember(ctx, operation, key, payload)
	if err != nil {
		return "", err
	}
	if outcome == models.IdempotencyDuplicateMismatch {
		return "", services.ErrIdempotencyMismatch.
			WithDetail("operation", operation).
			WithDetail("key", key)
	}
	return outcome, nil
}

// VerifyEvidenceChain replays the tenant's evidence chain and reports the
// first broken link, if any.
func (o *Orchestrator) VerifyEvidenceChain(ctx context.Context, tenantID string, limit int) (*models.ChainVerification, error) {
	if limit <= 0 {
		limit = 10000
	}
	return o.ledger.VerifyChain(ctx, tenantID, limit)
}
