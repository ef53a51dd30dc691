package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// ApprovalRepository implements the repositories.ApprovalRepository interface
type ApprovalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *DB, logger *zap.Logger) repositories.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// RequestApproval inserts a pending approval.
func (r *ApprovalRepository) RequestApproval(ctx context.Context, approval *models.PublishApproval) error {
	query := `
		INSERT INTO publish_approvals (id, tenant_id, protocol_id, requested_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		approval.ID,
		approval.TenantID,
		approval.ProtocolID,
		approval.RequestedBy,
		approval.Status,
		approval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to request approval: %w", err)
	}

	r.logger.Debug("approval requested",
		zap.String("tenant_id", approval.TenantID),
		zap.String("approval_id", approval.ID.String()))
	return nil
}

// ApproveApproval transitions PENDING to APPROVED.
func (r *ApprovalRepository) ApproveApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, approverID string) (*models.PublishApproval, error) {
	query := `
		UPDATE publish_approvals
		SET status = $4, approved_by = $3, approved_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status = $6
	`

	executor := GetExecutor(ctx, r.db)
	now := time.Now()
	result, err := executor.ExecContext(ctx, query,
		tenantID, approvalID, approverID, models.ApprovalStatusApproved, now, models.ApprovalStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to approve approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read approve result: %w", err)
	}
	if affected == 0 {
		return nil, r.explainTransitionFailure(ctx, tenantID, approvalID, models.ApprovalStatusPending)
	}

	return r.GetApproval(ctx, tenantID, approvalID)
}

// ConsumeApproval atomically transitions APPROVED to CONSUMED. The conditional
// update enforces single use and dual control in one statement; the failure
// path re-reads the row only to report why.
func (r *ApprovalRepository) ConsumeApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, publisherID string) (*models.PublishApproval, error) {
	query := `
		UPDATE publish_approvals
		SET status = $4, consumed_by = $3, consumed_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status = $6 AND approved_by <> $3
	`

	executor := GetExecutor(ctx, r.db)
	now := time.Now()
	result, err := executor.ExecContext(ctx, query,
		tenantID, approvalID, publisherID, models.ApprovalStatusConsumed, now, models.ApprovalStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to consume approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read consume result: %w", err)
	}
	if affected == 0 {
		existing, getErr := r.GetApproval(ctx, tenantID, approvalID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status != models.ApprovalStatusApproved {
			return nil, fmt.Errorf("approval %s is %s: %w", approvalID, existing.Status, repositories.ErrConflict)
		}
		return nil, fmt.Errorf("approval %s: %w", approvalID, repositories.ErrSelfApproval)
	}

	return r.GetApproval(ctx, tenantID, approvalID)
}

// GetApproval retrieves an approval.
func (r *ApprovalRepository) GetApproval(ctx context.Context, tenantID string, approvalID uuid.UUID) (*models.PublishApproval, error) {
	query := `
		SELECT id, tenant_id, protocol_id, requested_by, approved_by, consumed_by, status, created_at, approved_at, consumed_at
		FROM publish_approvals
		WHERE tenant_id = $1 AND id = $2
	`

	executor := GetExecutor(ctx, r.db)
	approval := &models.PublishApproval{}
	var approvedBy, consumedBy sql.NullString

	err := executor.QueryRowContext(ctx, query, tenantID, approvalID).Scan(
		&approval.ID,
		&approval.TenantID,
		&approval.ProtocolID,
		&approval.RequestedBy,
		&approvedBy,
		&consumedBy,
		&approval.Status,
		&approval.CreatedAt,
		&approval.ApprovedAt,
		&approval.ConsumedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("approval %s: %w", approvalID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	approval.ApprovedBy = approvedBy.String
	approval.ConsumedBy = consumedBy.String
	return approval, nil
}

func (r *ApprovalRepository) explainTransitionFailure(ctx context.Context, tenantID string, approvalID uuid.UUID, wanted models.ApprovalStatus) error {
	existing, err := r.GetApproval(ctx, tenantID, approvalID)
	if err != nil {
		return err
	}
	return fmt.Errorf("approval %s is %s, expected %s: %w", approvalID, existing.Status, wanted, repositories.ErrConflict)
}
