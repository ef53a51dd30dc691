package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func approvalRow(id uuid.UUID, status models.ApprovalStatus, approvedBy interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "protocol_id", "requested_by", "approved_by", "consumed_by",
		"status", "created_at", "approved_at", "consumed_at",
	}).AddRow(id, "tenant-a", "proto-1", "alice", approvedBy, nil,
		string(status), time.Now(), nil, nil)
}

func TestConsumeApproval_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET status = $4, consumed_by = $3")).
		WithArgs("tenant-a", id, "alice", string(models.ApprovalStatusConsumed),
			sqlmock.AnyArg(), string(models.ApprovalStatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM publish_approvals")).
		WithArgs("tenant-a", id).
		WillReturnRows(approvalRow(id, models.ApprovalStatusConsumed, "bob"))

	approval, err := repo.ConsumeApproval(context.Background(), "tenant-a", id, "alice")

	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusConsumed, approval.Status)
	assert.Equal(t, "bob", approval.ApprovedBy)
}

func TestConsumeApproval_AlreadyConsumedConflicts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET status = $4, consumed_by = $3")).
		WithArgs("tenant-a", id, "alice", string(models.ApprovalStatusConsumed),
			sqlmock.AnyArg(), string(models.ApprovalStatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM publish_approvals")).
		WithArgs("tenant-a", id).
		WillReturnRows(approvalRow(id, models.ApprovalStatusConsumed, "bob"))

	_, err := repo.ConsumeApproval(context.Background(), "tenant-a", id, "alice")

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrConflict))
	assert.Contains(t, err.Error(), "CONSUMED")
}

func TestConsumeApproval_SelfApprovalConflicts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())

	// Row is APPROVED but approved_by equals the publisher, so the
	// conditional update touches nothing.
	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET status = $4, consumed_by = $3")).
		WithArgs("tenant-a", id, "alice", string(models.ApprovalStatusConsumed),
			sqlmock.AnyArg(), string(models.ApprovalStatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM publish_approvals")).
		WithArgs("tenant-a", id).
		WillReturnRows(approvalRow(id, models.ApprovalStatusApproved, "alice"))

	_, err := repo.ConsumeApproval(context.Background(), "tenant-a", id, "alice")

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrSelfApproval))
	assert.False(t, errors.Is(err, repositories.ErrConflict))
}

func TestApproveApproval_NotPendingConflicts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET status = $4, approved_by = $3")).
		WithArgs("tenant-a", id, "bob", string(models.ApprovalStatusApproved),
			sqlmock.AnyArg(), string(models.ApprovalStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM publish_approvals")).
		WithArgs("tenant-a", id).
		WillReturnRows(approvalRow(id, models.ApprovalStatusApproved, "carol"))

	_, err := repo.ApproveApproval(context.Background(), "tenant-a", id, "bob")

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrConflict))
}

func TestGetApproval_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM publish_approvals")).
		WithArgs("tenant-a", id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetApproval(context.Background(), "tenant-a", id)

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}
