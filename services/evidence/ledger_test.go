package evidence

import (
	"context"
	"testing"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEvidenceRepository is a mock implementation of EvidenceRepository
type MockEvidenceRepository struct {
	mock.Mock
}

func (m *MockEvidenceRepository) AppendEvent(ctx context.Context, event *models.EvidenceEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEvidenceRepository) VerifyChain(ctx context.Context, tenantID string, limit int) (*models.ChainVerification, error) {
	args := m.Called(ctx, tenantID, limit)
	if verification := args.Get(0); verification != nil {
		return verification.(*models.ChainVerification), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestLedger_AppendCanonicalizesAndHashes(t *testing.T) {
	repo := new(MockEvidenceRepository)
	ledger := NewLedger(repo, zap.NewNop())

	var appended *models.EvidenceEvent
	repo.On("AppendEvent", mock.Anything, mock.AnythingOfType("*models.EvidenceEvent")).
		Run(func(args mock.Arguments) {
			appended = args.Get(1).(*models.EvidenceEvent)
		}).Return(nil)

	payload := map[string]interface{}{"version": 3, "protocol_id": "proto-1"}
	event, err := ledger.Append(context.Background(), "tenant-a", "protocol.published", "bob", "protocol", "proto-1", payload)

	require.NoError(t, err)
	require.NotNil(t, appended)
	assert.Equal(t, `{"protocol_id":"proto-1","version":3}`, string(appended.Payload))
	assert.Equal(t, models.ComputePayloadHash(appended.Payload), appended.PayloadHash)
	assert.Equal(t, "tenant-a", event.TenantID)
	assert.NotZero(t, event.CreatedAtMs)
}

func TestLedger_VerifyChainRequiresLimit(t *testing.T) {
	ledger := NewLedger(new(MockEvidenceRepository), zap.NewNop())

	_, err := ledger.VerifyChain(context.Background(), "tenant-a", 0)

	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestLedger_VerifyChainReportsBreak(t *testing.T) {
	repo := new(MockEvidenceRepository)
	ledger := NewLedger(repo, zap.NewNop())

	repo.On("VerifyChain", mock.Anything, "tenant-a", 100).Return(&models.ChainVerification{
		Valid:        false,
		Checked:      7,
		FailureIndex: 4,
		Reason:       "event hash mismatch",
	}, nil)

	verification, err := ledger.VerifyChain(context.Background(), "tenant-a", 100)

	require.NoError(t, err)
	assert.False(t, verification.Valid)
	assert.Equal(t, 4, verification.FailureIndex)
}
