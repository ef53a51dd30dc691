package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services/evidence"
	"github.com/regenfab/regenops/services/idempotency"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockProtocolRepository is a mock implementation of ProtocolRepository
type MockProtocolRepository struct {
	mock.Mock
}

func (m *MockProtocolRepository) CreateDraft(ctx context.Context, draft *models.ProtocolDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

func (m *MockProtocolRepository) UpdateDraft(ctx context.Context, draft *models.ProtocolDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

func (m *MockProtocolRepository) GetDraft(ctx context.Context, tenantID, protocolID string) (*models.ProtocolDraft, error) {
	args := m.Called(ctx, tenantID, protocolID)
	if draft := args.Get(0); draft != nil {
		return draft.(*models.ProtocolDraft), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProtocolRepository) NextVersion(ctx context.Context, tenantID, protocolID string) (int, error) {
	args := m.Called(ctx, tenantID, protocolID)
	return args.Int(0), args.Error(1)
}

func (m *MockProtocolRepository) InsertVersion(ctx context.Context, version *models.ProtocolVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockProtocolRepository) GetVersion(ctx context.Context, tenantID, protocolID string, version int) (*models.ProtocolVersion, error) {
	args := m.Called(ctx, tenantID, protocolID, version)
	if v := args.Get(0); v != nil {
		return v.(*models.ProtocolVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProtocolRepository) LatestVersion(ctx context.Context, tenantID, protocolID string) (*models.ProtocolVersion, error) {
	args := m.Called(ctx, tenantID, protocolID)
	if v := args.Get(0); v != nil {
		return v.(*models.ProtocolVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProtocolRepository) ListProtocols(ctx context.Context, tenantID string) ([]*models.ProtocolSummary, error) {
	args := m.Called(ctx, tenantID)
	if summaries := args.Get(0); summaries != nil {
		return summaries.([]*models.ProtocolSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockApprovalRepository is a mock implementation of ApprovalRepository
type MockApprovalRepository struct {
	mock.Mock
}

func (m *MockApprovalRepository) RequestApproval(ctx context.Context, approval *models.PublishApproval) error {
	args := m.Called(ctx, approval)
	return args.Error(0)
}

func (m *MockApprovalRepository) ApproveApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, approverID string) (*models.PublishApproval, error) {
	args := m.Called(ctx, tenantID, approvalID, approverID)
	if approval := args.Get(0); approval != nil {
		return approval.(*models.PublishApproval), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockApprovalRepository) ConsumeApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, publisherID string) (*models.PublishApproval, error) {
	args := m.Called(ctx, tenantID, approvalID, publisherID)
	if approval := args.Get(0); approval != nil {
		return approval.(*models.PublishApproval), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockApprovalRepository) GetApproval(ctx context.Context, tenantID string, approvalID uuid.UUID) (*models.PublishApproval, error) {
	args := m.Called(ctx, tenantID, approvalID)
	if approval := args.Get(0); approval != nil {
		return approval.(*models.PublishApproval), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRunRepository is a mock implementation of RunRepository
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, tenantID, runID string) (*models.Run, error) {
	args := m.Called(ctx, tenantID, runID)
	if run := args.Get(0); run != nil {
		return run.(*models.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRunRepository) UpdateRunStatus(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) AppendRunEvent(ctx context.Context, event *models.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockRunRepository) ListRunEvents(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.RunEvent, error) {
	args := m.Called(ctx, tenantID, runID, sinceMs, sinceSeq, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.RunEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRunRepository) AppendTelemetry(ctx context.Context, points []*models.TelemetryPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *MockRunRepository) ListTelemetry(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.TelemetryPoint, error) {
	args := m.Called(ctx, tenantID, runID, sinceMs, sinceSeq, limit)
	if points := args.Get(0); points != nil {
		return points.([]*models.TelemetryPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRunRepository) CountTelemetry(ctx context.Context, tenantID, runID string) (int, error) {
	args := m.Called(ctx, tenantID, runID)
	return args.Int(0), args.Error(1)
}

// MockGatewayRepository is a mock implementation of GatewayRepository
type MockGatewayRepository struct {
	mock.Mock
}

func (m *MockGatewayRepository) UpsertGateway(ctx context.Context, gateway *models.Gateway) error {
	args := m.Called(ctx, gateway)
	return args.Error(0)
}

func (m *MockGatewayRepository) HeartbeatGateway(ctx context.Context, tenantID, gatewayID string) error {
	args := m.Called(ctx, tenantID, gatewayID)
	return args.Error(0)
}

func (m *MockGatewayRepository) GetGateway(ctx context.Context, tenantID, gatewayID string) (*models.Gateway, error) {
	args := m.Called(ctx, tenantID, gatewayID)
	if gateway := args.Get(0); gateway != nil {
		return gateway.(*models.Gateway), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDriftRepository is a mock implementation of DriftRepository
type MockDriftRepository struct {
	mock.Mock
}

func (m *MockDriftRepository) InsertAlert(ctx context.Context, alert *models.DriftAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockDriftRepository) ListAlerts(ctx context.Context, tenantID, runID string, limit int) ([]*models.DriftAlert, error) {
	args := m.Called(ctx, tenantID, runID, limit)
	if alerts := args.Get(0); alerts != nil {
		return alerts.([]*models.DriftAlert), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDriftRepository) CountAlerts(ctx context.Context, tenantID, runID string) (int, error) {
	args := m.Called(ctx, tenantID, runID)
	return args.Int(0), args.Error(1)
}

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

// MockOutboxRepository is a mock implementation of OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, event *models.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int, processingTTL time.Duration) ([]*models.OutboxEvent, error) {
	args := m.Called(ctx, limit, processingTTL)
	if events := args.Get(0); events != nil {
		return events.([]*models.OutboxEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string) error {
	args := m.Called(ctx, id, nextAttemptAt, reason)
	return args.Error(0)
}

func (m *MockOutboxRepository) MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockOutboxRepository) ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetterEvent, error) {
	args := m.Called(ctx, tenantID, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.DeadLetterEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOutboxRepository) ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	args := m.Called(ctx, id)
	if event := args.Get(0); event != nil {
		return event.(*models.OutboxEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockIdempotencyRepository is a mock implementation of IdempotencyRepository
type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) Remember(ctx context.Context, operation, key, payloadHash string, ttl time.Duration) (models.IdempotencyOutcome, error) {
	args := m.Called(ctx, operation, key, payloadHash, ttl)
	return args.Get(0).(models.IdempotencyOutcome), args.Error(1)
}

// stubTxManager hands out inline transactions. The repositories are mocked,
// so there is no real transaction to join; the context is tagged instead so
// tests can assert a call ran inside one.
type stubTxManager struct{}

type stubTxKey struct{}

type stubTx struct {
	ctx context.Context
}

func (t *stubTx) Commit() error            { return nil }
func (t *stubTx) Rollback() error          { return nil }
func (t *stubTx) Context() context.Context { return t.ctx }

func (m *stubTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &stubTx{ctx: context.WithValue(ctx, stubTxKey{}, true)}, nil
}

// inStubTx reports whether ctx came from a stub transaction.
func inStubTx(ctx context.Context) bool {
	tagged, _ := ctx.Value(stubTxKey{}).(bool)
	return tagged
}

// testEnv bundles an orchestrator with its mocked repositories.
type testEnv struct {
	orch        *Orchestrator
	protocols   *MockProtocolRepository
	approvals   *MockApprovalRepository
	runs        *MockRunRepository
	gateways    *MockGatewayRepository
	drift       *MockDriftRepository
	evidence    *MockEvidenceRepository
	outbox      *MockOutboxRepository
	idempotency *MockIdempotencyRepository
}

func newTestEnv(policy Policy) *testEnv {
	logger := zap.NewNop()

	env := &testEnv{
		protocols:   new(MockProtocolRepository),
		approvals:   new(MockApprovalRepository),
		runs:        new(MockRunRepository),
		gateways:    new(MockGatewayRepository),
		drift:       new(MockDriftRepository),
		evidence:    new(MockEvidenceRepository),
		outbox:      new(MockOutboxRepository),
		idempotency: new(MockIdempotencyRepository),
	}

	repos := &repositories.Repositories{
		Protocols:   env.protocols,
		Approvals:   env.approvals,
		Runs:        env.runs,
		Gateways:    env.gateways,
		Drift:       env.drift,
		Evidence:    env.evidence,
		Outbox:      env.outbox,
		Idempotency: env.idempotency,
	}

	env.orch = NewOrchestrator(
		repos,
		&stubTxManager{},
		evidence.NewLedger(env.evidence, logger),
		idempotency.NewGuard(env.idempotency, time.Hour, logger),
		policy,
		logger,
	)
	return env
}

// expectRecordedAction wires the evidence append and outbox enqueue that every
// mutating operation performs.
func (env *testEnv) expectRecordedAction() {
	env.evidence.On("AppendEvent", mock.Anything, mock.AnythingOfType("*models.EvidenceEvent")).Return(nil)
	env.outbox.On("Enqueue", mock.Anything, mock.AnythingOfType("*models.OutboxEvent")).Return(nil)
}
