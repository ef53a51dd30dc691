package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
)

// Sentinel errors returned by repositories so services can map storage
// outcomes onto the domain error taxonomy without inspecting driver errors.
var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the operation lost to existing state (duplicate
	// key, illegal status, consumed approval).
	ErrConflict = errors.New("conflict")
	// ErrSelfApproval indicates a publisher tried to consume an approval they
	// granted themselves.
	ErrSelfApproval = errors.New("publisher equals approver")
)

// TransactionManager manages database transactions. Callers compose it with
// services.WithTransaction rather than driving Begin/Commit by hand.
type TransactionManager interface {
	// Begin starts a new transaction. The transaction's Context carries it so
	// repositories route their statements through it.
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// ProtocolRepository handles protocol drafts and immutable versions.
type ProtocolRepository interface {
	// CreateDraft inserts a new draft; ErrConflict when one already exists.
	CreateDraft(ctx context.Context, draft *models.ProtocolDraft) error

	// UpdateDraft overwrites an existing draft; ErrNotFound when missing.
	UpdateDraft(ctx context.Context, draft *models.ProtocolDraft) error

	// GetDraft retrieves the draft for a protocol.
	GetDraft(ctx context.Context, tenantID, protocolID string) (*models.ProtocolDraft, error)

	// NextVersion returns the previous max version + 1, starting at 1.
	NextVersion(ctx context.Context, tenantID, protocolID string) (int, error)

	// InsertVersion persists an immutable version; ErrConflict on duplicates.
	InsertVersion(ctx context.Context, version *models.ProtocolVersion) error

	// GetVersion retrieves a specific version.
	GetVersion(ctx context.Context, tenantID, protocolID string, version int) (*models.ProtocolVersion, error)

	// LatestVersion retrieves the highest published version.
	LatestVersion(ctx context.Context, tenantID, protocolID string) (*models.ProtocolVersion, error)

	// ListProtocols lists all protocols for a tenant with their latest version.
	ListProtocols(ctx context.Context, tenantID string) ([]*models.ProtocolSummary, error)
}

// ApprovalRepository handles dual-control publish approvals.
type ApprovalRepository interface {
	// RequestApproval inserts a pending approval.
	RequestApproval(ctx context.Context, approval *models.PublishApproval) error

	// ApproveApproval transitions PENDING to APPROVED; ErrConflict on any
	// other status.
	ApproveApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, approverID string) (*models.PublishApproval, error)

	// ConsumeApproval atomically transitions APPROVED to CONSUMED. It fails
	// with ErrConflict when the approval is not in APPROVED state and with
	// ErrSelfApproval when the publisher is the approver (dual control).
	ConsumeApproval(ctx context.Context, tenantID string, approvalID uuid.UUID, publisherID string) (*models.PublishApproval, error)

	// GetApproval retrieves an approval.
	GetApproval(ctx context.Context, tenantID string, approvalID uuid.UUID) (*models.PublishApproval, error)
}

// RunRepository handles runs and their append-only event/telemetry streams.
type RunRepository interface {
	// CreateRun inserts a new run; ErrConflict when the run id exists.
	CreateRun(ctx context.Context, run *models.Run) error

	// GetRun retrieves a run.
	GetRun(ctx context.Context, tenantID, runID string) (*models.Run, error)

	// UpdateRunStatus persists status, pause/abort timestamps and reason.
	UpdateRunStatus(ctx context.Context, run *models.Run) error

	// AppendRunEvent appends one event, assigning its sequence number.
	AppendRunEvent(ctx context.Context, event *models.RunEvent) error

	// ListRunEvents pages events after the (sinceMs, sinceSeq) cursor in
	// (recorded_at_ms, seq) order.
	ListRunEvents(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.RunEvent, error)

	// AppendTelemetry appends a batch of points, assigning sequence numbers.
	AppendTelemetry(ctx context.Context, points []*models.TelemetryPoint) error

	// ListTelemetry pages telemetry after the (sinceMs, sinceSeq) cursor.
	ListTelemetry(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.TelemetryPoint, error)

	// CountTelemetry counts all telemetry points of a run.
	CountTelemetry(ctx context.Context, tenantID, runID string) (int, error)
}

// GatewayRepository handles gateway enrollment and heartbeats.
type GatewayRepository interface {
	// UpsertGateway inserts or updates a gateway registration.
	UpsertGateway(ctx context.Context, gateway *models.Gateway) error

	// HeartbeatGateway marks a gateway online and refreshes last-seen.
	HeartbeatGateway(ctx context.Context, tenantID, gatewayID string) error

	// GetGateway retrieves a gateway.
	GetGateway(ctx context.Context, tenantID, gatewayID string) (*models.Gateway, error)
}

// DriftRepository handles drift alerts derived from telemetry.
type DriftRepository interface {
	// InsertAlert persists a drift alert.
	InsertAlert(ctx context.Context, alert *models.DriftAlert) error

	// ListAlerts lists alerts for a run, oldest first.
	ListAlerts(ctx context.Context, tenantID, runID string, limit int) ([]*models.DriftAlert, error)

	// CountAlerts counts alerts for a run.
	CountAlerts(ctx context.Context, tenantID, runID string) (int, error)
}

// EvidenceRepository implements the hash-chained evidence ledger. Appends for
// the same tenant are serialized by the store so the chain never forks.
type EvidenceRepository interface {
	// AppendEvent links the event to the tenant's chain head and inserts it.
	// PrevHash and EventHash are computed under the store's per-tenant lock
	// and written back to the passed event.
	AppendEvent(ctx context.Context, event *models.EvidenceEvent) error

	// VerifyChain replays up to limit events oldest-first, recomputing both
	// hashes; verification stops at the first broken entry.
	VerifyChain(ctx context.Context, tenantID string, limit int) (*models.ChainVerification, error)
}

// OutboxRepository implements the durable at-least-once delivery queue.
type OutboxRepository interface {
	// Enqueue persists a pending integration event.
	Enqueue(ctx context.Context, event *models.OutboxEvent) error

	// ClaimPending releases PROCESSING rows whose claim is older than the
	// TTL back to PENDING, then atomically claims up to limit due PENDING
	// rows. Concurrent callers always receive disjoint batches.
	ClaimPending(ctx context.Context, limit int, processingTTL time.Duration) ([]*models.OutboxEvent, error)

	// MarkProcessed finalizes a delivered event.
	MarkProcessed(ctx context.Context, id uuid.UUID) error

	// ScheduleRetry returns a claimed event to PENDING with the attempt
	// counted, the next attempt pushed forward and the failure recorded.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string) error

	// MoveToDeadLetter copies the event into dead-letter storage and removes
	// it from the active set.
	MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string) error

	// ListDeadLetter lists dead-lettered events for a tenant, newest first.
	ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetterEvent, error)

	// ReplayDeadLetter transactionally clones a dead-letter entry back into
	// the pending queue and deletes it; both happen or neither.
	ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error)
}

// IdempotencyRepository deduplicates retried mutating requests.
type IdempotencyRepository interface {
	// Remember prunes expired rows, then records (operation, key) with the
	// payload hash. TTLs below the model floor are raised to it.
	Remember(ctx context.Context, operation, key, payloadHash string, ttl time.Duration) (models.IdempotencyOutcome, error)
}

// Repositories aggregates all repository interfaces.
type Repositories struct {
	Protocols   ProtocolRepository
	Approvals   ApprovalRepository
	Runs        RunRepository
	Gateways    GatewayRepository
	Drift       DriftRepository
	Evidence    EvidenceRepository
	Outbox      OutboxRepository
	Idempotency IdempotencyRepository
}
