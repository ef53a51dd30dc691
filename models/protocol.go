package models

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolDraft is the mutable working copy of a protocol. There is at most
// one draft per (tenant, protocol); publishing consumes its content but does
// not delete it.
type ProtocolDraft struct {
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	ProtocolID string    `json:"protocol_id" db:"protocol_id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"` // DSL document or legacy opaque JSON
	UpdatedBy  string    `json:"updated_by" db:"updated_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ProtocolVersion is an immutable published snapshot of a protocol.
// Version numbers increase strictly by 1 per (tenant, protocol), starting at 1.
type ProtocolVersion struct {
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	ProtocolID  string    `json:"protocol_id" db:"protocol_id"`
	Version     int       `json:"version" db:"version"`
	Content     string    `json:"content" db:"content"` // canonicalized for DSL v1, verbatim otherwise
	PublishedBy string    `json:"published_by" db:"published_by"`
	Changelog   string    `json:"changelog" db:"changelog"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProtocolSummary is a listing row: a protocol with its latest published
// version (0 when never published).
type ProtocolSummary struct {
	ProtocolID    string `json:"protocol_id" db:"protocol_id"`
	Title         string `json:"title" db:"title"`
	LatestVersion int    `json:"latest_version" db:"latest_version"`
}

// ApprovalStatus is the lifecycle state of a publish approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusConsumed ApprovalStatus = "CONSUMED"
)

// PublishApproval is a single-use dual-control token. Once CONSUMED it can
// never be reused, and the consumer must differ from the approver.
type PublishApproval struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	ProtocolID  string         `json:"protocol_id" db:"protocol_id"`
	RequestedBy string         `json:"requested_by" db:"requested_by"`
	ApprovedBy  string         `json:"approved_by,omitempty" db:"approved_by"`
	ConsumedBy  string         `json:"consumed_by,omitempty" db:"consumed_by"`
	Status      ApprovalStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	ApprovedAt  *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	ConsumedAt  *time.Time     `json:"consumed_at,omitempty" db:"consumed_at"`
}

// NewPublishApproval creates a pending approval for a protocol publish.
func NewPublishApproval(tenantID, protocolID, requestedBy string) *PublishApproval {
	return &PublishApproval{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ProtocolID:  protocolID,
		RequestedBy: requestedBy,
		Status:      ApprovalStatusPending,
		CreatedAt:   time.Now(),
	}
}

// VersionDiff is a line-based set difference between two protocol versions.
// Intentionally textual, not semantic.
type VersionDiff struct {
	ProtocolID   string   `json:"protocol_id"`
	FromVersion  int      `json:"from_version"`
	ToVersion    int      `json:"to_version"`
	AddedLines   []string `json:"added_lines"`
	RemovedLines []string `json:"removed_lines"`
	Summary      string   `json:"summary"`
}
