package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EvidenceEvent is one entry in a tenant's hash-chained, append-only audit
// ledger. EventHash covers the previous entry's hash, so altering or
// reordering any stored entry breaks verification from that point on.
type EvidenceEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Seq          int64           `json:"seq" db:"seq"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	ActionType   string          `json:"action_type" db:"action_type"`
	ActorID      string          `json:"actor_id" db:"actor_id"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	PayloadHash  string          `json:"payload_hash" db:"payload_hash"`
	PrevHash     string          `json:"prev_hash,omitempty" db:"prev_hash"` // empty for the first event of a tenant
	EventHash    string          `json:"event_hash" db:"event_hash"`
	CreatedAtMs  int64           `json:"created_at_ms" db:"created_at_ms"`
}

// ComputePayloadHash hashes a canonicalized payload.
func ComputePayloadHash(canonicalPayload []byte) string {
	sum := sha256.Sum256(canonicalPayload)
	return hex.EncodeToString(sum[:])
}

// ComputeEventHash computes the chain hash over the ordered event tuple.
func ComputeEventHash(tenantID, prevHash, payloadHash, actionType, actorID, resourceType, resourceID string, createdAtMs int64) string {
	input := strings.Join([]string{
		tenantID,
		prevHash,
		payloadHash,
		actionType,
		actorID,
		resourceType,
		resourceID,
		strconv.FormatInt(createdAtMs, 10),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ChainVerification is the result of replaying a tenant's evidence chain.
// Verification is fail-fast: FailureIndex is the zero-based index of the
// first broken entry, or -1 when the chain is intact.
type ChainVerification struct {
	Valid        bool   `json:"valid"`
	Checked      int    `json:"checked"`
	FailureIndex int    `json:"failure_index"`
	Reason       string `json:"reason,omitempty"`
}
