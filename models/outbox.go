package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an integration event.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusProcessed  OutboxStatus = "PROCESSED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEvent is an integration event persisted in the same store as the
// business data it describes, dispatched asynchronously with at-least-once
// semantics.
type OutboxEvent struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	TenantID            string          `json:"tenant_id" db:"tenant_id"`
	EventType           string          `json:"event_type" db:"event_type"`
	Payload             json.RawMessage `json:"payload" db:"payload"`
	Status              OutboxStatus    `json:"status" db:"status"`
	Attempts            int             `json:"attempts" db:"attempts"`
	NextAttemptAt       *time.Time      `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	LastError           string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// NewOutboxEvent creates a pending outbox event with a JSON payload.
func NewOutboxEvent(tenantID, eventType string, payload interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	return &OutboxEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   raw,
		Status:    OutboxStatusPending,
		CreatedAt: time.Now(),
	}, nil
}

// DeadLetterEvent is an outbox event removed from the active retry queue
// after exhausting its attempts, held for inspection and replay.
type DeadLetterEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Attempts  int             `json:"attempts" db:"attempts"`
	Reason    string          `json:"reason" db:"reason"`
	FailedAt  time.Time       `json:"failed_at" db:"failed_at"`
}
