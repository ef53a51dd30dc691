package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a manufacturing run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusPaused  RunStatus = "PAUSED"
	RunStatusAborted RunStatus = "ABORTED"
)

// Run event types appended on state transitions.
const (
	RunEventStarted = "run.started"
	RunEventPaused  = "run.paused"
	RunEventAborted = "run.aborted"
)

// Run is a manufacturing run executed by a gateway against a specific
// published protocol version. ABORTED is terminal; there is no transition
// back from PAUSED to RUNNING.
type Run struct {
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	RunID           string     `json:"run_id" db:"run_id"`
	ProtocolID      string     `json:"protocol_id" db:"protocol_id"`
	ProtocolVersion int        `json:"protocol_version" db:"protocol_version"`
	GatewayID       string     `json:"gateway_id" db:"gateway_id"`
	OperatorID      string     `json:"operator_id" db:"operator_id"`
	Status          RunStatus  `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	PausedAt        *time.Time `json:"paused_at,omitempty" db:"paused_at"`
	AbortedAt       *time.Time `json:"aborted_at,omitempty" db:"aborted_at"`
	AbortReason     string     `json:"abort_reason,omitempty" db:"abort_reason"`
}

// NewRun creates a running run. A run id is generated when none is supplied.
func NewRun(tenantID, runID, protocolID string, version int, gatewayID, operatorID string) *Run {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Run{
		TenantID:        tenantID,
		RunID:           runID,
		ProtocolID:      protocolID,
		ProtocolVersion: version,
		GatewayID:       gatewayID,
		OperatorID:      operatorID,
		Status:          RunStatusRunning,
		StartedAt:       time.Now(),
	}
}

// RunEvent is an append-only event in a run's history, totally ordered by
// (RecordedAtMs, Seq). Seq is assigned by the store and never reused.
type RunEvent struct {
	Seq          int64           `json:"seq" db:"seq"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	RunID        string          `json:"run_id" db:"run_id"`
	EventType    string          `json:"event_type" db:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty" db:"payload"`
	RecordedAtMs int64           `json:"recorded_at_ms" db:"recorded_at_ms"`
}

// TelemetryPoint is an append-only telemetry sample, ordered the same way as
// run events. DriftScore is a normalized deviation metric in [0,1].
type TelemetryPoint struct {
	Seq          int64   `json:"seq" db:"seq"`
	TenantID     string  `json:"tenant_id" db:"tenant_id"`
	RunID        string  `json:"run_id" db:"run_id"`
	Metric       string  `json:"metric" db:"metric"`
	Value        float64 `json:"value" db:"value"`
	Unit         string  `json:"unit,omitempty" db:"unit"`
	DriftScore   float64 `json:"drift_score" db:"drift_score"`
	RecordedAtMs int64   `json:"recorded_at_ms" db:"recorded_at_ms"`
}
