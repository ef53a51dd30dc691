package models

import (
	"time"

	"github.com/google/uuid"
)

// DriftSeverity classifies how far a telemetry point deviated from the
// expected process behavior.
type DriftSeverity string

const (
	DriftSeverityWarning  DriftSeverity = "warning"
	DriftSeverityCritical DriftSeverity = "critical"
)

// CriticalDriftScore is the drift score at which an alert becomes critical.
const CriticalDriftScore = 0.5

// DriftAlert is derived from a telemetry point whose drift score exceeded the
// configured threshold.
type DriftAlert struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	RunID        string        `json:"run_id" db:"run_id"`
	Metric       string        `json:"metric" db:"metric"`
	DriftScore   float64       `json:"drift_score" db:"drift_score"`
	Severity     DriftSeverity `json:"severity" db:"severity"`
	TelemetrySeq int64         `json:"telemetry_seq" db:"telemetry_seq"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// NewDriftAlert creates an alert for a telemetry point, classifying its
// severity from the drift score.
func NewDriftAlert(point *TelemetryPoint) *DriftAlert {
	return &DriftAlert{
		ID:           uuid.New(),
		TenantID:     point.TenantID,
		RunID:        point.RunID,
		Metric:       point.Metric,
		DriftScore:   point.DriftScore,
		Severity:     SeverityFor(point.DriftScore),
		TelemetrySeq: point.Seq,
		CreatedAt:    time.Now(),
	}
}

// SeverityFor maps a drift score to an alert severity.
func SeverityFor(driftScore float64) DriftSeverity {
	if driftScore >= CriticalDriftScore {
		return DriftSeverityCritical
	}
	return DriftSeverityWarning
}
