package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, DriftSeverityCritical, SeverityFor(0.6))
	assert.Equal(t, DriftSeverityCritical, SeverityFor(0.5)) // boundary is inclusive
	assert.Equal(t, DriftSeverityWarning, SeverityFor(0.3))
	assert.Equal(t, DriftSeverityWarning, SeverityFor(0.1))
}

func TestNewDriftAlert(t *testing.T) {
	point := &TelemetryPoint{
		Seq:        42,
		TenantID:   "tenant-a",
		RunID:      "run-1",
		Metric:     "temperatureC",
		Value:      63.2,
		DriftScore: 0.72,
	}

	alert := NewDriftAlert(point)

	assert.NotEqual(t, alert.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, "tenant-a", alert.TenantID)
	assert.Equal(t, "run-1", alert.RunID)
	assert.Equal(t, "temperatureC", alert.Metric)
	assert.Equal(t, 0.72, alert.DriftScore)
	assert.Equal(t, DriftSeverityCritical, alert.Severity)
	assert.Equal(t, int64(42), alert.TelemetrySeq)
}
