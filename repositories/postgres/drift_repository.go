package postgres

import (
	"context"
	"fmt"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// DriftRepository implements the repositories.DriftRepository interface
type DriftRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDriftRepository creates a new drift repository
func NewDriftRepository(db *DB, logger *zap.Logger) repositories.DriftRepository {
	return &DriftRepository{
		db:     db,
		logger: logger,
	}
}

// InsertAlert persists a drift alert.
func (r *DriftRepository) InsertAlert(ctx context.Context, alert *models.DriftAlert) error {
	query := `
		INSERT INTO drift_alerts (id, tenant_id, run_id, metric, drift_score, severity, telemetry_seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		alert.ID,
		alert.TenantID,
		alert.RunID,
		alert.Metric,
		alert.DriftScore,
		alert.Severity,
		alert.TelemetrySeq,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert drift alert: %w", err)
	}

	r.logger.Debug("drift alert inserted",
		zap.String("run_id", alert.RunID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("drift_score", alert.DriftScore))
	return nil
}

// ListAlerts lists alerts for a run, oldest first.
func (r *DriftRepository) ListAlerts(ctx context.Context, tenantID, runID string, limit int) ([]*models.DriftAlert, error) {
	query := `
		SELECT id, tenant_id, run_id, metric, drift_score, severity, telemetry_seq, created_at
		FROM drift_alerts
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY created_at, telemetry_seq
		LIMIT $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.DriftAlert
	for rows.Next() {
		alert := &models.DriftAlert{}
		if err := rows.Scan(
			&alert.ID,
			&alert.TenantID,
			&alert.RunID,
			&alert.Metric,
			&alert.DriftScore,
			&alert.Severity,
			&alert.TelemetrySeq,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan drift alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift alert rows: %w", err)
	}

	return alerts, nil
}

// CountAlerts counts alerts for a run.
func (r *DriftRepository) CountAlerts(ctx context.Context, tenantID, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM drift_alerts WHERE tenant_id = $1 AND run_id = $2`

	executor := GetExecutor(ctx, r.db)
	var count int
	if err := executor.QueryRowContext(ctx, query, tenantID, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count drift alerts: %w", err)
	}

	return count, nil
}
