package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// RunRepository implements the repositories.RunRepository interface
type RunRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB, logger *zap.Logger) repositories.RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
	}
}

// CreateRun inserts a new run.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (tenant_id, run_id, protocol_id, protocol_version, gateway_id, operator_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		run.TenantID,
		run.RunID,
		run.ProtocolID,
		run.ProtocolVersion,
		run.GatewayID,
		run.OperatorID,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %s/%s already exists: %w", run.TenantID, run.RunID, repositories.ErrConflict)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Debug("run created",
		zap.String("tenant_id", run.TenantID),
		zap.String("run_id", run.RunID))
	return nil
}

// GetRun retrieves a run.
func (r *RunRepository) GetRun(ctx context.Context, tenantID, runID string) (*models.Run, error) {
	query := `
		SELECT tenant_id, run_id, protocol_id, protocol_version, gateway_id, operator_id, status,
		       started_at, paused_at, aborted_at, abort_reason
		FROM runs
		WHERE tenant_id = $1 AND run_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	run := &models.Run{}

	err := executor.QueryRowContext(ctx, query, tenantID, runID).Scan(
		&run.TenantID,
		&run.RunID,
		&run.ProtocolID,
		&run.ProtocolVersion,
		&run.GatewayID,
		&run.OperatorID,
		&run.Status,
		&run.StartedAt,
		&run.PausedAt,
		&run.AbortedAt,
		&run.AbortReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s/%s: %w", tenantID, runID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus persists status, pause/abort timestamps and reason.
func (r *RunRepository) UpdateRunStatus(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs
		SET status = $3, paused_at = $4, aborted_at = $5, abort_reason = $6
		WHERE tenant_id = $1 AND run_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		run.TenantID,
		run.RunID,
		run.Status,
		run.PausedAt,
		run.AbortedAt,
		run.AbortReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s/%s: %w", run.TenantID, run.RunID, repositories.ErrNotFound)
	}

	return nil
}

// AppendRunEvent appends one event, assigning its sequence number.
func (r *RunRepository) AppendRunEvent(ctx context.Context, event *models.RunEvent) error {
	query := `
		INSERT INTO run_events (tenant_id, run_id, event_type, payload, recorded_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`

	executor := GetExecutor(ctx, r.db)
	payload := event.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	err := executor.QueryRowContext(ctx, query,
		event.TenantID,
		event.RunID,
		event.EventType,
		[]byte(payload),
		event.RecordedAtMs,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}

	return nil
}

// ListRunEvents pages events after the (sinceMs, sinceSeq) cursor.
func (r *RunRepository) ListRunEvents(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.RunEvent, error) {
	query := `
		SELECT seq, tenant_id, run_id, event_type, payload, recorded_at_ms
		FROM run_events
		WHERE tenant_id = $1 AND run_id = $2
		  AND (recorded_at_ms, seq) > ($3, $4)
		ORDER BY recorded_at_ms, seq
		LIMIT $5
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, runID, sinceMs, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	var events []*models.RunEvent
	for rows.Next() {
		event := &models.RunEvent{}
		if err := rows.Scan(
			&event.Seq,
			&event.TenantID,
			&event.RunID,
			&event.EventType,
			&event.Payload,
			&event.RecordedAtMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run event rows: %w", err)
	}

	return events, nil
}

// AppendTelemetry appends a batch of points, assigning sequence numbers.
func (r *RunRepository) AppendTelemetry(ctx context.Context, points []*models.TelemetryPoint) error {
	if len(points) == 0 {
		return nil
	}

	query := `
		INSERT INTO telemetry_points (tenant_id, run_id, metric, value, unit, drift_score, recorded_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`

	executor := GetExecutor(ctx, r.db)
	for _, point := range points {
		err := executor.QueryRowContext(ctx, query,
			point.TenantID,
			point.RunID,
			point.Metric,
			point.Value,
			point.Unit,
			point.DriftScore,
			point.RecordedAtMs,
		).Scan(&point.Seq)
		if err != nil {
			return fmt.Errorf("failed to append telemetry point: %w", err)
		}
	}

	return nil
}

// ListTelemetry pages telemetry after the (sinceMs, sinceSeq) cursor.
func (r *RunRepository) ListTelemetry(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.TelemetryPoint, error) {
	query := `
		SELECT seq, tenant_id, run_id, metric, value, unit, drift_score, recorded_at_ms
		FROM telemetry_points
		WHERE tenant_id = $1 AND run_id = $2
		  AND (recorded_at_ms, seq) > ($3, $4)
		ORDER BY recorded_at_ms, seq
		LIMIT $5
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, runID, sinceMs, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	var points []*models.TelemetryPoint
	for rows.Next() {
		point := &models.TelemetryPoint{}
		if err := rows.Scan(
			&point.Seq,
			&point.TenantID,
			&point.RunID,
			&point.Metric,
			&point.Value,
			&point.Unit,
			&point.DriftScore,
			&point.RecordedAtMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry point: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry rows: %w", err)
	}

	return points, nil
}

// CountTelemetry counts all telemetry points of a run.
func (r *RunRepository) CountTelemetry(ctx context.Context, tenantID, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM telemetry_points WHERE tenant_id = $1 AND run_id = $2`

	executor := GetExecutor(ctx, r.db)
	var count int
	if err := executor.QueryRowContext(ctx, query, tenantID, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count telemetry: %w", err)
	}

	return count, nil
}
