package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateRun_DuplicateIDConflicts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("tenant-a", "run-1", "proto-1", 3, "gw-1", "alice",
			string(models.RunStatusRunning), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateRun(context.Background(), &models.Run{
		TenantID:        "tenant-a",
		RunID:           "run-1",
		ProtocolID:      "proto-1",
		ProtocolVersion: 3,
		GatewayID:       "gw-1",
		OperatorID:      "alice",
		Status:          models.RunStatusRunning,
		StartedAt:       time.Now(),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrConflict))
}

func TestGetRun_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs("tenant-a", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err := repo.GetRun(context.Background(), "tenant-a", "ghost")

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestUpdateRunStatus_MissingRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WithArgs("tenant-a", "ghost", string(models.RunStatusPaused),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRunStatus(context.Background(), &models.Run{
		TenantID: "tenant-a",
		RunID:    "ghost",
		Status:   models.RunStatusPaused,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestAppendRunEvent_DefaultsEmptyPayload(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO run_events")).
		WithArgs("tenant-a", "run-1", "run.started", []byte("{}"), int64(1700000000000)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))

	event := &models.RunEvent{
		TenantID:     "tenant-a",
		RunID:        "run-1",
		EventType:    "run.started",
		RecordedAtMs: 1700000000000,
	}
	err := repo.AppendRunEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, int64(1), event.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunEvents_CursorArguments(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("(recorded_at_ms, seq) > ($3, $4)")).
		WithArgs("tenant-a", "run-1", int64(1700000000000), int64(7), 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"seq", "tenant_id", "run_id", "event_type", "payload", "recorded_at_ms",
		}).
			AddRow(int64(8), "tenant-a", "run-1", "step.completed", []byte(`{}`), int64(1700000000001)).
			AddRow(int64(9), "tenant-a", "run-1", "step.completed", []byte(`{}`), int64(1700000000002)))

	events, err := repo.ListRunEvents(context.Background(), "tenant-a", "run-1", 1700000000000, 7, 100)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(8), events[0].Seq)
	assert.Equal(t, int64(9), events[1].Seq)
}

func TestAppendTelemetry_AssignsSequences(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, zap.NewNop())

	points := []*models.TelemetryPoint{
		{TenantID: "tenant-a", RunID: "run-1", Metric: "temperatureC", Value: 37.1, Unit: "C", RecordedAtMs: 1},
		{TenantID: "tenant-a", RunID: "run-1", Metric: "pressureKpa", Value: 110.0, Unit: "kPa", RecordedAtMs: 2},
	}
	for i, p := range points {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO telemetry_points")).
			WithArgs(p.TenantID, p.RunID, p.Metric, p.Value, p.Unit, p.DriftScore, p.RecordedAtMs).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(i + 1)))
	}

	err := repo.AppendTelemetry(context.Background(), points)

	require.NoError(t, err)
	assert.Equal(t, int64(1), points[0].Seq)
	assert.Equal(t, int64(2), points[1].Seq)
}
