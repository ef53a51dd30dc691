package orchestrator

import (
	"context"
	"testing"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func runningRun(runID string) *models.Run {
	return &models.Run{
		TenantID:        testTenant,
		RunID:           runID,
		ProtocolID:      "proto-1",
		ProtocolVersion: 2,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
		Status:          models.RunStatusRunning,
	}
}

func TestStartRun_Success(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.protocols.On("GetVersion", mock.Anything, testTenant, "proto-1", 2).
		Return(&models.ProtocolVersion{Version: 2}, nil)
	env.runs.On("CreateRun", mock.Anything, mock.AnythingOfType("*models.Run")).Return(nil)
	env.runs.On("AppendRunEvent", mock.Anything, mock.AnythingOfType("*models.RunEvent")).Return(nil)
	env.expectRecordedAction()

	run, err := env.orch.StartRun(context.Background(), testTenant, StartRunRequest{
		ProtocolID:      "proto-1",
		ProtocolVersion: 2,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
	})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.NotEmpty(t, run.RunID) // generated when none supplied
	env.runs.AssertExpectations(t)
}

func TestStartRun_UnknownVersionIsDependencyError(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.protocols.On("GetVersion", mock.Anything, testTenant, "proto-1", 9).
		Return(nil, repositories.ErrNotFound)

	_, err := env.orch.StartRun(context.Background(), testTenant, StartRunRequest{
		ProtocolID:      "proto-1",
		ProtocolVersion: 9,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
	})

	require.Error(t, err)
	assert.True(t, services.IsDependencyError(err))
	env.runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestStartRun_DuplicateRunID(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.protocols.On("GetVersion", mock.Anything, testTenant, "proto-1", 2).
		Return(&models.ProtocolVersion{Version: 2}, nil)
	env.runs.On("CreateRun", mock.Anything, mock.Anything).Return(repositories.ErrConflict)

	_, err := env.orch.StartRun(context.Background(), testTenant, StartRunRequest{
		RunID:           "run-1",
		ProtocolID:      "proto-1",
		ProtocolVersion: 2,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
	})

	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
}

func TestStartRun_IdempotentReplayReturnsExistingRun(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.idempotency.On("Remember", mock.Anything, "start_run", "key-1", mock.AnythingOfType("string"), mock.Anything).
		Return(models.IdempotencyDuplicateMatch, nil)
	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(runningRun("run-1"), nil)

	run, err := env.orch.StartRun(context.Background(), testTenant, StartRunRequest{
		RunID:           "run-1",
		ProtocolID:      "proto-1",
		ProtocolVersion: 2,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
		IdempotencyKey:  "key-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "run-1", run.RunID)
	env.runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestStartRun_ReplayWithoutRunIDReturnsExistingRun(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.idempotency.On("Remember", mock.MatchedBy(inStubTx), "start_run", "key-1", mock.AnythingOfType("string"), mock.Anything).
		Return(models.IdempotencyStored, nil).Once()
	env.protocols.On("GetVersion", mock.Anything, testTenant, "proto-1", 2).
		Return(&models.ProtocolVersion{Version: 2}, nil)
	env.runs.On("CreateRun", mock.Anything, mock.AnythingOfType("*models.Run")).Return(nil)
	env.runs.On("AppendRunEvent", mock.Anything, mock.AnythingOfType("*models.RunEvent")).Return(nil)
	env.expectRecordedAction()

	// The client lets the server pick the run id but supplies a key.
	req := StartRunRequest{
		ProtocolID:      "proto-1",
		ProtocolVersion: 2,
		GatewayID:       "gw-1",
		OperatorID:      "olivia",
		IdempotencyKey:  "key-1",
	}
	first, err := env.orch.StartRun(context.Background(), testTenant, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.RunID)

	env.idempotency.On("Remember", mock.MatchedBy(inStubTx), "start_run", "key-1", mock.AnythingOfType("string"), mock.Anything).
		Return(models.IdempotencyDuplicateMatch, nil).Once()
	env.runs.On("GetRun", mock.Anything, testTenant, first.RunID).Return(first, nil)

	second, err := env.orch.StartRun(context.Background(), testTenant, req)

	require.NoError(t, err)
	assert.Equal(t, first.RunID, second.RunID)
	env.runs.AssertNumberOfCalls(t, "CreateRun", 1)
}

func TestPauseRun_FromRunning(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(runningRun("run-1"), nil)
	env.runs.On("UpdateRunStatus", mock.Anything, mock.AnythingOfType("*models.Run")).Return(nil)
	env.runs.On("AppendRunEvent", mock.Anything, mock.AnythingOfType("*models.RunEvent")).Return(nil)
	env.expectRecordedAction()

	run, err := env.orch.PauseRun(context.Background(), testTenant, "run-1", "olivia")

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, run.Status)
	require.NotNil(t, run.PausedAt)
}

func TestPauseRun_FromPausedIsConflict(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	paused := runningRun("run-1")
	paused.Status = models.RunStatusPaused
	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(paused, nil)

	_, err := env.orch.PauseRun(context.Background(), testTenant, "run-1", "olivia")

	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	env.runs.AssertNotCalled(t, "UpdateRunStatus", mock.Anything, mock.Anything)
}

func TestAbortRun_FromPaused(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	paused := runningRun("run-1")
	paused.Status = models.RunStatusPaused
	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(paused, nil)
	env.runs.On("UpdateRunStatus", mock.Anything, mock.AnythingOfType("*models.Run")).Return(nil)
	env.runs.On("AppendRunEvent", mock.Anything, mock.AnythingOfType("*models.RunEvent")).Return(nil)
	env.expectRecordedAction()

	run, err := env.orch.AbortRun(context.Background(), testTenant, "run-1", "olivia", "contamination detected")

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusAborted, run.Status)
	assert.Equal(t, "contamination detected", run.AbortReason)
	require.NotNil(t, run.AbortedAt)
}

func TestAbortRun_AlreadyAborted(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	aborted := runningRun("run-1")
	aborted.Status = models.RunStatusAborted
	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(aborted, nil)

	_, err := env.orch.AbortRun(context.Background(), testTenant, "run-1", "olivia", "again")

	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
}

func TestStreamRunEvents_InvalidCursor(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	_, err := env.orch.StreamRunEvents(context.Background(), testTenant, "run-1", -1, 0, 100)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	_, err = env.orch.StreamRunEvents(context.Background(), testTenant, "run-1", 0, 0, 0)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestStreamRunEvents_UnknownRun(t *testing.T) {
	env := newTestEnv(DefaultPolicy())
	env.runs.On("GetRun", mock.Anything, testTenant, "ghost").Return(nil, repositories.ErrNotFound)

	_, err := env.orch.StreamRunEvents(context.Background(), testTenant, "ghost", 0, 0, 100)

	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestGetReproducibilityScore(t *testing.T) {
	tests := []struct {
		name      string
		status    models.RunStatus
		telemetry int
		alerts    int
		want      float64
	}{
		{"clean run", models.RunStatusRunning, 20, 1, 0.95},
		{"aborted run pays penalty", models.RunStatusAborted, 20, 1, 0.80},
		{"no telemetry no alerts", models.RunStatusRunning, 0, 0, 1.0},
		{"score clamps at zero", models.RunStatusAborted, 2, 2, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(DefaultPolicy())

			run := runningRun("run-1")
			run.Status = tt.status
			env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(run, nil)
			env.runs.On("CountTelemetry", mock.Anything, testTenant, "run-1").Return(tt.telemetry, nil)
			env.drift.On("CountAlerts", mock.Anything, testTenant, "run-1").Return(tt.alerts, nil)

			score, err := env.orch.GetReproducibilityScore(context.Background(), testTenant, "run-1")

			require.NoError(t, err)
			assert.InDelta(t, tt.want, score.Score, 1e-9)
			assert.Equal(t, tt.telemetry, score.TelemetryCount)
			assert.Equal(t, tt.alerts, score.DriftAlerts)
			assert.Equal(t, tt.status == models.RunStatusAborted, score.Aborted)
		})
	}
}

func TestExportRunReport(t *testing.T) {
	env := newTestEnv(DefaultPolicy())

	env.runs.On("GetRun", mock.Anything, testTenant, "run-1").Return(runningRun("run-1"), nil)
	env.runs.On("ListRunEvents", mock.Anything, testTenant, "run-1", int64(0), int64(0), reportPageLimit).
		Return([]*models.RunEvent{{Seq: 1, EventType: models.RunEventStarted}}, nil)
	env.runs.On("ListTelemetry", mock.Anything, testTenant, "run-1", int64(0), int64(0), reportPageLimit).
		Return([]*models.TelemetryPoint{{Seq: 1, Metric: "temperatureC"}}, nil)
	env.runs.On("CountTelemetry", mock.Anything, testTenant, "run-1").Return(1, nil)
	env.drift.On("CountAlerts", mock.Anything, testTenant, "run-1").Return(0, nil)
	env.evidence.On("VerifyChain", mock.Anything, testTenant, reportPageLimit).
		Return(&models.ChainVerification{Valid: true, Checked: 4, FailureIndex: -1}, nil)

	report, err := env.orch.ExportRunReport(context.Background(), testTenant, "run-1")

	require.NoError(t, err)
	assert.Len(t, report.Events, 1)
	assert.Len(t, report.Telemetry, 1)
	assert.True(t, report.EvidenceChainValid)
	assert.InDelta(t, 1.0, report.Reproducibility.Score, 1e-9)
	assert.NotZero(t, report.GeneratedAtMs)
}
