package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"github.com/regenfab/regenops/utils"
	"go.uber.org/zap"
)

// abortedScorePenalty is subtracted from the reproducibility score of runs
// that ended in ABORTED.
const abortedScorePenalty = 0.15

// RunReport is the exportable JSON snapshot of a run.
type RunReport struct {
	Run                *models.Run              `json:"run"`
	Events             []*models.RunEvent       `json:"events"`
	Telemetry          []*models.TelemetryPoint `json:"telemetry"`
	Reproducibility    *ReproducibilityScore    `json:"reproducibility"`
	EvidenceChainValid bool                     `json:"evidence_chain_valid"`
	GeneratedAtMs      int64                    `json:"generated_at_ms"`
}

// runIDNamespace seeds run ids derived from idempotency keys.
var runIDNamespace = uuid.MustParse("c0a80e6e-4b6f-4d0e-9f3a-52d4a6c9b7e1")

// deterministicRunID maps (tenant, idempotency key) to a stable run id so a
// replayed start request without a client-chosen id resolves to the run the
// first request created.
func deterministicRunID(tenantID, key string) string {
	return uuid.NewSHA1(runIDNamespace, []byte(tenantID+"/"+key)).String()
}

// StartRun starts a run against a published protocol version. The version
// must exist; a run id is generated when none is supplied. The idempotency
// key is recorded inside the same transaction as the run, so a failed start
// does not burn the key.
func (o *Orchestrator) StartRun(ctx context.Context, tenantID string, req StartRunRequest) (*models.Run, error) {
	req.RunID = utils.NormalizeIdentifier(req.RunID)
	req.ProtocolID = utils.NormalizeIdentifier(req.ProtocolID)
	req.GatewayID = utils.NormalizeIdentifier(req.GatewayID)
	req.OperatorID = utils.NormalizeIdentifier(req.OperatorID)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}
	if req.RunID == "" && req.IdempotencyKey != "" {
		req.RunID = deterministicRunID(tenantID, req.IdempotencyKey)
	}

	run := models.NewRun(tenantID, req.RunID, req.ProtocolID, req.ProtocolVersion, req.GatewayID, req.OperatorID)

	var existing *models.Run
	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		outcome, err := o.rememberOrConflict(ctx, "start_run", req.IdempotencyKey, req)
		if err != nil {
			return err
		}
		if outcome == models.IdempotencyDuplicateMatch {
			// A duplicate key implies a non-empty run id: either the client
			// supplied one or it was derived from the key above.
			existing, err = o.loadRun(ctx, tenantID, run.RunID)
			return err
		}

		if _, err := o.repos.Protocols.GetVersion(ctx, tenantID, req.ProtocolID, req.ProtocolVersion); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.NewDomainError(services.ErrorTypeDependency,
					"protocol version does not exist", nil).
					WithDetail("protocol_id", req.ProtocolID).
					WithDetail("version", req.ProtocolVersion)
			}
			return services.WrapInternal("failed to resolve protocol version", err)
		}

		if err := o.repos.Runs.CreateRun(ctx, run); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return services.ErrDuplicateRun.WithDetail("run_id", run.RunID)
			}
			return services.WrapInternal("failed to create run", err)
		}
		if err := o.appendTransitionEvent(ctx, run, models.RunEventStarted, nil); err != nil {
			return err
		}
		return o.recordAction(ctx, tenantID, models.RunEventStarted, req.OperatorID, "run", run.RunID,
			map[string]interface{}{
				"run_id":           run.RunID,
				"protocol_id":      run.ProtocolID,
				"protocol_version": run.ProtocolVersion,
				"gateway_id":       run.GatewayID,
			})
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	o.logger.Info("run started",
		zap.String("tenant_id", tenantID),
		zap.String("run_id", run.RunID),
		zap.String("protocol_id", run.ProtocolID),
		zap.Int("protocol_version", run.ProtocolVersion))
	return run, nil
}

// PauseRun pauses a run. Legal only from RUNNING; there is no transition back
// from PAUSED to RUNNING.
func (o *Orchestrator) PauseRun(ctx context.Context, tenantID, runID, operatorID string) (*models.Run, error) {
	var run *models.Run
	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		run, err = o.loadRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusRunning {
			return services.ErrRunNotRunning.
				WithDetail("run_id", runID).
				WithDetail("status", string(run.Status))
		}

		now := time.Now()
		run.Status = models.RunStatusPaused
		run.PausedAt = &now
		if err := o.repos.Runs.UpdateRunStatus(ctx, run); err != nil {
			return services.WrapInternal("failed to pause run", err)
		}

		if err := o.appendTransitionEvent(ctx, run, models.RunEventPaused, nil); err != nil {
			return err
		}
		return o.recordAction(ctx, tenantID, models.RunEventPaused, operatorID, "run", runID,
			map[string]interface{}{"run_id": runID})
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// AbortRun aborts a run from any non-ABORTED state. Re-aborting is a
// conflict. ABORTED is terminal.
func (o *Orchestrator) AbortRun(ctx context.Context, tenantID, runID, operatorID, reason string) (*models.Run, error) {
	var run *models.Run
	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		run, err = o.loadRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		if run.Status == models.RunStatusAborted {
			return services.ErrRunAlreadyAborted.WithDetail("run_id", runID)
		}

		now := time.Now()
		run.Status = models.RunStatusAborted
		run.AbortedAt = &now
		run.AbortReason = reason
		if err := o.repos.Runs.UpdateRunStatus(ctx, run); err != nil {
			return services.WrapInternal("failed to abort run", err)
		}

		if err := o.appendTransitionEvent(ctx, run, models.RunEventAborted,
			map[string]interface{}{"reason": reason}); err != nil {
			return err
		}
		return o.recordAction(ctx, tenantID, models.RunEventAborted, operatorID, "run", runID,
			map[string]interface{}{"run_id": runID, "reason": reason})
	})
	if err != nil {
		return nil, err
	}

	o.logger.Warn("run aborted",
		zap.String("tenant_id", tenantID),
		zap.String("run_id", runID),
		zap.String("reason", reason))
	return run, nil
}

// GetRun retrieves a run.
func (o *Orchestrator) GetRun(ctx context.Context, tenantID, runID string) (*models.Run, error) {
	return o.loadRun(ctx, tenantID, runID)
}

func (o *Orchestrator) loadRun(ctx context.Context, tenantID, runID string) (*models.Run, error) {
	run, err := o.repos.Runs.GetRun(ctx, tenantID, utils.NormalizeIdentifier(runID))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRunNotFound.WithDetail("run_id", runID)
		}
		return nil, services.WrapInternal("failed to get run", err)
	}
	return run, nil
}

func (o *Orchestrator) appendTransitionEvent(ctx context.Context, run *models.Run, eventType string, payload map[string]interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return services.WrapInternal("failed to encode run event payload", err)
		}
		raw = encoded
	}

	event := &models.RunEvent{
		TenantID:     run.TenantID,
		RunID:        run.RunID,
		EventType:    eventType,
		Payload:      raw,
		RecordedAtMs: time.Now().UnixMilli(),
	}
	if err := o.repos.Runs.AppendRunEvent(ctx, event); err != nil {
		return services.WrapInternal("failed to append run event", err)
	}
	return nil
}

// StreamRunEvents pages a run's events after the (sinceMs, sinceSeq) cursor.
func (o *Orchestrator) StreamRunEvents(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.RunEvent, error) {
	if err := o.checkCursor(sinceMs, sinceSeq, limit); err != nil {
		return nil, err
	}
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	events, err := o.repos.Runs.ListRunEvents(ctx, tenantID, runID, sinceMs, sinceSeq, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list run events", err)
	}
	return events, nil
}

// StreamTelemetry pages a run's telemetry after the (sinceMs, sinceSeq)
// cursor.
func (o *Orchestrator) StreamTelemetry(ctx context.Context, tenantID, runID string, sinceMs, sinceSeq int64, limit int) ([]*models.TelemetryPoint, error) {
	if err := o.checkCursor(sinceMs, sinceSeq, limit); err != nil {
		return nil, err
	}
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	points, err := o.repos.Runs.ListTelemetry(ctx, tenantID, runID, sinceMs, sinceSeq, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list telemetry", err)
	}
	return points, nil
}

func (o *Orchestrator) checkCursor(sinceMs, sinceSeq int64, limit int) error {
	if sinceMs < 0 || sinceSeq < 0 || limit <= 0 {
		return services.ErrInvalidCursor.
			WithDetail("since_ms", sinceMs).
			WithDetail("since_seq", sinceSeq).
			WithDetail("limit", limit)
	}
	return nil
}

// GetReproducibilityScore computes
// clamp01(1 - alerts/max(1, telemetry) - penalty) where the penalty applies
// to aborted runs.
func (o *Orchestrator) GetReproducibilityScore(ctx context.Context, tenantID, runID string) (*ReproducibilityScore, error) {
	run, err := o.loadRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	telemetryCount, err := o.repos.Runs.CountTelemetry(ctx, tenantID, run.RunID)
	if err != nil {
		return nil, services.WrapInternal("failed to count telemetry", err)
	}
	alertCount, err := o.repos.Drift.CountAlerts(ctx, tenantID, run.RunID)
	if err != nil {
		return nil, services.WrapInternal("failed to count drift alerts", err)
	}

	denominator := telemetryCount
	if denominator < 1 {
		denominator = 1
	}
	score := 1 - float64(alertCount)/float64(denominator)
	aborted := run.Status == models.RunStatusAborted
	if aborted {
		score -= abortedScorePenalty
	}

	return &ReproducibilityScore{
		RunID:          run.RunID,
		Score:          clamp01(score),
		TelemetryCount: telemetryCount,
		DriftAlerts:    alertCount,
		Aborted:        aborted,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExportRunReport assembles the evidence-backed JSON snapshot of a run:
// events, telemetry, reproducibility score and the tenant's chain validity.
func (o *Orchestrator) ExportRunReport(ctx context.Context, tenantID, runID string) (*RunReport, error) {
	run, err := o.loadRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	events, err := o.repos.Runs.ListRunEvents(ctx, tenantID, run.RunID, 0, 0, reportPageLimit)
	if err != nil {
		return nil, services.WrapInternal("failed to list run events", err)
	}
	telemetry, err := o.repos.Runs.ListTelemetry(ctx, tenantID, run.RunID, 0, 0, reportPageLimit)
	if err != nil {
		return nil, services.WrapInternal("failed to list telemetry", err)
	}

	score, err := o.GetReproducibilityScore(ctx, tenantID, run.RunID)
	if err != nil {
		return nil, err
	}

	verification, err := o.ledger.VerifyChain(ctx, tenantID, reportPageLimit)
	if err != nil {
		return nil, err
	}

	return &RunReport{
		Run:                run,
		Events:             events,
		Telemetry:          telemetry,
		Reproducibility:    score,
		EvidenceChainValid: verification.Valid,
		GeneratedAtMs:      time.Now().UnixMilli(),
	}, nil
}

// reportPageLimit bounds how many rows a report pulls per stream.
const reportPageLimit = 10000
