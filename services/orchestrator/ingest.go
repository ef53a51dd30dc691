package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"github.com/regenfab/regenops/utils"
	"go.uber.org/zap"
)

// Evidence/outbox action types for gateway operations.
const (
	ActionGatewayRegistered = "gateway.registered"
	ActionDriftAlertRaised  = "drift.alert_raised"
)

// RegisterGateway enrolls a gateway or refreshes its registration.
func (o *Orchestrator) RegisterGateway(ctx context.Context, tenantID string, req RegisterGatewayRequest) (*models.Gateway, error) {
	req.GatewayID = utils.NormalizeIdentifier(req.GatewayID)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}
	if err := utils.ValidateIdentifier(req.GatewayID, "gateway_id"); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), nil)
	}

	gateway := &models.Gateway{
		TenantID:     tenantID,
		GatewayID:    req.GatewayID,
		Name:         req.Name,
		CertSerial:   req.CertSerial,
		RegisteredAt: time.Now(),
	}

	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		if err := o.repos.Gateways.UpsertGateway(ctx, gateway); err != nil {
			return services.WrapInternal("failed to register gateway", err)
		}
		return o.recordAction(ctx, tenantID, ActionGatewayRegistered, req.GatewayID, "gateway", req.GatewayID,
			map[string]interface{}{"gateway_id": req.GatewayID, "cert_serial": req.CertSerial})
	})
	if err != nil {
		return nil, err
	}

	return gateway, nil
}

// Heartbeat marks a gateway online and refreshes its last-seen timestamp.
func (o *Orchestrator) Heartbeat(ctx context.Context, tenantID, gatewayID string) error {
	gatewayID = utils.NormalizeIdentifier(gatewayID)
	if err := o.repos.Gateways.HeartbeatGateway(ctx, tenantID, gatewayID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrGatewayNotFound.WithDetail("gateway_id", gatewayID)
		}
		return services.WrapInternal("failed to record heartbeat", err)
	}
	return nil
}

// FetchConfig returns the configuration snapshot a gateway needs: its own
// registration, every protocol's latest published version, and the drift
// threshold it should apply locally.
func (o *Orchestrator) FetchConfig(ctx context.Context, tenantID, gatewayID string) (*GatewayConfig, error) {
	gateway, err := o.requireGateway(ctx, tenantID, gatewayID)
	if err != nil {
		return nil, err
	}

	summaries, err := o.repos.Protocols.ListProtocols(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list protocols", err)
	}

	protocols := make([]ProtocolLatest, 0, len(summaries))
	for _, summary := range summaries {
		if summary.LatestVersion == 0 {
			continue // never published, nothing a gateway can execute
		}
		protocols = append(protocols, ProtocolLatest{
			ProtocolID:    summary.ProtocolID,
			Title:         summary.Title,
			LatestVersion: summary.LatestVersion,
		})
	}

	return &GatewayConfig{
		Gateway: &GatewaySnapshot{
			GatewayID:  gateway.GatewayID,
			Name:       gateway.Name,
			CertSerial: gateway.CertSerial,
			Online:     gateway.Online,
		},
		Protocols:      protocols,
		DriftThreshold: o.policy.DriftThreshold,
	}, nil
}

func (o *Orchestrator) requireGateway(ctx context.Context, tenantID, gatewayID string) (*models.Gateway, error) {
	gateway, err := o.repos.Gateways.GetGateway(ctx, tenantID, utils.NormalizeIdentifier(gatewayID))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeDependency,
				"gateway is not registered", nil).WithDetail("gateway_id", gatewayID)
		}
		return nil, services.WrapInternal("failed to resolve gateway", err)
	}
	return gateway, nil
}

// PushRunEvents ingests a batch of run events from a gateway. Items are
// accepted or rejected independently; one bad item never fails the batch.
func (o *Orchestrator) PushRunEvents(ctx context.Context, tenantID, gatewayID string, items []IngestRunEvent) (*IngestResult, error) {
	if _, err := o.requireGateway(ctx, tenantID, gatewayID); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	for _, item := range items {
		if err := o.ingestRunEvent(ctx, tenantID, item); err != nil {
			result.Rejected++
			o.logger.Debug("run event rejected",
				zap.String("tenant_id", tenantID),
				zap.String("run_id", item.RunID),
				zap.Error(err))
			continue
		}
		result.Accepted++
	}

	return result, nil
}

func (o *Orchestrator) ingestRunEvent(ctx context.Context, tenantID string, item IngestRunEvent) error {
	runID := utils.NormalizeIdentifier(item.RunID)
	if runID == "" || item.EventType == "" {
		return services.ErrInvalidInput
	}
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return err
	}

	var raw json.RawMessage
	if item.Payload != nil {
		encoded, err := json.Marshal(item.Payload)
		if err != nil {
			return services.NewDomainError(services.ErrorTypeValidation, "payload is not serializable", err)
		}
		raw = encoded
	}

	recordedAt := item.RecordedAtMs
	if recordedAt <= 0 {
		recordedAt = time.Now().UnixMilli()
	}

	event := &models.RunEvent{
		TenantID:     tenantID,
		RunID:        runID,
		EventType:    item.EventType,
		Payload:      raw,
		RecordedAtMs: recordedAt,
	}
	if err := o.repos.Runs.AppendRunEvent(ctx, event); err != nil {
		return services.WrapInternal("failed to append run event", err)
	}
	return nil
}

// PushTelemetry ingests a telemetry batch with the same partial-failure
// semantics as PushRunEvents. Accepted points whose drift score reaches the
// policy threshold spawn drift alerts.
func (o *Orchestrator) PushTelemetry(ctx context.Context, tenantID, gatewayID string, items []IngestTelemetryPoint) (*IngestResult, error) {
	if _, err := o.requireGateway(ctx, tenantID, gatewayID); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	var accepted []*models.TelemetryPoint
	for _, item := range items {
		point, err := o.buildTelemetryPoint(ctx, tenantID, item)
		if err != nil {
			result.Rejected++
			o.logger.Debug("telemetry point rejected",
				zap.String("tenant_id", tenantID),
				zap.String("run_id", item.RunID),
				zap.Error(err))
			continue
		}
		accepted = append(accepted, point)
	}

	if len(accepted) > 0 {
		if err := o.repos.Runs.AppendTelemetry(ctx, accepted); err != nil {
			return nil, services.WrapInternal("failed to append telemetry", err)
		}
		result.Accepted = len(accepted)

		if err := o.raiseDriftAlerts(ctx, tenantID, accepted); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (o *Orchestrator) buildTelemetryPoint(ctx context.Context, tenantID string, item IngestTelemetryPoint) (*models.TelemetryPoint, error) {
	runID := utils.NormalizeIdentifier(item.RunID)
	if runID == "" || item.Metric == "" {
		return nil, services.ErrInvalidInput
	}
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	recordedAt := item.RecordedAtMs
	if recordedAt <= 0 {
		recordedAt = time.Now().UnixMilli()
	}

	return &models.TelemetryPoint{
		TenantID:     tenantID,
		RunID:        runID,
		Metric:       item.Metric,
		Value:        item.Value,
		Unit:         item.Unit,
		DriftScore:   item.DriftScore,
		RecordedAtMs: recordedAt,
	}, nil
}

// raiseDriftAlerts inspects freshly inserted points and turns threshold
// breaches into alerts, each evidenced and announced on the outbox.
func (o *Orchestrator) raiseDriftAlerts(ctx context.Context, tenantID string, points []*models.TelemetryPoint) error {
	for _, point := range points {
		if point.DriftScore < o.policy.DriftThreshold {
			continue
		}

		alert := models.NewDriftAlert(point)
		err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
			if err := o.repos.Drift.InsertAlert(ctx, alert); err != nil {
				return services.WrapInternal("failed to insert drift alert", err)
			}
			return o.recordAction(ctx, tenantID, ActionDriftAlertRaised, point.RunID, "drift_alert", alert.ID.String(),
				map[string]interface{}{
					"run_id":      point.RunID,
					"metric":      point.Metric,
					"drift_score": point.DriftScore,
					"severity":    string(alert.Severity),
				})
		})
		if err != nil {
			return err
		}

		o.logger.Warn("drift alert raised",
			zap.String("tenant_id", tenantID),
			zap.String("run_id", point.RunID),
			zap.String("metric", point.Metric),
			zap.Float64("drift_score", point.DriftScore),
			zap.String("severity", string(alert.Severity)))
	}
	return nil
}

// ListDriftAlerts lists a run's drift alerts, oldest first.
func (o *Orchestrator) ListDriftAlerts(ctx context.Context, tenantID, runID string, limit int) ([]*models.DriftAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := o.loadRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	alerts, err := o.repos.Drift.ListAlerts(ctx, tenantID, utils.NormalizeIdentifier(runID), limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list drift alerts", err)
	}
	return alerts, nil
}
