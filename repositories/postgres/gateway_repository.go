package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// GatewayRepository implements the repositories.GatewayRepository interface
type GatewayRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGatewayRepository creates a new gateway repository
func NewGatewayRepository(db *DB, logger *zap.Logger) repositories.GatewayRepository {
	return &GatewayRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertGateway inserts or updates a gateway registration.
func (r *GatewayRepository) UpsertGateway(ctx context.Context, gateway *models.Gateway) error {
	query := `
		INSERT INTO gateways (tenant_id, gateway_id, name, cert_serial, online, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, gateway_id)
		DO UPDATE SET name = EXCLUDED.name, cert_serial = EXCLUDED.cert_serial
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		gateway.TenantID,
		gateway.GatewayID,
		gateway.Name,
		gateway.CertSerial,
		gateway.Online,
		gateway.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert gateway: %w", err)
	}

	r.logger.Debug("gateway upserted",
		zap.String("tenant_id", gateway.TenantID),
		zap.String("gateway_id", gateway.GatewayID))
	return nil
}

// HeartbeatGateway marks a gateway online and refreshes last-seen.
func (r *GatewayRepository) HeartbeatGateway(ctx context.Context, tenantID, gatewayID string) error {
	query := `
		UPDATE gateways
		SET online = true, last_seen_at = $3
		WHERE tenant_id = $1 AND gateway_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, tenantID, gatewayID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read heartbeat result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("gateway %s/%s: %w", tenantID, gatewayID, repositories.ErrNotFound)
	}

	return nil
}

// GetGateway retrieves a gateway.
func (r *GatewayRepository) GetGateway(ctx context.Context, tenantID, gatewayID string) (*models.Gateway, error) {
	query := `
		SELECT tenant_id, gateway_id, name, cert_serial, online, last_seen_at, registered_at
		FROM gateways
		WHERE tenant_id = $1 AND gateway_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	gateway := &models.Gateway{}

	err := executor.QueryRowContext(ctx, query, tenantID, gatewayID).Scan(
		&gateway.TenantID,
		&gateway.GatewayID,
		&gateway.Name,
		&gateway.CertSerial,
		&gateway.Online,
		&gateway.LastSeenAt,
		&gateway.RegisteredAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("gateway %s/%s: %w", tenantID, gatewayID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get gateway: %w", err)
	}

	return gateway, nil
}
