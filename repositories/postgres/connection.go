package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/regenfab/regenops/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Protocol drafts: one mutable working copy per (tenant, protocol)
		CREATE TABLE IF NOT EXISTS protocol_drafts (
			tenant_id VARCHAR(100) NOT NULL,
			protocol_id VARCHAR(100) NOT NULL,
			title VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			updated_by VARCHAR(100) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, protocol_id)
		);

		-- Immutable published versions
		CREATE TABLE IF NOT EXISTS protocol_versions (
			tenant_id VARCHAR(100) NOT NULL,
			protocol_id VARCHAR(100) NOT NULL,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			published_by VARCHAR(100) NOT NULL,
			changelog TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, protocol_id, version)
		);

		-- Dual-control publish approvals
		CREATE TABLE IF NOT EXISTS publish_approvals (
			id UUID NOT NULL,
			tenant_id VARCHAR(100) NOT NULL,
			protocol_id VARCHAR(100) NOT NULL,
			requested_by VARCHAR(100) NOT NULL,
			approved_by VARCHAR(100),
			consumed_by VARCHAR(100),
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			approved_at TIMESTAMP,
			consumed_at TIMESTAMP,
			PRIMARY KEY (tenant_id, id)
		);

		-- Manufacturing runs
		CREATE TABLE IF NOT EXISTS runs (
			tenant_id VARCHAR(100) NOT NULL,
			run_id VARCHAR(100) NOT NULL,
			protocol_id VARCHAR(100) NOT NULL,
			protocol_version INTEGER NOT NULL,
			gateway_id VARCHAR(100) NOT NULL,
			operator_id VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			paused_at TIMESTAMP,
			aborted_at TIMESTAMP,
			abort_reason TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, run_id)
		);

		-- Append-only run events; seq doubles as the resumable cursor
		CREATE TABLE IF NOT EXISTS run_events (
			seq BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			run_id VARCHAR(100) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			payload JSONB,
			recorded_at_ms BIGINT NOT NULL
		);

		-- Append-only telemetry
		CREATE TABLE IF NOT EXISTS telemetry_points (
			seq BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			run_id VARCHAR(100) NOT NULL,
			metric VARCHAR(100) NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			unit VARCHAR(50) NOT NULL DEFAULT '',
			drift_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			recorded_at_ms BIGINT NOT NULL
		);

		-- Drift alerts derived from telemetry
		CREATE TABLE IF NOT EXISTS drift_alerts (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			run_id VARCHAR(100) NOT NULL,
			metric VARCHAR(100) NOT NULL,
			drift_score DOUBLE PRECISION NOT NULL,
			severity VARCHAR(20) NOT NULL,
			telemetry_seq BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Hash-chained evidence ledger, append-only per tenant
		CREATE TABLE IF NOT EXISTS evidence_events (
			seq BIGSERIAL PRIMARY KEY,
			id UUID NOT NULL,
			tenant_id VARCHAR(100) NOT NULL,
			action_type VARCHAR(100) NOT NULL,
			actor_id VARCHAR(100) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			-- TEXT, not JSONB: payload bytes must survive verbatim so chain
			-- verification can recompute the stored payload hash
			payload TEXT NOT NULL,
			payload_hash VARCHAR(64) NOT NULL,
			prev_hash VARCHAR(64) NOT NULL DEFAULT '',
			event_hash VARCHAR(64) NOT NULL,
			created_at_ms BIGINT NOT NULL
		);

		-- Outbox delivery queue
		CREATE TABLE IF NOT EXISTS outbox_events (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			payload JSONB NOT NULL,
			status VARCHAR(20) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP,
			processing_started_at TIMESTAMP,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Dead-lettered outbox events kept for inspection and replay
		CREATE TABLE IF NOT EXISTS dead_letter_events (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(100) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			payload JSONB NOT NULL,
			attempts INTEGER NOT NULL,
			reason TEXT NOT NULL,
			failed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Request idempotency records, pruned lazily
		CREATE TABLE IF NOT EXISTS idempotency_records (
			operation VARCHAR(100) NOT NULL,
			key VARCHAR(255) NOT NULL,
			payload_hash VARCHAR(64) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (operation, key)
		);

		-- Gateways
		CREATE TABLE IF NOT EXISTS gateways (
			tenant_id VARCHAR(100) NOT NULL,
			gateway_id VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			cert_serial VARCHAR(100) NOT NULL,
			online BOOLEAN NOT NULL DEFAULT false,
			last_seen_at TIMESTAMP,
			registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, gateway_id)
		);

		-- Indexes for cursor pagination and queue scans
		CREATE INDEX IF NOT EXISTS idx_run_events_cursor ON run_events(tenant_id, run_id, recorded_at_ms, seq);
		CREATE INDEX IF NOT EXISTS idx_telemetry_cursor ON telemetry_points(tenant_id, run_id, recorded_at_ms, seq);
		CREATE INDEX IF NOT EXISTS idx_evidence_tenant_seq ON evidence_events(tenant_id, seq);
		CREATE INDEX IF NOT EXISTS idx_drift_alerts_run ON drift_alerts(tenant_id, run_id);
		CREATE INDEX IF NOT EXISTS idx_outbox_status_due ON outbox_events(status, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_dead_letter_tenant ON dead_letter_events(tenant_id, failed_at);
		CREATE INDEX IF NOT EXISTS idx_idempotency_expiry ON idempotency_records(expires_at);
		CREATE INDEX IF NOT EXISTS idx_versions_latest ON protocol_versions(tenant_id, protocol_id, version DESC);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
