package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// ProtocolRepository implements the repositories.ProtocolRepository interface
type ProtocolRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProtocolRepository creates a new protocol repository
func NewProtocolRepository(db *DB, logger *zap.Logger) repositories.ProtocolRepository {
	return &ProtocolRepository{
		db:     db,
		logger: logger,
	}
}

// CreateDraft inserts a new draft; a draft that already exists is a conflict.
func (r *ProtocolRepository) CreateDraft(ctx context.Context, draft *models.ProtocolDraft) error {
	query := `
		INSERT INTO protocol_drafts (tenant_id, protocol_id, title, content, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		draft.TenantID,
		draft.ProtocolID,
		draft.Title,
		draft.Content,
		draft.UpdatedBy,
		draft.CreatedAt,
		draft.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("draft %s/%s already exists: %w", draft.TenantID, draft.ProtocolID, repositories.ErrConflict)
		}
		return fmt.Errorf("failed to create draft: %w", err)
	}

	r.logger.Debug("draft created",
		zap.String("tenant_id", draft.TenantID),
		zap.String("protocol_id", draft.ProtocolID))
	return nil
}

// UpdateDraft overwrites an existing draft.
func (r *ProtocolRepository) UpdateDraft(ctx context.Context, draft *models.ProtocolDraft) error {
	query := `
		UPDATE protocol_drafts
		SET title = $3, content = $4, updated_by = $5, updated_at = $6
		WHERE tenant_id = $1 AND protocol_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		draft.TenantID,
		draft.ProtocolID,
		draft.Title,
		draft.Content,
		draft.UpdatedBy,
		draft.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s/%s: %w", draft.TenantID, draft.ProtocolID, repositories.ErrNotFound)
	}

	return nil
}

// GetDraft retrieves the draft for a protocol.
func (r *ProtocolRepository) GetDraft(ctx context.Context, tenantID, protocolID string) (*models.ProtocolDraft, error) {
	query := `
		SELECT tenant_id, protocol_id, title, content, updated_by, created_at, updated_at
		FROM protocol_drafts
		WHERE tenant_id = $1 AND protocol_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	draft := &models.ProtocolDraft{}

	err := executor.QueryRowContext(ctx, query, tenantID, protocolID).Scan(
		&draft.TenantID,
		&draft.ProtocolID,
		&draft.Title,
		&draft.Content,
		&draft.UpdatedBy,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("draft %s/%s: %w", tenantID, protocolID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// NextVersion returns the previous max version + 1, starting at 1.
func (r *ProtocolRepository) NextVersion(ctx context.Context, tenantID, protocolID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM protocol_versions
		WHERE tenant_id = $1 AND protocol_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	var next int
	if err := executor.QueryRowContext(ctx, query, tenantID, protocolID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next version: %w", err)
	}

	return next, nil
}

// InsertVersion persists an immutable version.
func (r *ProtocolRepository) InsertVersion(ctx context.Context, version *models.ProtocolVersion) error {
	query := `
		INSERT INTO protocol_versions (tenant_id, protocol_id, version, content, published_by, changelog, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		version.TenantID,
		version.ProtocolID,
		version.Version,
		version.Content,
		version.PublishedBy,
		version.Changelog,
		version.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("version %s/%s@%d already exists: %w",
				version.TenantID, version.ProtocolID, version.Version, repositories.ErrConflict)
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}

	r.logger.Debug("version inserted",
		zap.String("tenant_id", version.TenantID),
		zap.String("protocol_id", version.ProtocolID),
		zap.Int("version", version.Version))
	return nil
}

// GetVersion retrieves a specific version.
func (r *ProtocolRepository) GetVersion(ctx context.Context, tenantID, protocolID string, version int) (*models.ProtocolVersion, error) {
	query := `
		SELECT tenant_id, protocol_id, version, content, published_by, changelog, created_at
		FROM protocol_versions
		WHERE tenant_id = $1 AND protocol_id = $2 AND version = $3
	`

	return r.scanVersion(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, protocolID, version),
		tenantID, protocolID)
}

// LatestVersion retrieves the highest published version.
func (r *ProtocolRepository) LatestVersion(ctx context.Context, tenantID, protocolID string) (*models.ProtocolVersion, error) {
	query := `
		SELECT tenant_id, protocol_id, version, content, published_by, changelog, created_at
		FROM protocol_versions
		WHERE tenant_id = $1 AND protocol_id = $2
		ORDER BY version DESC
		LIMIT 1
	`

	return r.scanVersion(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, protocolID),
		tenantID, protocolID)
}

func (r *ProtocolRepository) scanVersion(row *sql.Row, tenantID, protocolID string) (*models.ProtocolVersion, error) {
	version := &models.ProtocolVersion{}
	err := row.Scan(
		&version.TenantID,
		&version.ProtocolID,
		&version.Version,
		&version.Content,
		&version.PublishedBy,
		&version.Changelog,
		&version.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("version of %s/%s: %w", tenantID, protocolID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// ListProtocols lists all protocols for a tenant with their latest version.
func (r *ProtocolRepository) ListProtocols(ctx context.Context, tenantID string) ([]*models.ProtocolSummary, error) {
	query := `
		SELECT d.protocol_id, d.title, COALESCE(MAX(v.version), 0) AS latest_version
		FROM protocol_drafts d
		LEFT JOIN protocol_versions v
			ON v.tenant_id = d.tenant_id AND v.protocol_id = d.protocol_id
		WHERE d.tenant_id = $1
		GROUP BY d.protocol_id, d.title
		ORDER BY d.protocol_id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocols: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ProtocolSummary
	for rows.Next() {
		summary := &models.ProtocolSummary{}
		if err := rows.Scan(&summary.ProtocolID, &summary.Title, &summary.LatestVersion); err != nil {
			return nil, fmt.Errorf("failed to scan protocol summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating protocol rows: %w", err)
	}

	return summaries, nil
}
