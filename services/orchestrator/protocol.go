package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/dsl"
	"github.com/regenfab/regenops/internal/canonjson"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"github.com/regenfab/regenops/utils"
	"go.uber.org/zap"
)

// Evidence/outbox action types for the protocol lifecycle.
const (
	ActionDraftCreated      = "protocol.draft_created"
	ActionDraftUpdated      = "protocol.draft_updated"
	ActionApprovalRequested = "protocol.approval_requested"
	ActionApprovalGranted   = "protocol.approval_granted"
	ActionPublished         = "protocol.published"
)

// CreateDraft creates the first draft of a protocol. A draft that already
// exists is a conflict; authors must go through UpdateDraft.
func (o *Orchestrator) CreateDraft(ctx context.Context, tenantID string, req DraftRequest) (*models.ProtocolDraft, error) {
	draft, err := o.buildDraft(tenantID, req)
	if err != nil {
		return nil, err
	}

	err = services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		if err := o.repos.Protocols.CreateDraft(ctx, draft); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return services.ErrDuplicateProtocol.WithDetail("protocol_id", draft.ProtocolID)
			}
			return services.WrapInternal("failed to create draft", err)
		}
		return o.recordAction(ctx, tenantID, ActionDraftCreated, draft.UpdatedBy, "protocol", draft.ProtocolID,
			map[string]interface{}{"protocol_id": draft.ProtocolID, "title": draft.Title})
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("protocol draft created",
		zap.String("tenant_id", tenantID),
		zap.String("protocol_id", draft.ProtocolID))
	return draft, nil
}

// UpdateDraft overwrites an existing draft. Updating a protocol that has no
// draft yet is rejected.
func (o *Orchestrator) UpdateDraft(ctx context.Context, tenantID string, req DraftRequest) (*models.ProtocolDraft, error) {
	draft, err := o.buildDraft(tenantID, req)
	if err != nil {
		return nil, err
	}

	err = services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		if err := o.repos.Protocols.UpdateDraft(ctx, draft); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.ErrDraftNotFound.WithDetail("protocol_id", draft.ProtocolID)
			}
			return services.WrapInternal("failed to update draft", err)
		}
		return o.recordAction(ctx, tenantID, ActionDraftUpdated, draft.UpdatedBy, "protocol", draft.ProtocolID,
			map[string]interface{}{"protocol_id": draft.ProtocolID, "title": draft.Title})
	})
	if err != nil {
		return nil, err
	}

	return draft, nil
}

func (o *Orchestrator) buildDraft(tenantID string, req DraftRequest) (*models.ProtocolDraft, error) {
	req.ProtocolID = utils.NormalizeIdentifier(req.ProtocolID)
	req.ActorID = utils.NormalizeIdentifier(req.ActorID)
	req.Title = strings.TrimSpace(req.Title)

	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}
	if err := utils.ValidateIdentifier(req.ProtocolID, "protocol_id"); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), nil)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, services.ErrEmptyContent
	}

	now := time.Now()
	return &models.ProtocolDraft{
		TenantID:   tenantID,
		ProtocolID: req.ProtocolID,
		Title:      req.Title,
		Content:    req.Content,
		UpdatedBy:  req.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// RequestPublishApproval creates a pending dual-control approval for the
// protocol's next publish.
func (o *Orchestrator) RequestPublishApproval(ctx context.Context, tenantID string, req ApprovalRequest) (*models.PublishApproval, error) {
	req.ProtocolID = utils.NormalizeIdentifier(req.ProtocolID)
	req.ActorID = utils.NormalizeIdentifier(req.ActorID)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}

	approval := models.NewPublishApproval(tenantID, req.ProtocolID, req.ActorID)

	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		if err := o.repos.Approvals.RequestApproval(ctx, approval); err != nil {
			return services.WrapInternal("failed to request approval", err)
		}
		return o.recordAction(ctx, tenantID, ActionApprovalRequested, req.ActorID, "approval", approval.ID.String(),
			map[string]interface{}{"protocol_id": req.ProtocolID, "approval_id": approval.ID.String()})
	})
	if err != nil {
		return nil, err
	}

	return approval, nil
}

// ApprovePublishApproval transitions a pending approval to APPROVED. Only
// pending approvals can be approved.
func (o *Orchestrator) ApprovePublishApproval(ctx context.Context, tenantID, approvalID, approverID string) (*models.PublishApproval, error) {
	id, err := uuid.Parse(approvalID)
	if err != nil {
		return nil, services.ErrInvalidInput.WithDetail("approval_id", approvalID)
	}
	approverID = utils.NormalizeIdentifier(approverID)
	if approverID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "approver_id")
	}

	return services.WithTransactionResult(ctx, o.txMgr,
		func(ctx context.Context, _ repositories.Transaction) (*models.PublishApproval, error) {
			approval, err := o.repos.Approvals.ApproveApproval(ctx, tenantID, id, approverID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return nil, services.ErrApprovalNotFound.WithDetail("approval_id", approvalID)
				}
				if errors.Is(err, repositories.ErrConflict) {
					return nil, services.ErrApprovalNotPending.WithDetail("approval_id", approvalID)
				}
				return nil, services.WrapInternal("failed to approve approval", err)
			}
			if err := o.recordAction(ctx, tenantID, ActionApprovalGranted, approverID, "approval", approvalID,
				map[string]interface{}{"protocol_id": approval.ProtocolID, "approval_id": approvalID}); err != nil {
				return nil, err
			}
			return approval, nil
		})
}

// PublishVersion publishes the current draft as the next immutable version.
// Policy may require an e-signature and a consumed dual-control approval; DSL
// v1 drafts are validated and canonicalized, anything else passes verbatim.
func (o *Orchestrator) PublishVersion(ctx context.Context, tenantID string, req PublishRequest) (*models.ProtocolVersion, error) {
	req.ProtocolID = utils.NormalizeIdentifier(req.ProtocolID)
	req.PublisherID = utils.NormalizeIdentifier(req.PublisherID)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}

	if o.policy.RequireSignature && strings.TrimSpace(req.Signature) == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			"publish requires an e-signature", nil).WithDetail("protocol_id", req.ProtocolID)
	}

	var (
		version  *models.ProtocolVersion
		replayed bool
	)
	err := services.WithTransaction(ctx, o.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		// The key joins the publish transaction: a rolled-back publish also
		// rolls the key back, so a legitimate retry is not short-circuited.
		outcome, err := o.rememberOrConflict(ctx, "publish_version", req.IdempotencyKey, req)
		if err != nil {
			return err
		}
		if outcome == models.IdempotencyDuplicateMatch {
			// The earlier request already published; return its result.
			replayed = true
			version, err = o.latestVersion(ctx, tenantID, req.ProtocolID)
			return err
		}

		draft, err := o.repos.Protocols.GetDraft(ctx, tenantID, req.ProtocolID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.ErrDraftNotFound.WithDetail("protocol_id", req.ProtocolID)
			}
			return services.WrapInternal("failed to load draft", err)
		}

		if o.policy.RequireDualControl {
			if err := o.consumeApproval(ctx, tenantID, req); err != nil {
				return err
			}
		}

		content, err := o.prepareContent(draft.Content)
		if err != nil {
			return err
		}

		next, err := o.repos.Protocols.NextVersion(ctx, tenantID, req.ProtocolID)
		if err != nil {
			return services.WrapInternal("failed to compute next version", err)
		}

		version = &models.ProtocolVersion{
			TenantID:    tenantID,
			ProtocolID:  req.ProtocolID,
			Version:     next,
			Content:     content,
			PublishedBy: req.PublisherID,
			Changelog:   req.Changelog,
			CreatedAt:   time.Now(),
		}
		if err := o.repos.Protocols.InsertVersion(ctx, version); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return services.NewDomainError(services.ErrorTypeConflict,
					"concurrent publish detected", err).WithDetail("protocol_id", req.ProtocolID)
			}
			return services.WrapInternal("failed to insert version", err)
		}

		return o.recordAction(ctx, tenantID, ActionPublished, req.PublisherID, "protocol", req.ProtocolID,
			map[string]interface{}{
				"protocol_id": req.ProtocolID,
				"version":     next,
				"changelog":   req.Changelog,
			})
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return version, nil
	}

	o.logger.Info("protocol version published",
		zap.String("tenant_id", tenantID),
		zap.String("protocol_id", version.ProtocolID),
		zap.Int("version", version.Version))
	return version, nil
}

func (o *Orchestrator) consumeApproval(ctx context.Context, tenantID string, req PublishRequest) error {
	if req.ApprovalID == "" {
		return services.NewDomainError(services.ErrorTypeValidation,
			"publish requires a dual-control approval", nil).WithDetail("protocol_id", req.ProtocolID)
	}
	approvalID, err := uuid.Parse(req.ApprovalID)
	if err != nil {
		return services.ErrInvalidInput.WithDetail("approval_id", req.ApprovalID)
	}

	if _, err := o.repos.Approvals.ConsumeApproval(ctx, tenantID, approvalID, req.PublisherID); err != nil {
		if errors.Is(err, repositories.ErrSelfApproval) {
			return services.ErrSelfApproval.WithDetail("approval_id", req.ApprovalID)
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrApprovalNotFound.WithDetail("approval_id", req.ApprovalID)
		}
		if errors.Is(err, repositories.ErrConflict) {
			return services.ErrApprovalNotApproved.WithDetail("approval_id", req.ApprovalID)
		}
		return services.WrapInternal("failed to consume approval", err)
	}
	return nil
}

// prepareContent validates and canonicalizes DSL v1 content; any other
// version, and content that is not a JSON object at all, passes verbatim.
func (o *Orchestrator) prepareContent(content string) (string, error) {
	doc, err := dsl.Parse([]byte(content))
	if err != nil {
		return content, nil
	}
	if !doc.Validated() {
		return content, nil
	}

	if err := dsl.Require(doc); err != nil {
		var validationErr *dsl.ValidationError
		domainErr := services.NewDomainError(services.ErrorTypeProtocol, err.Error(), err)
		if errors.As(err, &validationErr) {
			return "", domainErr.WithDetail("violations", validationErr.Violations)
		}
		return "", domainErr
	}

	canonical, err := canonjson.Marshal(doc)
	if err != nil {
		return "", services.WrapInternal("failed to canonicalize protocol content", err)
	}
	return string(canonical), nil
}

func (o *Orchestrator) latestVersion(ctx context.Context, tenantID, protocolID string) (*models.ProtocolVersion, error) {
	version, err := o.repos.Protocols.LatestVersion(ctx, tenantID, protocolID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrVersionNotFound.WithDetail("protocol_id", protocolID)
		}
		return nil, services.WrapInternal("failed to load latest version", err)
	}
	return version, nil
}

// ListProtocols lists the tenant's protocols with their latest published
// version.
func (o *Orchestrator) ListProtocols(ctx context.Context, tenantID string) ([]*models.ProtocolSummary, error) {
	summaries, err := o.repos.Protocols.ListProtocols(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list protocols", err)
	}
	return summaries, nil
}

// GetProtocolVersion retrieves one immutable version.
func (o *Orchestrator) GetProtocolVersion(ctx context.Context, tenantID, protocolID string, version int) (*models.ProtocolVersion, error) {
	protocolID = utils.NormalizeIdentifier(protocolID)
	if version <= 0 {
		return nil, services.ErrInvalidInput.WithDetail("version", version)
	}

	v, err := o.repos.Protocols.GetVersion(ctx, tenantID, protocolID, version)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrVersionNotFound.
				WithDetail("protocol_id", protocolID).
				WithDetail("version", version)
		}
		return nil, services.WrapInternal("failed to get version", err)
	}
	return v, nil
}

// DiffVersions computes a line-based set difference between two versions'
// content. Intentionally textual, not semantic.
func (o *Orchestrator) DiffVersions(ctx context.Context, tenantID, protocolID string, fromVersion, toVersion int) (*models.VersionDiff, error) {
	from, err := o.GetProtocolVersion(ctx, tenantID, protocolID, fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := o.GetProtocolVersion(ctx, tenantID, protocolID, toVersion)
	if err != nil {
		return nil, err
	}

	fromLines := lineSet(from.Content)
	toLines := lineSet(to.Content)

	diff := &models.VersionDiff{
		ProtocolID:  protocolID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
	}
	for line := range toLines {
		if !fromLines[line] {
			diff.AddedLines = append(diff.AddedLines, line)
		}
	}
	for line := range fromLines {
		if !toLines[line] {
			diff.RemovedLines = append(diff.RemovedLines, line)
		}
	}
	sort.Strings(diff.AddedLines)
	sort.Strings(diff.RemovedLines)

	diff.Summary = summarizeDiff(protocolID, fromVersion, toVersion, len(diff.AddedLines), len(diff.RemovedLines))
	return diff, nil
}

func lineSet(content string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = true
		}
	}
	return set
}

func summarizeDiff(protocolID string, fromVersion, toVersion, added, removed int) string {
	if added == 0 && removed == 0 {
		return "no textual changes"
	}
	return fmt.Sprintf("protocol %s v%d -> v%d: +%d / -%d lines",
		protocolID, fromVersion, toVersion, added, removed)
}
