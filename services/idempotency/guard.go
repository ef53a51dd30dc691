package idempotency

import (
	"context"
	"time"

	"github.com/regenfab/regenops/internal/canonjson"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"go.uber.org/zap"
)

// Guard deduplicates retried mutating requests by (operation, key). Payload
// equality is decided on the canonical JSON form, so key order and spacing
// differences in the wire payload do not count as a mismatch.
type Guard struct {
	idempotencyRepo repositories.IdempotencyRepository
	ttl             time.Duration
	logger          *zap.Logger
}

// NewGuard creates a new idempotency guard. TTLs below the model floor are
// raised to it.
func NewGuard(idempotencyRepo repositories.IdempotencyRepository, ttl time.Duration, logger *zap.Logger) *Guard {
	if ttl < models.MinIdempotencyTTL {
		ttl = models.MinIdempotencyTTL
	}
	return &Guard{
		idempotencyRepo: idempotencyRepo,
		ttl:             ttl,
		logger:          logger,
	}
}

// Remember records the request and classifies it. An empty key means the
// caller opted out of idempotency; the request is treated as first-seen.
func (g *Guard) Remember(ctx context.Context, operation, key string, payload interface{}) (models.IdempotencyOutcome, error) {
	if key == "" {
		return models.IdempotencyStored, nil
	}

	canonical, err := canonjson.Marshal(payload)
	if err != nil {
		return "", services.WrapInternal("failed to canonicalize request payload", err)
	}

	outcome, err := g.idempotencyRepo.Remember(ctx, operation, key, models.ComputePayloadHash(canonical), g.ttl)
	if err != nil {
		return "", services.WrapInternal("failed to record idempotency key", err)
	}

	if outcome != models.IdempotencyStored {
		g.logger.Debug("idempotency key seen before",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.String("outcome", string(outcome)))
	}

	return outcome, nil
}
