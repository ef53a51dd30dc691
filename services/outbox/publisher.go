package outbox

import (
	"context"

	"github.com/regenfab/regenops/models"
	"go.uber.org/zap"
)

// Publisher delivers a claimed outbox event to its destination. A nil error
// acknowledges the event; any error schedules a retry or, once attempts are
// exhausted, dead-letters it.
type Publisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event *models.OutboxEvent) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, event *models.OutboxEvent) error {
	return f(ctx, event)
}

// LogPublisher writes events to the structured log. It stands in for a real
// broker in development and in deployments that only need the durable queue
// semantics.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs delivered events.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, event *models.OutboxEvent) error {
	p.logger.Info("outbox event delivered",
		zap.String("id", event.ID.String()),
		zap.String("tenant_id", event.TenantID),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", event.Attempts))
	return nil
}
