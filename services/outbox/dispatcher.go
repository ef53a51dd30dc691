package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/regenfab/regenops/models"
	"github.com/regenfab/regenops/repositories"
	"github.com/regenfab/regenops/services"
	"go.uber.org/zap"
)

// Dispatcher drains the outbox queue in the background. Each poll claims a
// disjoint batch, fans the events out to workers and acknowledges, retries
// or dead-letters each one depending on the publisher's verdict.
type Dispatcher struct {
	outboxRepo repositories.OutboxRepository
	publisher  Publisher
	logger     *zap.Logger
	config     Config
	eventChan  chan *models.OutboxEvent
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	mu         sync.Mutex
}

// Config holds configuration for the Dispatcher
type Config struct {
	PollInterval  time.Duration // How often to claim a new batch
	BatchSize     int           // Maximum events claimed per poll
	WorkerCount   int           // Number of concurrent delivery workers
	MaxAttempts   int           // Delivery attempts before dead-lettering
	BaseBackoff   time.Duration // First retry delay, doubled per attempt
	MaxBackoff    time.Duration // Ceiling for the retry delay
	ProcessingTTL time.Duration // Claims older than this are considered stuck
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		BatchSize:     50,
		WorkerCount:   4,
		MaxAttempts:   8,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    5 * time.Minute,
		ProcessingTTL: time.Minute,
	}
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(outboxRepo repositories.OutboxRepository, publisher Publisher, logger *zap.Logger, config Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		logger:     logger,
		config:     config,
		eventChan:  make(chan *models.OutboxEvent, config.BatchSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the poll loop and the delivery workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("outbox dispatcher already started")
	}

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.pollLoop()

	d.started = true
	d.logger.Info("started outbox dispatcher",
		zap.Int("worker_count", d.config.WorkerCount),
		zap.Int("batch_size", d.config.BatchSize),
		zap.Duration("poll_interval", d.config.PollInterval))

	return nil
}

// Stop gracefully stops the dispatcher. Stopping a dispatcher that never
// started, or stopping twice, is a no-op.
// In-flight deliveries finish; unacknowledged claims are released by the
// processing TTL on the next dispatcher's poll.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.logger.Info("stopping outbox dispatcher")
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("outbox dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("outbox dispatcher stop timeout after %v", timeout)
	}
}

// pollLoop claims batches and feeds the worker channel until stopped.
func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()
	defer close(d.eventChan)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.pollOnce(); err != nil {
				d.logger.Error("outbox poll failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) pollOnce() error {
	events, err := d.outboxRepo.ClaimPending(d.ctx, d.config.BatchSize, d.config.ProcessingTTL)
	if err != nil {
		return err
	}

	for _, event := range events {
		select {
		case d.eventChan <- event:
		case <-d.ctx.Done():
			// The claim stands; the processing TTL releases it.
			return nil
		}
	}
	return nil
}

// worker delivers events from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("outbox worker started", zap.Int("worker_id", id))

	for event := range d.eventChan {
		d.deliver(event)
	}

	d.logger.Debug("outbox worker stopped", zap.Int("worker_id", id))
}

// deliver publishes one claimed event and settles its queue state.
func (d *Dispatcher) deliver(event *models.OutboxEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		d.settleFailure(ctx, event, err)
		return
	}

	if err := d.outboxRepo.MarkProcessed(ctx, event.ID); err != nil {
		d.logger.Error("failed to acknowledge delivered event",
			zap.String("id", event.ID.String()),
			zap.Error(err))
	}
}

func (d *Dispatcher) settleFailure(ctx context.Context, event *models.OutboxEvent, pubErr error) {
	attempt := event.Attempts + 1

	if attempt >= d.config.MaxAttempts {
		reason := fmt.Sprintf("attempt %d/%d: %v", attempt, d.config.MaxAttempts, pubErr)
		if err := d.outboxRepo.MoveToDeadLetter(ctx, event.ID, reason); err != nil {
			d.logger.Error("failed to dead-letter event",
				zap.String("id", event.ID.String()),
				zap.Error(err))
		}
		return
	}

	next := time.Now().Add(Backoff(d.config, attempt))
	if err := d.outboxRepo.ScheduleRetry(ctx, event.ID, next, pubErr.Error()); err != nil {
		d.logger.Error("failed to schedule retry",
			zap.String("id", event.ID.String()),
			zap.Error(err))
		return
	}

	d.logger.Warn("outbox delivery failed, retry scheduled",
		zap.String("id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(pubErr))
}

// Backoff returns the delay before the given attempt: the base delay doubled
// per prior attempt, capped at the configured maximum.
func Backoff(config Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := config.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= config.MaxBackoff {
			return config.MaxBackoff
		}
	}
	if delay > config.MaxBackoff {
		return config.MaxBackoff
	}
	return delay
}

// DispatchOnce synchronously claims and delivers a single batch. Used by the
// one-shot CLI command and by tests.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.outboxRepo.ClaimPending(ctx, d.config.BatchSize, d.config.ProcessingTTL)
	if err != nil {
		return 0, services.WrapInternal("failed to claim outbox batch", err)
	}

	delivered := 0
	for _, event := range events {
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.settleFailure(ctx, event, err)
			continue
		}
		if err := d.outboxRepo.MarkProcessed(ctx, event.ID); err != nil {
			return delivered, services.WrapInternal("failed to acknowledge delivered event", err)
		}
		delivered++
	}

	return delivered, nil
}

// ListDeadLetter lists dead-lettered events for a tenant.
func (d *Dispatcher) ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := d.outboxRepo.ListDeadLetter(ctx, tenantID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list dead-letter events", err)
	}
	return events, nil
}

// ReplayDeadLetter requeues a dead-lettered event with a fresh attempt count.
func (d *Dispatcher) ReplayDeadLetter(ctx context.Context, id string) (*models.OutboxEvent, error) {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return nil, services.ErrInvalidInput.WithDetail("id", id)
	}

	event, err := d.outboxRepo.ReplayDeadLetter(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrEventNotFound.WithDetail("id", id)
		}
		return nil, services.WrapInternal("failed to replay dead-letter event", err)
	}

	d.logger.Info("dead-letter event requeued",
		zap.String("dead_letter_id", id),
		zap.String("new_id", event.ID.String()))
	return event, nil
}
