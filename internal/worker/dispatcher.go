package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.EventMessage) error
}

// OutboxStore is the slice of the repository the dispatcher drives.
type OutboxStore interface {
	ClaimOutbox(ctx context.Context, limit int, now time.Time) ([]storage.PendingEvent, error)
	MarkPublished(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, maxAttempts int, now time.Time) error
	ReleaseClaim(ctx context.Context, id string, now time.Time) error
	ResetStaleProcessing(ctx context.Context, cutoff, now time.Time) (int64, error)
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// DispatcherConfig holds configuration for the outbox dispatcher
type DispatcherConfig struct {
	// PollInterval is how often the outbox is polled (default: 2s)
	PollInterval time.Duration

	// BatchSize caps the events claimed per poll (default: 50)
	BatchSize int

	// MaxAttempts before an event is marked INVALID (default: 5)
	MaxAttempts int

	// StaleAfter is how long a PROCESSING row may sit before startup
	// returns it to PENDING (default: 5m)
	StaleAfter time.Duration

	// CleanupInterval and Retention control purging of published rows
	// (defaults: 1h and 7 days)
	CleanupInterval time.Duration
	Retention       time.Duration
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:    2 * time.Second,
		BatchSize:       50,
		MaxAttempts:     5,
		StaleAfter:      5 * time.Minute,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	return c
}

// Dispatcher relays committed outbox rows to the broker. Delivery is at least
// once; consumers dedupe on the event id.
type Dispatcher struct {
	store     OutboxStore
	publisher Publisher
	clock     core.Clock
	config    DispatcherConfig
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewDispatcher(store OutboxStore, publisher Publisher, clock core.Clock, logger *log.Logger, config DispatcherConfig) *Dispatcher {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		clock:     clock,
		config:    config.withDefaults(),
		logger:    logger.WithComponent(log.ComponentOutbox),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("outbox dispatcher is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	now := d.clock.Now()
	if n, err := d.store.ResetStaleProcessing(ctx, now.Add(-d.config.StaleAfter), now); err != nil {
		d.logger.WarnContext(ctx, "Failed to reset stale outbox events", log.FieldError, err)
	} else if n > 0 {
		d.logger.InfoContext(ctx, "Reset stale outbox events", "count", n)
	}

	go d.runLoop(ctx)

	d.logger.InfoContext(ctx, "Outbox dispatcher started",
		"poll_interval", d.config.PollInterval,
		"batch_size", d.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the in-flight batch.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	close(d.stopCh)

	select {
	case <-d.doneCh:
		d.logger.InfoContext(ctx, "Outbox dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.WarnContext(ctx, "Outbox dispatcher stop timed out")
		return ctx.Err()
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) runLoop(ctx context.Context) {
	defer close(d.doneCh)

	pollTicker := time.NewTicker(d.config.PollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(d.config.CleanupInterval)
	defer cleanupTicker.Stop()

	d.poll(ctx)

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			d.poll(ctx)
		case <-cleanupTicker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "Outbox batch failed", log.FieldError, err)
	}
}

// RunOnce claims one batch and publishes it in creation order. It returns
// the number of events published. When the broker breaker is open the rest
// of the batch is released untouched.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("fintrack/outbox").Start(ctx, "outbox.dispatch")
	defer span.End()

	events, err := d.store.ClaimOutbox(ctx, d.config.BatchSize, d.clock.Now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for i, ev := range events {
		if ctx.Err() != nil {
			d.release(ctx, events[i:])
			return published, ctx.Err()
		}

		msg := amqp.NewEventMessage(ev.ID, ev.Type, ev.AggregateID, ev.Payload, ev.CreatedAt)
		err := d.publisher.Publish(ctx, msg)
		switch {
		case err == nil:
			d.handleSuccess(ctx, ev)
			published++
		case errors.Is(err, amqp.ErrCircuitOpen):
			d.logger.WarnContext(ctx, "Broker unavailable, deferring outbox batch",
				"remaining", len(events)-i)
			d.release(ctx, events[i:])
			span.SetAttributes(attribute.Int("outbox.published", published))
			return published, nil
		default:
			d.handleFailure(ctx, ev, err)
		}
	}
	span.SetAttributes(attribute.Int("outbox.published", published))
	return published, nil
}

func (d *Dispatcher) handleSuccess(ctx context.Context, ev storage.PendingEvent) {
	if err := d.store.MarkPublished(ctx, ev.ID, d.clock.Now()); err != nil {
		// The broker has the message; a redelivery is deduped downstream.
		d.logger.ErrorContext(ctx, "Failed to mark event published",
			log.FieldEventID, ev.ID, log.FieldError, err)
		return
	}
	d.logger.DebugContext(ctx, "Published outbox event",
		log.FieldEventID, ev.ID, log.FieldEventType, ev.Type)
}

func (d *Dispatcher) handleFailure(ctx context.Context, ev storage.PendingEvent, cause error) {
	attempt := ev.Attempts + 1
	if err := d.store.MarkFailed(ctx, ev.ID, cause, d.config.MaxAttempts, d.clock.Now()); err != nil {
		d.logger.ErrorContext(ctx, "Failed to record publish failure",
			log.FieldEventID, ev.ID, log.FieldError, err)
		return
	}
	if attempt >= d.config.MaxAttempts {
		d.logger.ErrorContext(ctx, "Outbox event exhausted retries",
			log.FieldEventID, ev.ID,
			log.FieldEventType, ev.Type,
			"attempts", attempt,
			log.FieldError, cause)
		return
	}
	d.logger.WarnContext(ctx, "Outbox publish failed, will retry",
		log.FieldEventID, ev.ID,
		"attempt", attempt,
		"max_attempts", d.config.MaxAttempts,
		log.FieldError, cause)
}

func (d *Dispatcher) release(ctx context.Context, events []storage.PendingEvent) {
	// Release must outlive a cancelled poll context.
	ctx = context.WithoutCancel(ctx)
	now := d.clock.Now()
	for _, ev := range events {
		if err := d.store.ReleaseClaim(ctx, ev.ID, now); err != nil {
			d.logger.ErrorContext(ctx, "Failed to release outbox event",
				log.FieldEventID, ev.ID, log.FieldError, err)
		}
	}
}

func (d *Dispatcher) cleanup(ctx context.Context) {
	n, err := d.store.PurgePublished(ctx, d.clock.Now().Add(-d.config.Retention))
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to purge published outbox events", log.FieldError, err)
		return
	}
	if n > 0 {
		d.logger.InfoContext(ctx, "Purged published outbox events", "count", n)
	}
}
