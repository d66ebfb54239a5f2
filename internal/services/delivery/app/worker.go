// Package app runs the durable delivery worker. It drains pending delivery
// rows written at append time and pushes them to an external sink, retrying
// with bounded exponential backoff.
package app

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

var tracer = otel.Tracer("courier.space/delivery")

// Pusher sends one message to one recipient over an external channel.
type Pusher interface {
	Push(ctx context.Context, recipientUserID string, message storage.MessageRecord) error
}

// Config controls the drain loop.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	PushTimeout   time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 10 * time.Second
	}
	return c
}

// Loop drains pending deliveries until context cancellation.
type Loop struct {
	store  storage.DeliveryStore
	pusher Pusher
	cfg    Config
	clock  func() time.Time
}

// NewLoop creates a drain loop over the delivery store.
func NewLoop(store storage.DeliveryStore, pusher Pusher, cfg Config, clock func() time.Time) *Loop {
	if clock == nil {
		clock = time.Now
	}
	return &Loop{
		store:  store,
		pusher: pusher,
		cfg:    cfg.normalized(),
		clock:  clock,
	}
}

// Run polls for due deliveries until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.DrainOnce(ctx); err != nil {
			log.Printf("drain deliveries: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce processes one batch of due deliveries.
func (l *Loop) DrainOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "delivery.Drain")
	defer span.End()

	pending, err := l.store.ListPendingDeliveries(ctx, l.cfg.BatchSize, l.clock().UTC())
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("delivery.batch_size", len(pending)))

	for _, delivery := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.process(ctx, delivery)
	}
	return nil
}

func (l *Loop) process(ctx context.Context, delivery storage.DeliveryRecord) {
	message, err := l.store.GetMessage(ctx, delivery.ConversationID, delivery.Seq)
	if err != nil {
		log.Printf("load message for delivery conversation=%s seq=%d: %v",
			delivery.ConversationID, delivery.Seq, err)
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, l.cfg.PushTimeout)
	err = l.pusher.Push(pushCtx, delivery.RecipientUserID, message)
	cancel()

	if err == nil {
		if markErr := l.store.MarkDeliverySucceeded(ctx, delivery.ConversationID, delivery.Seq, delivery.RecipientUserID, l.clock().UTC()); markErr != nil {
			log.Printf("record delivery success for %s: %v", delivery.RecipientUserID, markErr)
		}
		return
	}

	attempt := delivery.AttemptCount + 1
	if attempt >= l.cfg.MaxAttempts {
		if markErr := l.store.MarkDeliveryFailed(ctx, delivery.ConversationID, delivery.Seq, delivery.RecipientUserID, attempt, err.Error()); markErr != nil {
			log.Printf("record delivery failure for %s: %v", delivery.RecipientUserID, markErr)
		}
		log.Printf("delivery failed for %s conversation=%s seq=%d after %d attempts: %v",
			delivery.RecipientUserID, delivery.ConversationID, delivery.Seq, attempt, err)
		return
	}

	nextAttemptAt := l.clock().UTC().Add(l.backoffDelay(attempt))
	if markErr := l.store.MarkDeliveryRetry(ctx, delivery.ConversationID, delivery.Seq, delivery.RecipientUserID, attempt, nextAttemptAt, err.Error()); markErr != nil {
		log.Printf("record delivery retry for %s: %v", delivery.RecipientUserID, markErr)
	}
}

func (l *Loop) backoffDelay(attempt int) time.Duration {
	delay := l.cfg.RetryBackoff << (attempt - 1)
	if delay > l.cfg.RetryMaxDelay || delay <= 0 {
		delay = l.cfg.RetryMaxDelay
	}
	return delay
}
