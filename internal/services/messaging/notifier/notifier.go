// Package notifier fans out persisted messages to recipient delivery sinks.
//
// Delivery is decoupled from append durability: a message is already
// committed when fan-out starts, and a recipient failure never affects the
// message or the other recipients.
package notifier

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisbranch/courier.space/internal/services/messaging/domain"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

var tracer = otel.Tracer("courier.space/notifier")

// ErrSkip signals that the sink cannot reach the recipient on this channel
// right now. The notifier leaves the delivery row pending instead of
// retrying, and the delivery worker drains it later.
var ErrSkip = errors.New("delivery skipped")

// Sink delivers one message reference to one recipient. Implementations are
// best-effort; the notifier owns retries.
type Sink interface {
	Deliver(ctx context.Context, recipientUserID string, message storage.MessageRecord) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, recipientUserID string, message storage.MessageRecord) error

// Deliver implements Sink for SinkFunc.
func (fn SinkFunc) Deliver(ctx context.Context, recipientUserID string, message storage.MessageRecord) error {
	return fn(ctx, recipientUserID, message)
}

// Config controls fan-out retry behavior.
type Config struct {
	MaxAttempts    int
	RetryBackoff   time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	return c
}

// Notifier processes append events and drives per-recipient delivery.
type Notifier struct {
	sink       Sink
	deliveries storage.DeliveryStore
	cfg        Config
	clock      func() time.Time

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a notifier pushing to sink and recording state in deliveries.
func New(sink Sink, deliveries storage.DeliveryStore, cfg Config, clock func() time.Time) *Notifier {
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{
		sink:       sink,
		deliveries: deliveries,
		cfg:        cfg.normalized(),
		clock:      clock,
		stop:       make(chan struct{}),
	}
}

// MessageAppended implements domain.AppendListener.
func (n *Notifier) MessageAppended(event domain.AppendEvent) {
	if n == nil || n.sink == nil {
		return
	}
	for _, recipient := range event.Recipients {
		n.wg.Add(1)
		go func(recipient string) {
			defer n.wg.Done()
			n.deliverWithRetry(recipient, event.Message)
		}(recipient)
	}
}

// Close stops retry loops and waits for in-flight deliveries to settle.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.stopOnce.Do(func() { close(n.stop) })
	n.wg.Wait()
}

// Wait blocks until all current deliveries settle. Used in tests.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliverWithRetry(recipient string, message storage.MessageRecord) {
	ctx, span := tracer.Start(context.Background(), "messaging.Deliver")
	span.SetAttributes(
		attribute.String("conversation.id", message.ConversationID),
		attribute.Int64("message.seq", message.Seq),
		attribute.String("delivery.recipient", recipient),
	)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
		err := n.sink.Deliver(attemptCtx, recipient, message)
		cancel()
		if err == nil {
			n.markSucceeded(ctx, recipient, message)
			return
		}
		if errors.Is(err, ErrSkip) {
			return
		}
		lastErr = err

		if attempt == n.cfg.MaxAttempts {
			break
		}
		delay := n.backoffDelay(attempt)
		n.markRetry(ctx, recipient, message, attempt, delay, err)
		select {
		case <-n.stop:
			// Shutdown: the pending delivery row stays due and the
			// delivery worker picks it up.
			return
		case <-time.After(delay):
		}
	}

	n.markFailed(ctx, recipient, message, lastErr)
	span.SetAttributes(attribute.String("delivery.error", lastErr.Error()))
	log.Printf("delivery failed for %s conversation=%s seq=%d after %d attempts: %v",
		recipient, message.ConversationID, message.Seq, n.cfg.MaxAttempts, lastErr)
}

func (n *Notifier) backoffDelay(attempt int) time.Duration {
	delay := n.cfg.RetryBackoff << (attempt - 1)
	if delay > n.cfg.RetryMaxDelay || delay <= 0 {
		delay = n.cfg.RetryMaxDelay
	}
	return delay
}

func (n *Notifier) markSucceeded(ctx context.Context, recipient string, message storage.MessageRecord) {
	if n.deliveries == nil {
		return
	}
	if err := n.deliveries.MarkDeliverySucceeded(ctx, message.ConversationID, message.Seq, recipient, n.clock().UTC()); err != nil {
		log.Printf("record delivery success for %s: %v", recipient, err)
	}
}

func (n *Notifier) markRetry(ctx context.Context, recipient string, message storage.MessageRecord, attempt int, delay time.Duration, cause error) {
	if n.deliveries == nil {
		return
	}
	nextAttemptAt := n.clock().UTC().Add(delay)
	if err := n.deliveries.MarkDeliveryRetry(ctx, message.ConversationID, message.Seq, recipient, attempt, nextAttemptAt, cause.Error()); err != nil {
		log.Printf("record delivery retry for %s: %v", recipient, err)
	}
}

func (n *Notifier) markFailed(ctx context.Context, recipient string, message storage.MessageRecord, cause error) {
	if n.deliveries == nil {
		return
	}
	reason := "delivery failed"
	if cause != nil {
		reason = cause.Error()
	}
	if err := n.deliveries.MarkDeliveryFailed(ctx, message.ConversationID, message.Seq, recipient, n.cfg.MaxAttempts, reason); err != nil {
		log.Printf("record delivery failure for %s: %v", recipient, err)
	}
}

var _ domain.AppendListener = (*Notifier)(nil)
