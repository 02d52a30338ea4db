package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/logattr"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	otelx "github.com/md-rashed-zaman/groupchat/libs/otel"
)

// Outcome is how a delivery was settled.
type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeDuplicate
	OutcomeDropped
	OutcomeRequeued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRequeued:
		return "requeued"
	}
	return "unknown"
}

type Config struct {
	// Name identifies the consumer in logs, usually the queue name.
	Name string
	// RetryDelay is the first wait before resubscribing after the delivery
	// stream ends or a subscribe attempt fails.
	RetryDelay time.Duration
}

// Consumer applies deliveries at most once per event id by recording each
// event in the ledger inside the handler's transaction.
type Consumer struct {
	sub        messaging.Subscriber
	db         db.TxBeginner
	ledger     Ledger
	registry   *Registry
	logger     *slog.Logger
	tracer     trace.Tracer
	retryDelay time.Duration
}

func NewConsumer(sub messaging.Subscriber, beginner db.TxBeginner, ledger Ledger, registry *Registry, logger *slog.Logger, cfg Config) *Consumer {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Consumer{
		sub:        sub,
		db:         beginner,
		ledger:     ledger,
		registry:   registry,
		logger:     logger.With(logattr.Component("inbox-consumer"), logattr.Queue(cfg.Name)),
		tracer:     otel.Tracer("github.com/md-rashed-zaman/groupchat/libs/inbox"),
		retryDelay: cfg.RetryDelay,
	}
}

// Run consumes until ctx is cancelled, resubscribing whenever the delivery
// stream closes underneath it.
func (c *Consumer) Run(ctx context.Context) {
	defer func() { _ = c.sub.Close() }()
	c.logger.Info("consumer started", "event_types", c.registry.EventTypes())

	for ctx.Err() == nil {
		deliveries, err := backoff.Retry(ctx, func() (<-chan messaging.Delivery, error) {
			return c.sub.Subscribe(ctx)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Warn("subscribe failed, retrying", "err", err, "retry_in", next.String())
			}),
		)
		if err != nil {
			break
		}

		c.drain(ctx, deliveries)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("delivery stream closed, resubscribing")
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
	}
	c.logger.Info("consumer stopped")
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan messaging.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle settles one delivery:
//   - malformed envelope: ack and drop
//   - already in the ledger: ack
//   - no handler for the type: ack and drop
//   - handler and ledger insert commit together: ack
//   - permanent handler error: roll back, ack and drop
//   - any other failure: roll back, nack with requeue
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) Outcome {
	env, err := events.Parse(d.Body, d.RoutingKey)
	if err != nil {
		c.logger.Warn("dropping malformed message",
			logattr.MessageID(d.MessageID),
			logattr.RoutingKey(d.RoutingKey),
			"err", err,
		)
		c.ack(d)
		return OutcomeDropped
	}

	ctx = otelx.ExtractHeaders(ctx, d.Headers)
	ctx, span := c.tracer.Start(ctx, "inbox.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", d.Exchange),
			attribute.String("messaging.message.id", env.EventID.String()),
			attribute.String("event.type", env.EventType),
		),
	)
	defer span.End()

	logger := c.logger.With(logattr.EventID(env.EventID), logattr.EventType(env.EventType))

	seen, err := c.ledger.Exists(ctx, env.EventID)
	if err != nil {
		logger.Error("idempotency check failed, requeueing", "err", err)
		span.RecordError(err)
		c.nack(d)
		return OutcomeRequeued
	}
	if seen {
		logger.Info("duplicate event skipped")
		c.ack(d)
		return OutcomeDuplicate
	}

	handler, ok := c.registry.Lookup(env.EventType)
	if !ok {
		logger.Warn("no handler registered for event type, dropping")
		c.ack(d)
		return OutcomeDropped
	}

	err = db.WithTx(ctx, c.db, func(ctx context.Context, tx pgx.Tx) error {
		inserted, err := c.ledger.Record(ctx, tx, env.EventID, env.EventType)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyProcessed
		}
		if err := handler(ctx, tx, env); err != nil {
			return fmt.Errorf("handle %s: %w", env.EventType, err)
		}
		return nil
	})

	switch {
	case err == nil:
		c.ack(d)
		c.remember(ctx, env.EventID)
		logger.Info("event processed")
		return OutcomeApplied
	case errors.Is(err, errAlreadyProcessed):
		logger.Info("duplicate event skipped")
		c.ack(d)
		return OutcomeDuplicate
	case IsPermanent(err):
		logger.Error("dropping event after permanent handler failure", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.ack(d)
		return OutcomeDropped
	default:
		logger.Error("event handling failed, requeueing", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.nack(d)
		return OutcomeRequeued
	}
}

func (c *Consumer) ack(d messaging.Delivery) {
	if err := d.Ack(); err != nil {
		c.logger.Error("ack failed", logattr.MessageID(d.MessageID), "err", err)
	}
}

func (c *Consumer) nack(d messaging.Delivery) {
	if err := d.Nack(true); err != nil {
		c.logger.Error("nack failed", logattr.MessageID(d.MessageID), "err", err)
	}
}

type rememberer interface {
	Remember(ctx context.Context, eventID uuid.UUID)
}

func (c *Consumer) remember(ctx context.Context, eventID uuid.UUID) {
	if r, ok := c.ledger.(rememberer); ok {
		r.Remember(ctx, eventID)
	}
}
