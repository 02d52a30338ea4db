package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/groupchat/libs/logattr"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	otelx "github.com/md-rashed-zaman/groupchat/libs/otel"
)

const (
	DefaultPollEvery     = 2 * time.Second
	DefaultBatchSize     = 100
	DefaultMaxRetryCount = 5
)

type PublisherConfig struct {
	// Exchange every record of this service is published to.
	Exchange      string
	PollEvery     time.Duration
	BatchSize     int
	MaxRetryCount int
}

// BatchResult summarizes one poll.
type BatchResult struct {
	Fetched     int
	Published   int
	Failed      int
	Quarantined int
}

// Publisher relays pending outbox records to the broker.
type Publisher struct {
	store   Store
	broker  messaging.Publisher
	logger  *slog.Logger
	cfg     PublisherConfig
	now     func() time.Time
	tracer  trace.Tracer
	metrics *publisherMetrics
}

func NewPublisher(store Store, broker messaging.Publisher, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultPollEvery
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = DefaultMaxRetryCount
	}
	return &Publisher{
		store:   store,
		broker:  broker,
		logger:  logger.With(logattr.Component("outbox-publisher"), logattr.Exchange(cfg.Exchange)),
		cfg:     cfg,
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newPublisherMetrics(cfg.Exchange),
	}
}

// Run publishes once at startup and then polls every PollEvery until ctx is
// cancelled. A batch that was entirely published is followed immediately by
// another poll; otherwise the publisher waits for the next tick, which also
// spaces out retries.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started",
		"poll_every", p.cfg.PollEvery.String(),
		"batch_size", p.cfg.BatchSize,
		"max_retry_count", p.cfg.MaxRetryCount,
	)
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := p.PublishOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
			return
		}
		if res.Published < p.cfg.BatchSize {
			return
		}
	}
}

// PublishOnce processes a single batch. A record whose publish is cut short by
// ctx cancellation is left exactly as it was.
func (p *Publisher) PublishOnce(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	var res BatchResult

	err := p.store.ProcessPending(ctx, p.cfg.BatchSize, func(ctx context.Context, batch []Record) []Record {
		res.Fetched = len(batch)
		changed := make([]Record, 0, len(batch))
		for _, rec := range batch {
			if ctx.Err() != nil {
				break
			}
			pubErr := p.publish(ctx, rec)
			if pubErr != nil && ctx.Err() != nil {
				break
			}

			if pubErr == nil {
				if err := rec.MarkPublished(p.now()); err != nil {
					p.logger.Error("outbox status transition rejected", logattr.EventID(rec.EventID), "err", err)
					continue
				}
				res.Published++
				changed = append(changed, rec)
				continue
			}

			if err := rec.RecordFailure(pubErr, p.cfg.MaxRetryCount); err != nil {
				p.logger.Error("outbox status transition rejected", logattr.EventID(rec.EventID), "err", err)
				continue
			}
			res.Failed++
			p.logger.Warn("outbox publish attempt failed",
				logattr.EventID(rec.EventID),
				logattr.EventType(rec.EventType),
				logattr.RetryCount(rec.RetryCount),
				"err", pubErr,
			)
			if rec.Status == StatusFailed {
				res.Quarantined++
				p.logger.Error("outbox record marked failed after max retries",
					logattr.EventID(rec.EventID),
					logattr.EventType(rec.EventType),
					logattr.RetryCount(rec.RetryCount),
				)
			}
			changed = append(changed, rec)
		}
		return changed
	})

	p.metrics.record(ctx, res, time.Since(start))
	if err != nil {
		return res, fmt.Errorf("outbox batch: %w", err)
	}
	if res.Published > 0 || res.Failed > 0 {
		p.logger.Debug("outbox batch processed",
			"fetched", res.Fetched,
			"published", res.Published,
			"failed", res.Failed,
			"quarantined", res.Quarantined,
		)
	}
	return res, nil
}

func (p *Publisher) publish(ctx context.Context, rec Record) error {
	msgCtx := otelx.TraceContext{Parent: rec.Traceparent, State: rec.Tracestate}.Resume(ctx)
	msgCtx, span := p.tracer.Start(msgCtx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", p.cfg.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", rec.EventType),
			attribute.String("messaging.message.id", rec.EventID.String()),
		),
	)
	defer span.End()

	headers := map[string]string{
		"event_id":   rec.EventID.String(),
		"event_type": rec.EventType,
	}
	otelx.InjectHeaders(msgCtx, headers)

	err := p.broker.Publish(msgCtx, messaging.Message{
		Exchange:   p.cfg.Exchange,
		RoutingKey: rec.EventType,
		MessageID:  rec.EventID.String(),
		Body:       rec.Payload,
		Headers:    headers,
		Timestamp:  rec.CreatedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.logger.Info("outbox event published",
		logattr.EventID(rec.EventID),
		logattr.RoutingKey(rec.EventType),
	)
	return nil
}
