package amqpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/md-rashed-zaman/groupchat/libs/logattr"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

type SubscriberConfig struct {
	// Queue is durable and named "<service>.<exchange>" by convention.
	Queue    string
	Bindings []messaging.Binding
	// Prefetch caps unacknowledged deliveries; defaults to 1.
	Prefetch    int
	ConsumerTag string
}

// Subscriber consumes one durable queue with manual acknowledgements on its
// own channel. Exchanges, queue and bindings are declared on every
// subscribe, which is idempotent on the broker side.
type Subscriber struct {
	conn   channelOpener
	cfg    SubscriberConfig
	logger *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func NewSubscriber(m *Manager, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Subscriber{
		conn:   m,
		cfg:    cfg,
		logger: logger.With(logattr.Component("amqp-subscriber"), logattr.Queue(cfg.Queue)),
	}
}

func (s *Subscriber) Subscribe(ctx context.Context) (<-chan messaging.Delivery, error) {
	if s.cfg.Queue == "" {
		return nil, errors.New("amqpx: subscriber queue is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}

	ch, err := s.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, s.cfg.Queue, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", s.cfg.Queue, err)
	}
	s.ch = ch
	s.logger.Info("subscribed", "bindings", len(s.cfg.Bindings), "prefetch", s.cfg.Prefetch)

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		for d := range msgs {
			select {
			case out <- toDelivery(d):
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

func (s *Subscriber) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.cfg.Queue, err)
	}
	for _, b := range s.cfg.Bindings {
		if err := declareExchange(ch, b.Exchange); err != nil {
			return err
		}
		for _, key := range b.RoutingKeys {
			if err := ch.QueueBind(s.cfg.Queue, key, b.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s/%s: %w", s.cfg.Queue, b.Exchange, key, err)
			}
		}
	}
	return nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.ch = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func toDelivery(d amqp.Delivery) messaging.Delivery {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return messaging.Delivery{
		Message: messaging.Message{
			Exchange:   d.Exchange,
			RoutingKey: d.RoutingKey,
			MessageID:  d.MessageId,
			Body:       d.Body,
			Headers:    headers,
			Timestamp:  d.Timestamp,
		},
		Acknowledger: deliveryAck{d: d},
	}
}

type deliveryAck struct {
	d amqp.Delivery
}

func (a deliveryAck) Ack() error              { return a.d.Ack(false) }
func (a deliveryAck) Nack(requeue bool) error { return a.d.Nack(false, requeue) }
