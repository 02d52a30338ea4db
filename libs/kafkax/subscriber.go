package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/groupchat/libs/logattr"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

type SubscriberConfig struct {
	Brokers  string
	GroupID  string
	Bindings []messaging.Binding
}

// Subscriber reads the binding topics as one consumer group. Messages whose
// event type is not bound are committed and skipped. Ack commits the offset;
// a requeueing nack closes the stream without committing, so the message is
// fetched again after the caller resubscribes.
type Subscriber struct {
	cfg    SubscriberConfig
	routes map[string]map[string]bool
	logger *slog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
}

func NewSubscriber(cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	routes := make(map[string]map[string]bool)
	for _, b := range cfg.Bindings {
		if routes[b.Exchange] == nil {
			routes[b.Exchange] = make(map[string]bool)
		}
		for _, k := range b.RoutingKeys {
			routes[b.Exchange][k] = true
		}
	}
	return &Subscriber{
		cfg:    cfg,
		routes: routes,
		logger: logger.With(logattr.Component("kafka-subscriber"), logattr.Queue(cfg.GroupID)),
	}
}

func (s *Subscriber) topics() []string {
	out := make([]string, 0, len(s.routes))
	for t := range s.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Subscriber) bound(topic, eventType string) bool {
	return s.routes[topic][eventType]
}

func (s *Subscriber) Subscribe(ctx context.Context) (<-chan messaging.Delivery, error) {
	brokers := SplitBrokers(s.cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if s.cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group not configured")
	}

	s.mu.Lock()
	if s.reader != nil {
		_ = s.reader.Close()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     s.cfg.GroupID,
		GroupTopics: s.topics(),
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	s.reader = reader
	s.mu.Unlock()

	out := make(chan messaging.Delivery)
	go s.pump(ctx, reader, out)
	return out, nil
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func (s *Subscriber) pump(ctx context.Context, reader fetcher, out chan<- messaging.Delivery) {
	defer close(out)
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("kafka fetch failed", "err", err)
			}
			return
		}

		meta := ExtractEventMeta(msg)
		if !s.bound(msg.Topic, meta.EventType) {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				s.logger.Warn("kafka commit failed", "err", err)
				return
			}
			continue
		}

		result := make(chan bool, 1)
		d := messaging.Delivery{
			Message: messaging.Message{
				Exchange:   msg.Topic,
				RoutingKey: meta.EventType,
				MessageID:  meta.EventID,
				Body:       msg.Value,
				Headers:    headerMap(msg.Headers),
				Timestamp:  msg.Time,
			},
			Acknowledger: &settler{result: result},
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case commit := <-result:
			if !commit {
				return
			}
			if err := reader.CommitMessages(ctx, msg); err != nil {
				s.logger.Warn("kafka commit failed", "err", err)
				return
			}
		}
	}
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// settler reports the consumer's decision back to the pump exactly once.
type settler struct {
	once   sync.Once
	result chan<- bool
}

func (a *settler) Ack() error {
	a.once.Do(func() { a.result <- true })
	return nil
}

func (a *settler) Nack(requeue bool) error {
	a.once.Do(func() { a.result <- !requeue })
	return nil
}
