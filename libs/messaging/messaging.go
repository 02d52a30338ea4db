// Package messaging holds the broker-neutral types shared by the RabbitMQ and
// Kafka transports, the outbox publisher and the inbox consumer.
package messaging

import (
	"context"
	"time"
)

type Message struct {
	// Exchange is the RabbitMQ exchange or the Kafka topic.
	Exchange   string
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
}

// Publisher hands a message to the broker and returns once the broker has
// confirmed it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is a received message that must be acked or nacked exactly once.
type Delivery struct {
	Message
	Acknowledger
}

// Binding routes the listed keys of one exchange into a consumer's queue.
type Binding struct {
	Exchange    string
	RoutingKeys []string
}

// Subscriber yields deliveries until ctx is cancelled or the underlying
// transport fails, at which point the channel is closed. Callers resubscribe.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
