package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

// Publisher writes each message to the topic named by its exchange and waits
// for all in-sync replicas to acknowledge it.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers string) (*Publisher, error) {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(ctx, msg)); err != nil {
		return fmt.Errorf("kafka write %s to %s: %w", msg.RoutingKey, msg.Exchange, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func toKafkaMessage(ctx context.Context, msg messaging.Message) kafka.Message {
	return kafka.Message{
		Topic:   msg.Exchange,
		Key:     []byte(msg.MessageID),
		Value:   msg.Body,
		Headers: encodeHeaders(ctx, msg.Headers, msg.MessageID, msg.RoutingKey),
		Time:    msg.Timestamp,
	}
}
