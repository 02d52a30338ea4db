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

var (
	// ErrNacked is returned when the broker refuses a published message.
	ErrNacked = errors.New("amqpx: message nacked by broker")
	// ErrUnroutable is returned when no queue is bound for a message's routing
	// key and the broker hands it back instead of delivering it.
	ErrUnroutable = errors.New("amqpx: message returned as unroutable")
)

type channelOpener interface {
	Channel(ctx context.Context) (*amqp.Channel, error)
}

// Publisher publishes persistent, mandatory messages on a dedicated
// confirm-mode channel and waits for the broker's confirmation of each one.
type Publisher struct {
	conn   channelOpener
	logger *slog.Logger

	mu       sync.Mutex
	ch       *amqp.Channel
	returns  chan amqp.Return
	declared map[string]bool
}

func NewPublisher(m *Manager, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   m,
		logger: logger.With(logattr.Component("amqp-publisher")),
	}
}

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if !p.declared[msg.Exchange] {
		if err := declareExchange(ch, msg.Exchange); err != nil {
			p.reset()
			return err
		}
		p.declared[msg.Exchange] = true
	}

	headers := make(amqp.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Type:         msg.RoutingKey,
		Timestamp:    msg.Timestamp,
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s to %s: %w", msg.RoutingKey, msg.Exchange, err)
	}
	if conf == nil {
		p.reset()
		return errors.New("amqpx: channel is not in confirm mode")
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("await confirm for %s: %w", msg.MessageID, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNacked, msg.MessageID)
	}
	// The broker sends basic.return before the ack of the same message.
	if ret, ok := p.returned(msg.MessageID); ok {
		return fmt.Errorf("%w: %s to %s (%d %s)", ErrUnroutable, msg.RoutingKey, msg.Exchange, ret.ReplyCode, ret.ReplyText)
	}
	return nil
}

// returned drains pending basic.return frames and reports the one for
// messageID, if any.
func (p *Publisher) returned(messageID string) (amqp.Return, bool) {
	var (
		match amqp.Return
		found bool
	)
	for {
		select {
		case ret, ok := <-p.returns:
			if !ok {
				p.reset()
				return match, found
			}
			if ret.MessageId == messageID {
				match, found = ret, true
			}
		default:
			return match, found
		}
	}
}

func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.ch = ch
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	p.declared = make(map[string]bool)
	return ch, nil
}

// reset drops the channel so that the next publish starts on a fresh one.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.returns = nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
