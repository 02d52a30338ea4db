// Package messagingtest provides in-memory broker fakes.
package messagingtest

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

// Publisher records published messages. Hook, when set, decides the outcome
// of each publish; a nil result means the broker confirmed the message.
type Publisher struct {
	mu       sync.Mutex
	messages []messaging.Message
	attempts int
	Hook     func(ctx context.Context, attempt int, msg messaging.Message) error
}

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	p.attempts++
	attempt := p.attempts
	hook := p.Hook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, attempt, msg); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns the confirmed messages.
func (p *Publisher) Messages() []messaging.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Publisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Ack records how a delivery was settled.
type Ack struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeued bool
}

func (a *Ack) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *Ack) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *Ack) Acked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks == 1 && a.nacks == 0
}

func (a *Ack) Requeued() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks == 0 && a.nacks == 1 && a.requeued
}

// Settled reports the total number of ack and nack calls.
func (a *Ack) Settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks + a.nacks
}

// NewDelivery wraps msg with a recording acknowledger.
func NewDelivery(msg messaging.Message) (messaging.Delivery, *Ack) {
	ack := &Ack{}
	return messaging.Delivery{Message: msg, Acknowledger: ack}, ack
}

// Subscriber hands out channels fed through Deliver. Each Subscribe call
// returns a fresh channel; End closes the current one.
type Subscriber struct {
	mu         sync.Mutex
	current    chan messaging.Delivery
	subscribes int
	closed     bool

	SubscribeErr error
}

func (s *Subscriber) Subscribe(context.Context) (<-chan messaging.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	s.current = make(chan messaging.Delivery)
	return s.current, nil
}

// Deliver blocks until the consumer receives d or ctx ends.
func (s *Subscriber) Deliver(ctx context.Context, d messaging.Delivery) bool {
	s.mu.Lock()
	ch := s.current
	s.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// End closes the current delivery channel, simulating a dropped connection.
func (s *Subscriber) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		close(s.current)
		s.current = nil
	}
}

func (s *Subscriber) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
