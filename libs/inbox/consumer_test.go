package inbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/inbox/inboxtest"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/messaging/messagingtest"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

type seatTaken struct {
	events.Base
	SeatID string `json:"seatId"`
}

func (seatTaken) EventType() string { return "SeatTakenEvent" }

// seatStore counts committed effects.
type seatStore struct {
	mu    sync.Mutex
	taken map[string]int
}

func (s *seatStore) take(tx pgx.Tx, seat string) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.taken == nil {
			s.taken = map[string]int{}
		}
		s.taken[seat]++
	})
}

func (s *seatStore) count(seat string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taken[seat]
}

type fixture struct {
	beginner *dbtest.Beginner
	ledger   *inboxtest.MemoryLedger
	seats    *seatStore
	sub      *messagingtest.Subscriber
	consumer *inbox.Consumer

	handlerErr error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		beginner: &dbtest.Beginner{},
		ledger:   &inboxtest.MemoryLedger{},
		seats:    &seatStore{},
		sub:      &messagingtest.Subscriber{},
	}
	reg := inbox.NewRegistry()
	require.NoError(t, reg.Register("SeatTakenEvent", inbox.Typed(func(ctx context.Context, tx pgx.Tx, _ events.Envelope, evt seatTaken) error {
		if f.handlerErr != nil {
			return f.handlerErr
		}
		return f.seats.take(tx, evt.SeatID)
	})))
	f.consumer = inbox.NewConsumer(f.sub, f.beginner, f.ledger, reg, runtime.NopLogger(), inbox.Config{
		Name:       "test.queue",
		RetryDelay: 10 * time.Millisecond,
	})
	return f
}

func delivery(t *testing.T, e events.Event) (messaging.Delivery, *messagingtest.Ack) {
	t.Helper()
	body, err := events.Marshal(e)
	require.NoError(t, err)
	return messagingtest.NewDelivery(messaging.Message{
		Exchange:   "seats-events",
		RoutingKey: e.EventType(),
		MessageID:  e.EventID().String(),
		Body:       body,
	})
}

func TestHandle_AppliesOnceAcrossRedeliveries(t *testing.T) {
	f := newFixture(t)
	evt := seatTaken{Base: events.NewBase(time.Now()), SeatID: "A1"}

	d, ack := delivery(t, evt)
	assert.Equal(t, inbox.OutcomeApplied, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Acked())

	for i := 0; i < 3; i++ {
		d, ack := delivery(t, evt)
		assert.Equal(t, inbox.OutcomeDuplicate, f.consumer.Handle(context.Background(), d))
		assert.True(t, ack.Acked())
	}

	assert.Equal(t, 1, f.seats.count("A1"))
	assert.Equal(t, 1, f.ledger.Len())
}

func TestHandle_MalformedEnvelopeIsAckedAndDropped(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`not json`, `{"seatId":"A1"}`, `{"eventId":"nope"}`} {
		d, ack := messagingtest.NewDelivery(messaging.Message{RoutingKey: "SeatTakenEvent", Body: []byte(body)})
		assert.Equal(t, inbox.OutcomeDropped, f.consumer.Handle(context.Background(), d), body)
		assert.True(t, ack.Acked(), body)
	}
	assert.Zero(t, f.ledger.Len())
	assert.Empty(t, f.beginner.Txs())
}

func TestHandle_UndecodablePayloadIsDropped(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"eventId":"` + uuid.NewString() + `","seatId":42}`)
	d, ack := messagingtest.NewDelivery(messaging.Message{RoutingKey: "SeatTakenEvent", Body: body})

	assert.Equal(t, inbox.OutcomeDropped, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Acked())
	assert.Zero(t, f.ledger.Len(), "ledger row rolled back with the handler")
}

func TestHandle_UnknownTypeIsAcked(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"eventId":"` + uuid.NewString() + `"}`)
	d, ack := messagingtest.NewDelivery(messaging.Message{RoutingKey: "SeatReleasedEvent", Body: body})

	assert.Equal(t, inbox.OutcomeDropped, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Acked())
	assert.Zero(t, f.ledger.Len())
}

func TestHandle_HandlerFailureRequeuesAndRollsBack(t *testing.T) {
	f := newFixture(t)
	f.handlerErr = errors.New("replica unavailable")
	evt := seatTaken{Base: events.NewBase(time.Now()), SeatID: "B2"}

	d, ack := delivery(t, evt)
	assert.Equal(t, inbox.OutcomeRequeued, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Requeued())
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.seats.count("B2"))

	f.handlerErr = nil
	d, ack = delivery(t, evt)
	assert.Equal(t, inbox.OutcomeApplied, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Acked())
	assert.Equal(t, 1, f.seats.count("B2"))
}

func TestHandle_PermanentFailureIsDropped(t *testing.T) {
	f := newFixture(t)
	f.handlerErr = inbox.Permanent(errors.New("unknown seat"))

	d, ack := delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "Z9"})
	assert.Equal(t, inbox.OutcomeDropped, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Acked())
	assert.Zero(t, f.ledger.Len())
}

func TestHandle_LedgerFailuresRequeue(t *testing.T) {
	f := newFixture(t)
	f.ledger.ExistsErr = errors.New("db down")
	d, ack := delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "C3"})
	assert.Equal(t, inbox.OutcomeRequeued, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Requeued())

	f.ledger.ExistsErr = nil
	f.ledger.RecordErr = errors.New("db down")
	d, ack = delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "C3"})
	assert.Equal(t, inbox.OutcomeRequeued, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Requeued())
	assert.Zero(t, f.seats.count("C3"))
}

func TestHandle_CommitFailureRequeues(t *testing.T) {
	f := newFixture(t)
	f.beginner.CommitErr = dbtest.ErrInjected
	d, ack := delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "D4"})

	assert.Equal(t, inbox.OutcomeRequeued, f.consumer.Handle(context.Background(), d))
	assert.True(t, ack.Requeued())
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.seats.count("D4"))
}

func TestRun_ResubscribesWhenStreamCloses(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.consumer.Run(ctx)
		close(done)
	}()

	deliverCtx, deliverCancel := context.WithTimeout(ctx, 2*time.Second)
	defer deliverCancel()

	require.Eventually(t, func() bool { return f.sub.Subscribes() == 1 }, time.Second, time.Millisecond)
	d, ack := delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "E5"})
	require.True(t, f.sub.Deliver(deliverCtx, d))
	require.Eventually(t, ack.Acked, time.Second, time.Millisecond)

	f.sub.End()
	require.Eventually(t, func() bool { return f.sub.Subscribes() == 2 }, 2*time.Second, time.Millisecond)

	d, ack = delivery(t, seatTaken{Base: events.NewBase(time.Now()), SeatID: "F6"})
	require.True(t, f.sub.Deliver(deliverCtx, d))
	require.Eventually(t, ack.Acked, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.True(t, f.sub.Closed())
	assert.Equal(t, 1, f.seats.count("E5"))
	assert.Equal(t, 1, f.seats.count("F6"))
}

func TestRun_RetriesFailedSubscribe(t *testing.T) {
	f := newFixture(t)
	f.sub.SubscribeErr = errors.New("broker unreachable")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.consumer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.sub.Subscribes() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRun_RetriesSubscribeAtFixedDelay(t *testing.T) {
	f := newFixture(t)
	f.sub.SubscribeErr = errors.New("broker unreachable")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.consumer.Run(ctx)
		close(done)
	}()

	// A growing delay would need several times longer to reach ten attempts.
	require.Eventually(t, func() bool { return f.sub.Subscribes() >= 10 }, 200*time.Millisecond, time.Millisecond)
	cancel()
	<-done
}
