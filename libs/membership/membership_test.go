package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/inbox/inboxtest"
	"github.com/md-rashed-zaman/groupchat/libs/membership"
	"github.com/md-rashed-zaman/groupchat/libs/membership/membershiptest"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/messaging/messagingtest"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

type memberEvent struct {
	events.Base
	Type    string    `json:"-"`
	GroupID uuid.UUID `json:"groupId"`
	UserID  uuid.UUID `json:"userId,omitempty"`
}

func (e memberEvent) EventType() string { return e.Type }

type fixture struct {
	store    *membershiptest.MemoryStore
	ledger   *inboxtest.MemoryLedger
	consumer *inbox.Consumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: &membershiptest.MemoryStore{}, ledger: &inboxtest.MemoryLedger{}}
	reg := inbox.NewRegistry()
	require.NoError(t, membership.Register(reg, f.store, runtime.NopLogger()))
	f.consumer = inbox.NewConsumer(&messagingtest.Subscriber{}, &dbtest.Beginner{}, f.ledger, reg, runtime.NopLogger(), inbox.Config{Name: "chat-service.groups-events"})
	return f
}

func (f *fixture) handle(t *testing.T, e memberEvent) (inbox.Outcome, *messagingtest.Ack) {
	t.Helper()
	body, err := events.Marshal(e)
	require.NoError(t, err)
	d, ack := messagingtest.NewDelivery(messaging.Message{
		Exchange:   membership.Exchange,
		RoutingKey: e.Type,
		MessageID:  e.ID.String(),
		Body:       body,
	})
	return f.consumer.Handle(context.Background(), d), ack
}

func event(eventType string, groupID, userID uuid.UUID) memberEvent {
	return memberEvent{Base: events.NewBase(time.Now()), Type: eventType, GroupID: groupID, UserID: userID}
}

func TestJoinLeaveAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, alice, bob := uuid.New(), uuid.New(), uuid.New()

	out, _ := f.handle(t, event(membership.EventUserJoinedGroup, group, alice))
	assert.Equal(t, inbox.OutcomeApplied, out)
	out, _ = f.handle(t, event(membership.EventUserJoinedGroup, group, bob))
	assert.Equal(t, inbox.OutcomeApplied, out)

	ok, err := f.store.IsMember(ctx, group, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	out, _ = f.handle(t, event(membership.EventUserLeftGroup, group, alice))
	assert.Equal(t, inbox.OutcomeApplied, out)
	ok, _ = f.store.IsMember(ctx, group, alice)
	assert.False(t, ok)

	out, _ = f.handle(t, event(membership.EventGroupDeleted, group, uuid.Nil))
	assert.Equal(t, inbox.OutcomeApplied, out)
	assert.Empty(t, f.store.Members(group))
	assert.Equal(t, 4, f.ledger.Len())
}

func TestRedeliveredJoinAppliesOnce(t *testing.T) {
	f := newFixture(t)
	group, alice := uuid.New(), uuid.New()
	evt := event(membership.EventUserJoinedGroup, group, alice)

	out, _ := f.handle(t, evt)
	assert.Equal(t, inbox.OutcomeApplied, out)
	out, ack := f.handle(t, evt)
	assert.Equal(t, inbox.OutcomeDuplicate, out)
	assert.True(t, ack.Acked())

	assert.Len(t, f.store.Members(group), 1)
}

func TestJoinForExistingMemberIsNoop(t *testing.T) {
	f := newFixture(t)
	group, alice := uuid.New(), uuid.New()
	f.store.Put(group, alice)

	out, _ := f.handle(t, event(membership.EventUserJoinedGroup, group, alice))
	assert.Equal(t, inbox.OutcomeApplied, out)
	assert.Len(t, f.store.Members(group), 1)
}

func TestMissingIdsAreDropped(t *testing.T) {
	f := newFixture(t)

	out, ack := f.handle(t, event(membership.EventUserJoinedGroup, uuid.New(), uuid.Nil))
	assert.Equal(t, inbox.OutcomeDropped, out)
	assert.True(t, ack.Acked())

	out, _ = f.handle(t, event(membership.EventGroupDeleted, uuid.Nil, uuid.Nil))
	assert.Equal(t, inbox.OutcomeDropped, out)
	assert.Zero(t, f.ledger.Len())
}

func TestStoreFailureRequeues(t *testing.T) {
	f := newFixture(t)
	f.store.AddErr = dbtest.ErrInjected

	out, ack := f.handle(t, event(membership.EventUserJoinedGroup, uuid.New(), uuid.New()))
	assert.Equal(t, inbox.OutcomeRequeued, out)
	assert.True(t, ack.Requeued())
	assert.Zero(t, f.ledger.Len())
}

func TestBindingCoversRegisteredTypes(t *testing.T) {
	reg := inbox.NewRegistry()
	require.NoError(t, membership.Register(reg, &membershiptest.MemoryStore{}, runtime.NopLogger()))

	b := membership.Binding()
	assert.Equal(t, "groups-events", b.Exchange)
	assert.ElementsMatch(t, reg.EventTypes(), b.RoutingKeys)
}
