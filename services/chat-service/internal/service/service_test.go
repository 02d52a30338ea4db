package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/membership/membershiptest"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/libs/outbox/outboxtest"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/message"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/service"
)

type memoryMessages struct {
	mu   sync.Mutex
	rows []message.Message
}

func (s *memoryMessages) Insert(_ context.Context, tx pgx.Tx, m *message.Message) error {
	row := message.Message{ID: m.ID, GroupID: m.GroupID, UserID: m.UserID, Content: m.Content, SentAt: m.SentAt}
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rows = append(s.rows, row)
	})
}

func (s *memoryMessages) Recent(_ context.Context, groupID uuid.UUID, limit int) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.Message
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].GroupID == groupID {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

type fixture struct {
	outbox   *outboxtest.MemoryStore
	messages *memoryMessages
	members  *membershiptest.MemoryStore
	svc      *service.Service
}

func newFixture() *fixture {
	f := &fixture{
		outbox:   &outboxtest.MemoryStore{},
		messages: &memoryMessages{},
		members:  &membershiptest.MemoryStore{},
	}
	f.svc = service.New(outbox.NewUnitOfWork(&dbtest.Beginner{}, f.outbox), f.messages, f.members, runtime.NopLogger())
	return f
}

func TestSendByMemberWritesMessageAndOutbox(t *testing.T) {
	f := newFixture()
	group, user := uuid.New(), uuid.New()
	f.members.Put(group, user)

	m, err := f.svc.Send(context.Background(), group, user, "hello")
	require.NoError(t, err)

	require.Len(t, f.messages.rows, 1)
	records := f.outbox.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "MessageSentEvent", records[0].EventType)

	env, err := events.Parse(records[0].Payload, "")
	require.NoError(t, err)
	var payload message.MessageSentEvent
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, m.ID, payload.MessageID)
	assert.Equal(t, "hello", payload.Content)
}

func TestSendByNonMemberIsRejected(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Send(context.Background(), uuid.New(), uuid.New(), "hello")
	require.ErrorIs(t, err, service.ErrNotMember)
	assert.Empty(t, f.messages.rows)
	assert.Empty(t, f.outbox.Records())
}

func TestSendRollsBackWhenOutboxFails(t *testing.T) {
	f := newFixture()
	group, user := uuid.New(), uuid.New()
	f.members.Put(group, user)
	f.outbox.InsertErr = dbtest.ErrInjected

	_, err := f.svc.Send(context.Background(), group, user, "hello")
	require.ErrorIs(t, err, outbox.ErrDurability)
	assert.Empty(t, f.messages.rows)
}

func TestHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	group, user := uuid.New(), uuid.New()
	f.members.Put(group, user)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.Send(ctx, group, user, text)
		require.NoError(t, err)
	}

	got, err := f.svc.History(ctx, group, user, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "three", got[0].Content)

	_, err = f.svc.History(ctx, group, uuid.New(), 0)
	assert.ErrorIs(t, err, service.ErrNotMember)
}
