package message

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecordsEvent(t *testing.T) {
	group, user := uuid.New(), uuid.New()
	m, err := Send(time.Now(), group, user, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)

	evts := m.Events()
	require.Len(t, evts, 1)
	sent := evts[0].(MessageSentEvent)
	assert.Equal(t, m.ID, sent.MessageID)
	assert.Equal(t, group, sent.GroupID)
	assert.Equal(t, "hello", sent.Content)
}

func TestSendValidates(t *testing.T) {
	group, user := uuid.New(), uuid.New()
	for name, content := range map[string]string{
		"empty":    "   ",
		"too long": strings.Repeat("x", MaxContentLength+1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Send(time.Now(), group, user, content)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	_, err := Send(time.Now(), uuid.Nil, user, "hi")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Send(time.Now(), group, uuid.Nil, "hi")
	assert.ErrorIs(t, err, ErrInvalid)
}
