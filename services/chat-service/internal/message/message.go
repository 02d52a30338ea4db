// Package message is the chat message aggregate.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

const (
	Exchange = "chat-events"

	MaxContentLength = 2000
)

var ErrInvalid = errors.New("message: invalid input")

type MessageSentEvent struct {
	events.Base
	MessageID uuid.UUID `json:"messageId"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sentAt"`
}

func (MessageSentEvent) EventType() string { return "MessageSentEvent" }

type Message struct {
	events.Buffer

	ID      uuid.UUID
	GroupID uuid.UUID
	UserID  uuid.UUID
	Content string
	SentAt  time.Time
}

// Send creates a message and records MessageSentEvent.
func Send(now time.Time, groupID, userID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	switch {
	case groupID == uuid.Nil:
		return nil, fmt.Errorf("%w: group is required", ErrInvalid)
	case userID == uuid.Nil:
		return nil, fmt.Errorf("%w: user is required", ErrInvalid)
	case content == "":
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	case utf8.RuneCountInString(content) > MaxContentLength:
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrInvalid, MaxContentLength)
	}

	now = now.UTC()
	m := &Message{ID: uuid.New(), GroupID: groupID, UserID: userID, Content: content, SentAt: now}
	m.Record(MessageSentEvent{
		Base:      events.NewBase(now),
		MessageID: m.ID,
		GroupID:   groupID,
		UserID:    userID,
		Content:   content,
		SentAt:    now,
	})
	return m, nil
}
