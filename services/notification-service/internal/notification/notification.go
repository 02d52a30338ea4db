// Package notification turns chat, audio and auth events into notification
// rows. Feed notifications are stored for clients to read; email
// notifications are queued for the Dispatcher.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

const (
	ChatExchange  = "chat-events"
	AudioExchange = "audio-events"
	AuthExchange  = "auth-events"

	EventMessageSent       = "MessageSentEvent"
	EventParticipantJoined = "AudioParticipantJoined"
	EventParticipantLeft   = "AudioParticipantLeft"
	EventUserRegistered    = "UserRegisteredEvent"
)

const (
	TypeMessageSent       = "chat.message_sent"
	TypeParticipantJoined = "audio.participant_joined"
	TypeParticipantLeft   = "audio.participant_left"
	TypeWelcome           = "user.welcome"
)

var ErrMissingField = errors.New("notification: event is missing a required field")

type Channel string

const (
	ChannelFeed  Channel = "feed"
	ChannelEmail Channel = "email"
)

type Status string

const (
	StatusDelivered Status = "DELIVERED"
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
)

const maxLastErrorLen = 1024

type Notification struct {
	ID        int64
	EventID   uuid.UUID
	Type      string
	Channel   Channel
	Recipient string
	Payload   []byte
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}

// RecordAttempt applies the result of one delivery attempt. A pending
// notification becomes Sent on success and Failed once attempts reach max.
func (n *Notification) RecordAttempt(now time.Time, cause error, maxAttempts int) {
	if n.Status != StatusPending {
		return
	}
	n.Attempts++
	if cause == nil {
		now = now.UTC()
		n.Status = StatusSent
		n.SentAt = &now
		n.LastError = ""
		return
	}
	msg := cause.Error()
	if len(msg) > maxLastErrorLen {
		msg = strings.ToValidUTF8(msg[:maxLastErrorLen], "")
	}
	n.LastError = msg
	if n.Attempts >= maxAttempts {
		n.Status = StatusFailed
	}
}

// Store writes inside the consumer's transaction. Insert ignores a second row
// for the same event and channel.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, n Notification) error
}

type messageSent struct {
	MessageID uuid.UUID `json:"messageId"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
}

type audioParticipant struct {
	ChannelID uuid.UUID `json:"channelId"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
}

type userRegistered struct {
	UserID   uuid.UUID `json:"userId"`
	Email    string    `json:"email"`
	NickName string    `json:"nickName"`
}

// GroupRecipient addresses every member of a group's feed.
func GroupRecipient(groupID uuid.UUID) string {
	return "group:" + groupID.String()
}

// Register binds the handled event types on reg.
func Register(reg *inbox.Registry, store Store, logger *slog.Logger) error {
	feed := func(ctx context.Context, tx pgx.Tx, env events.Envelope, typ string, groupID uuid.UUID) error {
		if groupID == uuid.Nil {
			return inbox.Permanent(fmt.Errorf("%w: groupId", ErrMissingField))
		}
		return store.Insert(ctx, tx, Notification{
			EventID:   env.EventID,
			Type:      typ,
			Channel:   ChannelFeed,
			Recipient: GroupRecipient(groupID),
			Payload:   env.Body,
			Status:    StatusDelivered,
		})
	}
	audio := func(typ string) inbox.Handler {
		return inbox.Typed(func(ctx context.Context, tx pgx.Tx, env events.Envelope, p audioParticipant) error {
			if p.ChannelID == uuid.Nil || p.UserID == uuid.Nil {
				return inbox.Permanent(fmt.Errorf("%w: channelId or userId", ErrMissingField))
			}
			return feed(ctx, tx, env, typ, p.GroupID)
		})
	}

	handlers := map[string]inbox.Handler{
		EventMessageSent: inbox.Typed(func(ctx context.Context, tx pgx.Tx, env events.Envelope, p messageSent) error {
			if p.MessageID == uuid.Nil {
				return inbox.Permanent(fmt.Errorf("%w: messageId", ErrMissingField))
			}
			return feed(ctx, tx, env, TypeMessageSent, p.GroupID)
		}),
		EventParticipantJoined: audio(TypeParticipantJoined),
		EventParticipantLeft:   audio(TypeParticipantLeft),
		EventUserRegistered: inbox.Typed(func(ctx context.Context, tx pgx.Tx, env events.Envelope, p userRegistered) error {
			if p.Email == "" {
				return inbox.Permanent(fmt.Errorf("%w: email", ErrMissingField))
			}
			if err := store.Insert(ctx, tx, Notification{
				EventID:   env.EventID,
				Type:      TypeWelcome,
				Channel:   ChannelEmail,
				Recipient: p.Email,
				Payload:   env.Body,
				Status:    StatusPending,
			}); err != nil {
				return err
			}
			logger.Debug("welcome email queued", "user_id", p.UserID.String())
			return nil
		}),
	}
	for eventType, h := range handlers {
		if err := reg.Register(eventType, h); err != nil {
			return err
		}
	}
	return nil
}

// Bindings lists the exchanges and routing keys Register handles.
func Bindings() []messaging.Binding {
	return []messaging.Binding{
		{Exchange: ChatExchange, RoutingKeys: []string{EventMessageSent}},
		{Exchange: AudioExchange, RoutingKeys: []string{EventParticipantJoined, EventParticipantLeft}},
		{Exchange: AuthExchange, RoutingKeys: []string{EventUserRegistered}},
	}
}
