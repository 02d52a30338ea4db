package channel

import (
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

const Exchange = "audio-events"

type AudioChannelCreatedEvent struct {
	events.Base
	ChannelID uuid.UUID `json:"channelId"`
	GroupID   uuid.UUID `json:"groupId"`
	Name      string    `json:"name"`
	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (AudioChannelCreatedEvent) EventType() string { return "AudioChannelCreatedEvent" }

type AudioParticipantJoined struct {
	events.Base
	ChannelID uuid.UUID `json:"channelId"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
	JoinedAt  time.Time `json:"joinedAt"`
}

func (AudioParticipantJoined) EventType() string { return "AudioParticipantJoined" }

type AudioParticipantLeft struct {
	events.Base
	ChannelID uuid.UUID `json:"channelId"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
	LeftAt    time.Time `json:"leftAt"`
}

func (AudioParticipantLeft) EventType() string { return "AudioParticipantLeft" }

type AudioChannelDeletedEvent struct {
	events.Base
	ChannelID uuid.UUID `json:"channelId"`
	GroupID   uuid.UUID `json:"groupId"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (AudioChannelDeletedEvent) EventType() string { return "AudioChannelDeletedEvent" }
