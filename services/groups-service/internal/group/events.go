package group

import (
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

// Exchange receives every event raised by groups.
const Exchange = "groups-events"

type GroupCreatedEvent struct {
	events.Base
	GroupID   uuid.UUID `json:"groupId"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (GroupCreatedEvent) EventType() string { return "GroupCreatedEvent" }

type UserJoinedGroupEvent struct {
	events.Base
	GroupID  uuid.UUID `json:"groupId"`
	UserID   uuid.UUID `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (UserJoinedGroupEvent) EventType() string { return "UserJoinedGroupEvent" }

type UserLeftGroupEvent struct {
	events.Base
	GroupID uuid.UUID `json:"groupId"`
	UserID  uuid.UUID `json:"userId"`
	LeftAt  time.Time `json:"leftAt"`
}

func (UserLeftGroupEvent) EventType() string { return "UserLeftGroupEvent" }

type GroupDeletedEvent struct {
	events.Base
	GroupID   uuid.UUID `json:"groupId"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (GroupDeletedEvent) EventType() string { return "GroupDeletedEvent" }
