// Package channel is the audio channel aggregate: a voice room inside a group
// that members join and leave.
package channel

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

const MaxNameLength = 100

var (
	ErrInvalid        = errors.New("audio channel: invalid input")
	ErrNotFound       = errors.New("audio channel: not found")
	ErrDeleted        = errors.New("audio channel: deleted")
	ErrAlreadyJoined  = errors.New("audio channel: user already joined")
	ErrNotParticipant = errors.New("audio channel: user is not a participant")
	ErrNotCreator     = errors.New("audio channel: only the creator can do this")
)

type Participant struct {
	UserID   uuid.UUID
	JoinedAt time.Time
}

type Channel struct {
	events.Buffer

	ID           uuid.UUID
	GroupID      uuid.UUID
	Name         string
	CreatedBy    uuid.UUID
	CreatedAt    time.Time
	DeletedAt    *time.Time
	Participants []Participant
}

// Create opens a channel in groupID. The creator is not joined automatically.
func Create(now time.Time, groupID, createdBy uuid.UUID, name string) (*Channel, error) {
	name = strings.TrimSpace(name)
	switch {
	case groupID == uuid.Nil:
		return nil, fmt.Errorf("%w: group is required", ErrInvalid)
	case createdBy == uuid.Nil:
		return nil, fmt.Errorf("%w: creator is required", ErrInvalid)
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, MaxNameLength)
	}

	now = now.UTC()
	c := &Channel{ID: uuid.New(), GroupID: groupID, Name: name, CreatedBy: createdBy, CreatedAt: now}
	c.Record(AudioChannelCreatedEvent{Base: events.NewBase(now), ChannelID: c.ID, GroupID: groupID, Name: name, CreatedBy: createdBy, CreatedAt: now})
	return c, nil
}

func (c *Channel) participant(userID uuid.UUID) (int, bool) {
	for i, p := range c.Participants {
		if p.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

func (c *Channel) IsParticipant(userID uuid.UUID) bool {
	_, ok := c.participant(userID)
	return ok
}

func (c *Channel) Join(now time.Time, userID uuid.UUID) (Participant, error) {
	if c.DeletedAt != nil {
		return Participant{}, ErrDeleted
	}
	if userID == uuid.Nil {
		return Participant{}, fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if c.IsParticipant(userID) {
		return Participant{}, ErrAlreadyJoined
	}

	now = now.UTC()
	p := Participant{UserID: userID, JoinedAt: now}
	c.Participants = append(c.Participants, p)
	c.Record(AudioParticipantJoined{Base: events.NewBase(now), ChannelID: c.ID, GroupID: c.GroupID, UserID: userID, JoinedAt: now})
	return p, nil
}

func (c *Channel) Leave(now time.Time, userID uuid.UUID) error {
	if c.DeletedAt != nil {
		return ErrDeleted
	}
	i, ok := c.participant(userID)
	if !ok {
		return ErrNotParticipant
	}

	now = now.UTC()
	c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
	c.Record(AudioParticipantLeft{Base: events.NewBase(now), ChannelID: c.ID, GroupID: c.GroupID, UserID: userID, LeftAt: now})
	return nil
}

// Delete closes the channel. Only its creator may delete it; remaining
// participants are dropped without individual leave events.
func (c *Channel) Delete(now time.Time, actorID uuid.UUID) error {
	if c.DeletedAt != nil {
		return ErrDeleted
	}
	if actorID != c.CreatedBy {
		return ErrNotCreator
	}

	now = now.UTC()
	c.DeletedAt = &now
	c.Participants = nil
	c.Record(AudioChannelDeletedEvent{Base: events.NewBase(now), ChannelID: c.ID, GroupID: c.GroupID, DeletedAt: now})
	return nil
}
