// Package group is the group aggregate. Every state change records a domain
// event on the aggregate's buffer for the outbox.
package group

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

var (
	ErrInvalid          = errors.New("group: invalid input")
	ErrNotFound         = errors.New("group: not found")
	ErrDeleted          = errors.New("group: deleted")
	ErrAlreadyMember    = errors.New("group: user is already a member")
	ErrNotMember        = errors.New("group: user is not a member")
	ErrOwnerCannotLeave = errors.New("group: owner cannot leave the group")
	ErrNotOwner         = errors.New("group: only the owner can do this")
	ErrWrongPassword    = errors.New("group: wrong password")
)

type Role string

const (
	RoleOwner  Role = "Owner"
	RoleMember Role = "Member"
)

type Member struct {
	UserID   uuid.UUID
	Role     Role
	JoinedAt time.Time
}

type Group struct {
	events.Buffer

	ID           uuid.UUID
	Name         string
	Description  string
	PasswordHash string
	OwnerID      uuid.UUID
	CreatedAt    time.Time
	DeletedAt    *time.Time
	Members      []Member
}

// Create builds a new group with its owner as the first member. It records
// GroupCreatedEvent followed by UserJoinedGroupEvent for the owner.
func Create(now time.Time, name, description string, ownerID uuid.UUID, passwordHash string) (*Group, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, MaxNameLength)
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalid, MaxDescriptionLength)
	case ownerID == uuid.Nil:
		return nil, fmt.Errorf("%w: owner is required", ErrInvalid)
	}

	now = now.UTC()
	g := &Group{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		PasswordHash: passwordHash,
		OwnerID:      ownerID,
		CreatedAt:    now,
		Members:      []Member{{UserID: ownerID, Role: RoleOwner, JoinedAt: now}},
	}
	g.Record(GroupCreatedEvent{Base: events.NewBase(now), GroupID: g.ID, Name: g.Name, OwnerID: ownerID, CreatedAt: now})
	g.Record(UserJoinedGroupEvent{Base: events.NewBase(now), GroupID: g.ID, UserID: ownerID, Role: RoleOwner, JoinedAt: now})
	return g, nil
}

func (g *Group) IsMember(userID uuid.UUID) bool {
	_, ok := g.member(userID)
	return ok
}

func (g *Group) member(userID uuid.UUID) (int, bool) {
	for i, m := range g.Members {
		if m.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

// Join adds userID as a member. Password-protected groups require the
// matching password.
func (g *Group) Join(now time.Time, userID uuid.UUID, password string) (Member, error) {
	if g.DeletedAt != nil {
		return Member{}, ErrDeleted
	}
	if userID == uuid.Nil {
		return Member{}, fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if g.IsMember(userID) {
		return Member{}, ErrAlreadyMember
	}
	if err := g.checkPassword(password); err != nil {
		return Member{}, err
	}

	now = now.UTC()
	m := Member{UserID: userID, Role: RoleMember, JoinedAt: now}
	g.Members = append(g.Members, m)
	g.Record(UserJoinedGroupEvent{Base: events.NewBase(now), GroupID: g.ID, UserID: userID, Role: RoleMember, JoinedAt: now})
	return m, nil
}

func (g *Group) Leave(now time.Time, userID uuid.UUID) error {
	if g.DeletedAt != nil {
		return ErrDeleted
	}
	i, ok := g.member(userID)
	if !ok {
		return ErrNotMember
	}
	if g.Members[i].Role == RoleOwner {
		return ErrOwnerCannotLeave
	}

	now = now.UTC()
	g.Members = append(g.Members[:i], g.Members[i+1:]...)
	g.Record(UserLeftGroupEvent{Base: events.NewBase(now), GroupID: g.ID, UserID: userID, LeftAt: now})
	return nil
}

// Delete marks the group deleted. Only the owner may delete it.
func (g *Group) Delete(now time.Time, actorID uuid.UUID) error {
	if g.DeletedAt != nil {
		return ErrDeleted
	}
	if actorID != g.OwnerID {
		return ErrNotOwner
	}

	now = now.UTC()
	g.DeletedAt = &now
	g.Record(GroupDeletedEvent{Base: events.NewBase(now), GroupID: g.ID, DeletedAt: now})
	return nil
}

func (g *Group) checkPassword(password string) error {
	if g.PasswordHash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(g.PasswordHash), []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// HashPassword returns the bcrypt hash stored for password-protected groups.
// An empty password yields an empty hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash group password: %w", err)
	}
	return string(hash), nil
}
