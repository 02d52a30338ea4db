// Package membership keeps a local replica of group membership, fed by the
// groups-events exchange, for services that must check who belongs to a group.
package membership

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
)

const (
	Exchange = "groups-events"

	EventUserJoinedGroup = "UserJoinedGroupEvent"
	EventUserLeftGroup   = "UserLeftGroupEvent"
	EventGroupDeleted    = "GroupDeletedEvent"
)

var ErrMissingField = errors.New("membership: event is missing groupId or userId")

//go:embed migrations/*.sql
var migrations embed.FS

var Migration = db.Migration{Name: "membership", Source: migrations}

type Member struct {
	GroupID  uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
}

// Store writes inside the consumer's transaction; IsMember reads committed state.
type Store interface {
	Add(ctx context.Context, tx pgx.Tx, m Member) error
	Remove(ctx context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error
	RemoveGroup(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) error
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Add is a no-op when the member already exists.
func (r *Repository) Add(ctx context.Context, tx pgx.Tx, m Member) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, m.GroupID, m.UserID, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("add member %s to %s: %w", m.UserID, m.GroupID, err)
	}
	return nil
}

func (r *Repository) Remove(ctx context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member %s from %s: %w", userID, groupID, err)
	}
	return nil
}

func (r *Repository) RemoveGroup(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("remove group %s: %w", groupID, err)
	}
	return nil
}

func (r *Repository) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)
	`, groupID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check member %s of %s: %w", userID, groupID, err)
	}
	return ok, nil
}

type memberPayload struct {
	GroupID uuid.UUID `json:"groupId"`
	UserID  uuid.UUID `json:"userId"`
}

type groupPayload struct {
	GroupID uuid.UUID `json:"groupId"`
}

// Register binds the membership handlers into reg.
func Register(reg *inbox.Registry, store Store, logger *slog.Logger) error {
	handlers := map[string]inbox.Handler{
		EventUserJoinedGroup: inbox.Typed(func(ctx context.Context, tx pgx.Tx, env events.Envelope, p memberPayload) error {
			if p.GroupID == uuid.Nil || p.UserID == uuid.Nil {
				return inbox.Permanent(ErrMissingField)
			}
			joinedAt := env.OccurredAt
			if joinedAt.IsZero() {
				joinedAt = time.Now().UTC()
			}
			if err := store.Add(ctx, tx, Member{GroupID: p.GroupID, UserID: p.UserID, JoinedAt: joinedAt}); err != nil {
				return err
			}
			logger.Debug("member added", "group_id", p.GroupID.String(), "user_id", p.UserID.String())
			return nil
		}),
		EventUserLeftGroup: inbox.Typed(func(ctx context.Context, tx pgx.Tx, _ events.Envelope, p memberPayload) error {
			if p.GroupID == uuid.Nil || p.UserID == uuid.Nil {
				return inbox.Permanent(ErrMissingField)
			}
			if err := store.Remove(ctx, tx, p.GroupID, p.UserID); err != nil {
				return err
			}
			logger.Debug("member removed", "group_id", p.GroupID.String(), "user_id", p.UserID.String())
			return nil
		}),
		EventGroupDeleted: inbox.Typed(func(ctx context.Context, tx pgx.Tx, _ events.Envelope, p groupPayload) error {
			if p.GroupID == uuid.Nil {
				return inbox.Permanent(ErrMissingField)
			}
			if err := store.RemoveGroup(ctx, tx, p.GroupID); err != nil {
				return err
			}
			logger.Debug("group members removed", "group_id", p.GroupID.String())
			return nil
		}),
	}
	for _, eventType := range []string{EventUserJoinedGroup, EventUserLeftGroup, EventGroupDeleted} {
		if err := reg.Register(eventType, handlers[eventType]); err != nil {
			return err
		}
	}
	return nil
}

// Binding routes the membership event types into a consumer queue.
func Binding() messaging.Binding {
	return messaging.Binding{
		Exchange:    Exchange,
		RoutingKeys: []string{EventUserJoinedGroup, EventUserLeftGroup, EventGroupDeleted},
	}
}
