package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/membership"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/audio-service/internal/channel"
)

//go:embed migrations/*.sql
var migrations embed.FS

var Migrations = []db.Migration{
	{Name: "audio", Source: migrations},
	outbox.Migration,
	inbox.Migration,
	membership.Migration,
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, c *channel.Channel) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audio_channels (id, group_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.GroupID, c.Name, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audio channel %s: %w", c.ID, err)
	}
	return nil
}

// Get loads the channel and its participants, locking the channel row until tx ends.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*channel.Channel, error) {
	c := &channel.Channel{}
	err := tx.QueryRow(ctx, `
		SELECT id, group_id, name, created_by, created_at, deleted_at
		FROM audio_channels
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.GroupID, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.DeletedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, channel.ErrNotFound
		}
		return nil, fmt.Errorf("load audio channel %s: %w", id, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT user_id, joined_at
		FROM audio_participants
		WHERE channel_id = $1
		ORDER BY joined_at, user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load participants of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p channel.Participant
		if err := rows.Scan(&p.UserID, &p.JoinedAt); err != nil {
			return nil, err
		}
		c.Participants = append(c.Participants, p)
	}
	return c, rows.Err()
}

func (r *Repository) AddParticipant(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, p channel.Participant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audio_participants (channel_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, channelID, p.UserID, p.JoinedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return channel.ErrAlreadyJoined
		}
		return fmt.Errorf("add participant %s to %s: %w", p.UserID, channelID, err)
	}
	return nil
}

func (r *Repository) RemoveParticipant(ctx context.Context, tx pgx.Tx, channelID, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM audio_participants WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return fmt.Errorf("remove participant %s from %s: %w", userID, channelID, err)
	}
	return nil
}

func (r *Repository) MarkDeleted(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, at time.Time) error {
	if _, err := tx.Exec(ctx, `DELETE FROM audio_participants WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("clear participants of %s: %w", channelID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE audio_channels SET deleted_at = $2 WHERE id = $1`, channelID, at); err != nil {
		return fmt.Errorf("delete audio channel %s: %w", channelID, err)
	}
	return nil
}
