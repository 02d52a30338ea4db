package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/libs/membership"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/message"
)

//go:embed migrations/*.sql
var migrations embed.FS

var Migrations = []db.Migration{
	{Name: "chat", Source: migrations},
	outbox.Migration,
	inbox.Migration,
	membership.Migration,
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, m *message.Message) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, group_id, user_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.GroupID, m.UserID, m.Content, m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// Recent returns up to limit messages of a group, newest first.
func (r *Repository) Recent(ctx context.Context, groupID uuid.UUID, limit int) ([]message.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, user_id, content, sent_at
		FROM messages
		WHERE group_id = $1
		ORDER BY sent_at DESC, id
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
