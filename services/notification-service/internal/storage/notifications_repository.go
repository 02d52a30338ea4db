package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/inbox"
	"github.com/md-rashed-zaman/groupchat/services/notification-service/internal/notification"
)

//go:embed migrations/*.sql
var migrations embed.FS

var Migrations = []db.Migration{
	{Name: "notifications", Source: migrations},
	inbox.Migration,
}

const persistTimeout = 5 * time.Second

const columns = `id, event_id, type, channel, recipient, payload, status, attempts, COALESCE(last_error, ''), created_at, sent_at`

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, n notification.Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (event_id, type, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, channel) DO NOTHING
	`, n.EventID, n.Type, string(n.Channel), n.Recipient, n.Payload, string(n.Status))
	if err != nil {
		return fmt.Errorf("insert notification for %s: %w", n.EventID, err)
	}
	return nil
}

// ProcessPendingEmails locks up to limit pending email notifications, hands
// them to fn and saves the ones fn returns, all in one transaction.
func (r *Repository) ProcessPendingEmails(ctx context.Context, limit int, fn notification.BatchFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin notification batch: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, `
		SELECT `+columns+`
		FROM notifications
		WHERE status = 'PENDING' AND channel = $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, string(notification.ChannelEmail), limit)
	if err != nil {
		return fmt.Errorf("fetch pending notifications: %w", err)
	}
	batch, err := collect(rows)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	changed := fn(ctx, batch)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for _, n := range changed {
		var lastError any
		if n.LastError != "" {
			lastError = n.LastError
		}
		_, err := tx.Exec(persistCtx, `
			UPDATE notifications
			SET status = $2, attempts = $3, last_error = $4, sent_at = $5
			WHERE id = $1 AND status = 'PENDING'
		`, n.ID, string(n.Status), n.Attempts, lastError, n.SentAt)
		if err != nil {
			return fmt.Errorf("update notification %d: %w", n.ID, err)
		}
	}
	if err := tx.Commit(persistCtx); err != nil {
		return fmt.Errorf("commit notification batch: %w", err)
	}
	return nil
}

func collect(rows pgx.Rows) ([]notification.Notification, error) {
	defer rows.Close()
	var out []notification.Notification
	for rows.Next() {
		var (
			n       notification.Notification
			channel string
			status  string
		)
		if err := rows.Scan(&n.ID, &n.EventID, &n.Type, &channel, &n.Recipient, &n.Payload, &status,
			&n.Attempts, &n.LastError, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Channel = notification.Channel(channel)
		n.Status = notification.Status(status)
		out = append(out, n)
	}
	return out, rows.Err()
}
