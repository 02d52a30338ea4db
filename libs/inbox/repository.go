package inbox

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration creates the processed-events ledger in the consumer's database.
var Migration = db.Migration{Name: "inbox", Source: migrations}

// Ledger remembers which events a consumer has already applied.
type Ledger interface {
	Exists(ctx context.Context, eventID uuid.UUID) (bool, error)
	// Record inserts the ledger row in tx and reports whether it was new.
	Record(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType string) (bool, error)
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Exists(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return exists, nil
}

// Record uses ON CONFLICT so that a concurrent duplicate does not abort tx.
func (r *Repository) Record(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("record processed event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
