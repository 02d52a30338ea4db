package outbox

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	otelx "github.com/md-rashed-zaman/groupchat/libs/otel"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration creates the outbox table in the owning service's database.
var Migration = db.Migration{Name: "outbox", Source: migrations}

// persistTimeout bounds the status write-back after a batch, which runs even
// when the publisher is shutting down.
const persistTimeout = 5 * time.Second

// BatchFunc receives a locked batch of pending records and returns the ones
// whose status or retry bookkeeping changed.
type BatchFunc func(ctx context.Context, batch []Record) []Record

// Store is what the publisher needs from the outbox table.
type Store interface {
	ProcessPending(ctx context.Context, limit int, fn BatchFunc) error
}

// Inserter appends records inside a caller-owned transaction.
type Inserter interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) error
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends rec in tx. A record whose event id already exists is ignored.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	tc := otelx.TraceContext{Parent: rec.Traceparent, State: rec.Tracestate}
	if tc.IsZero() {
		tc = otelx.Capture(ctx)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, payload, status, created_at, retry_count, traceparent, tracestate)
		VALUES ($1, $2, $3, 'PENDING', $4, 0, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, rec.EventType, rec.Payload, rec.CreatedAt, tc.Parent, tc.State)
	if err != nil {
		return fmt.Errorf("insert outbox record %s: %w", rec.EventID, err)
	}
	return nil
}

// ProcessPending locks up to limit pending records, oldest first, hands them to
// fn and persists the records fn returns, all in one transaction. Rows locked
// by another publisher instance are skipped.
func (r *Repository) ProcessPending(ctx context.Context, limit int, fn BatchFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox batch: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	batch, err := r.fetchPending(ctx, tx, limit)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	changed := fn(ctx, batch)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for _, rec := range changed {
		if err := updateStatus(persistCtx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(persistCtx); err != nil {
		return fmt.Errorf("commit outbox batch: %w", err)
	}
	return nil
}

func (r *Repository) fetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox records: %w", err)
	}
	return collectRecords(rows)
}

// updateStatus only touches rows that are still pending, so a terminal status
// is never overwritten.
func updateStatus(ctx context.Context, tx pgx.Tx, rec Record) error {
	var lastError any
	if rec.LastError != "" {
		lastError = rec.LastError
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = $3, retry_count = $4, last_error = $5
		WHERE id = $1 AND status = 'PENDING'
	`, rec.ID, string(rec.Status), rec.PublishedAt, rec.RetryCount, lastError)
	if err != nil {
		return fmt.Errorf("update outbox record %s: %w", rec.EventID, err)
	}
	return nil
}

func (r *Repository) GetByEventID(ctx context.Context, eventID uuid.UUID) (Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM outbox_events
		WHERE event_id = $1
	`, eventID)
	if err != nil {
		return Record{}, err
	}
	records, err := collectRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return records[0], nil
}

// ListFailed returns quarantined records, oldest first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM outbox_events
		WHERE status = 'FAILED'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed outbox records: %w", err)
	}
	return collectRecords(rows)
}

// Requeue is the operator path out of quarantine: a Failed record goes back to
// Pending with its retry count reset. The publisher never does this by itself.
func (r *Repository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PENDING', retry_count = 0, last_error = NULL
		WHERE event_id = $1 AND status = 'FAILED'
	`, eventID)
	if err != nil {
		return fmt.Errorf("requeue outbox record %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetByEventID(ctx, eventID); err != nil {
		return err
	}
	return ErrNotFailed
}

const recordColumns = `id, event_id, event_type, payload, status, created_at, published_at,
		retry_count, COALESCE(last_error, ''), traceparent, tracestate`

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec    Record
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EventType, &rec.Payload, &status, &rec.CreatedAt,
			&rec.PublishedAt, &rec.RetryCount, &rec.LastError, &rec.Traceparent, &rec.Tracestate); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		rec.Status = Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
