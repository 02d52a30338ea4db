package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/events"
)

// Writer turns buffered aggregate events into Pending outbox records inside
// the caller's transaction.
type Writer struct {
	store Inserter
}

func NewWriter(store Inserter) *Writer {
	return &Writer{store: store}
}

// Append inserts one record per buffered event, in recording order, without
// draining the buffers. Any failure must abort tx.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, recorders ...events.Recorder) (int, error) {
	n := 0
	for _, r := range recorders {
		for _, e := range r.Events() {
			rec, err := NewRecord(e)
			if err != nil {
				return n, fmt.Errorf("%w: %w", ErrDurability, err)
			}
			if err := w.store.Insert(ctx, tx, rec); err != nil {
				return n, fmt.Errorf("%w: %w", ErrDurability, err)
			}
			n++
		}
	}
	return n, nil
}

// UnitOfWork runs a business write and the outbox append for the touched
// aggregates as one transaction.
type UnitOfWork struct {
	db     db.TxBeginner
	writer *Writer
}

func NewUnitOfWork(beginner db.TxBeginner, store Inserter) *UnitOfWork {
	return &UnitOfWork{db: beginner, writer: NewWriter(store)}
}

// Execute calls fn in a new transaction, appends the events buffered on
// recorders, and commits. Buffers are drained only after a successful commit,
// so a failed operation leaves them intact.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error, recorders ...events.Recorder) error {
	return u.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		for _, r := range recorders {
			track(r)
		}
		return fn(ctx, tx)
	})
}

// Do is Execute for operations that load their aggregates inside the
// transaction: fn passes every aggregate it touches to track.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error) error {
	var recorders []events.Recorder
	err := db.WithTx(ctx, u.db, func(ctx context.Context, tx pgx.Tx) error {
		recorders = recorders[:0]
		track := func(r events.Recorder) { recorders = append(recorders, r) }
		if err := fn(ctx, tx, track); err != nil {
			return err
		}
		_, err := u.writer.Append(ctx, tx, recorders...)
		return err
	})
	if err != nil {
		return err
	}
	for _, r := range recorders {
		r.Drain()
	}
	return nil
}
