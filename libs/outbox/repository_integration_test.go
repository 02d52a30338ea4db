//go:build integration

package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/messaging/messagingtest"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

func TestRepository_Postgres(t *testing.T) {
	pool := dbtest.StartPostgres(t, outbox.Migration)
	repo := outbox.NewRepository(pool)
	ctx := context.Background()

	insert := func(at time.Time) outbox.Record {
		rec, err := outbox.NewRecord(roomOpened{Base: events.NewBase(at), RoomID: uuid.NewString()})
		require.NoError(t, err)
		require.NoError(t, db.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
			return repo.Insert(ctx, tx, rec)
		}))
		return rec
	}

	t.Run("duplicate event id is ignored", func(t *testing.T) {
		rec := insert(time.Now())
		require.NoError(t, db.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
			return repo.Insert(ctx, tx, rec)
		}))
		got, err := repo.GetByEventID(ctx, rec.EventID)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusPending, got.Status)
	})

	t.Run("rolled back insert leaves no record", func(t *testing.T) {
		rec, err := outbox.NewRecord(roomOpened{Base: events.NewBase(time.Now()), RoomID: "x"})
		require.NoError(t, err)
		boom := errors.New("business failure")
		err = db.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
			if err := repo.Insert(ctx, tx, rec); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		_, err = repo.GetByEventID(ctx, rec.EventID)
		require.ErrorIs(t, err, outbox.ErrRecordNotFound)
	})

	t.Run("publisher marks records and quarantines failures", func(t *testing.T) {
		failing := insert(time.Now().Add(-time.Hour))
		broker := &messagingtest.Publisher{Hook: func(_ context.Context, _ int, msg messaging.Message) error {
			if msg.MessageID == failing.EventID.String() {
				return errors.New("nacked")
			}
			return nil
		}}
		pub := outbox.NewPublisher(repo, broker, runtime.NopLogger(), outbox.PublisherConfig{
			Exchange: "rooms-events", BatchSize: 50, MaxRetryCount: 2,
		})

		for i := 0; i < 2; i++ {
			_, err := pub.PublishOnce(ctx)
			require.NoError(t, err)
		}

		got, err := repo.GetByEventID(ctx, failing.EventID)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusFailed, got.Status)
		assert.Equal(t, 2, got.RetryCount)
		assert.Equal(t, "nacked", got.LastError)

		failed, err := repo.ListFailed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)

		require.NoError(t, repo.Requeue(ctx, failing.EventID))
		require.ErrorIs(t, repo.Requeue(ctx, failing.EventID), outbox.ErrNotFailed)
		require.ErrorIs(t, repo.Requeue(ctx, uuid.New()), outbox.ErrRecordNotFound)
	})

	t.Run("concurrent batches never share a record", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			insert(time.Now())
		}
		var (
			mu   sync.Mutex
			seen = map[uuid.UUID]int{}
			wg   sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = repo.ProcessPending(ctx, 10, func(ctx context.Context, batch []outbox.Record) []outbox.Record {
					mu.Lock()
					for _, rec := range batch {
						seen[rec.EventID]++
					}
					mu.Unlock()
					time.Sleep(50 * time.Millisecond)
					return nil
				})
			}()
		}
		wg.Wait()
		for id, n := range seen {
			assert.Equal(t, 1, n, "record %s locked by more than one batch", id)
		}
	})
}
