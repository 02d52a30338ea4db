// Package outboxtest provides an in-memory outbox store for tests.
package outboxtest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
)

// MemoryStore implements outbox.Store, outbox.Inserter and outbox.AdminStore.
// Inserts become visible when the dbtest transaction commits.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	records   []outbox.Record
	InsertErr error
}

func (s *MemoryStore) Insert(_ context.Context, tx pgx.Tx, rec outbox.Record) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, existing := range s.records {
			if existing.EventID == rec.EventID {
				return
			}
		}
		s.nextID++
		rec.ID = s.nextID
		s.records = append(s.records, rec)
	})
}

func (s *MemoryStore) ProcessPending(ctx context.Context, limit int, fn outbox.BatchFunc) error {
	s.mu.Lock()
	var batch []outbox.Record
	for _, rec := range s.records {
		if rec.Status == outbox.StatusPending {
			batch = append(batch, rec)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID < batch[j].ID
	})
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if len(batch) == 0 {
		return nil
	}

	changed := fn(ctx, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range changed {
		for i := range s.records {
			if s.records[i].ID == rec.ID && s.records[i].Status == outbox.StatusPending {
				s.records[i] = rec
			}
		}
	}
	return nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Record
	for _, rec := range s.records {
		if rec.Status == outbox.StatusFailed && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Requeue(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].EventID != eventID {
			continue
		}
		if s.records[i].Status != outbox.StatusFailed {
			return outbox.ErrNotFailed
		}
		s.records[i].Status = outbox.StatusPending
		s.records[i].RetryCount = 0
		s.records[i].LastError = ""
		return nil
	}
	return outbox.ErrRecordNotFound
}

// Records returns a snapshot of every stored record in insertion order.
func (s *MemoryStore) Records() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record for eventID, if any.
func (s *MemoryStore) Get(eventID uuid.UUID) (outbox.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.EventID == eventID {
			return rec, true
		}
	}
	return outbox.Record{}, false
}

// Seed stores rec as if it had been committed.
func (s *MemoryStore) Seed(rec outbox.Record) outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
	return rec
}
