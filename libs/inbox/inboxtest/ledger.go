// Package inboxtest provides an in-memory processed-events ledger.
package inboxtest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
)

// MemoryLedger implements inbox.Ledger. Recorded ids become visible when the
// dbtest transaction commits.
type MemoryLedger struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]string
	ExistsErr error
	RecordErr error
}

func (l *MemoryLedger) Exists(_ context.Context, eventID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ExistsErr != nil {
		return false, l.ExistsErr
	}
	_, ok := l.rows[eventID]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, tx pgx.Tx, eventID uuid.UUID, eventType string) (bool, error) {
	l.mu.Lock()
	if l.RecordErr != nil {
		l.mu.Unlock()
		return false, l.RecordErr
	}
	_, exists := l.rows[eventID]
	l.mu.Unlock()
	if exists {
		return false, nil
	}
	err := dbtest.OnCommit(tx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.rows == nil {
			l.rows = make(map[uuid.UUID]string)
		}
		l.rows[eventID] = eventType
	})
	return err == nil, err
}

// Len is the number of committed ledger rows.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
