// Package dbtest provides in-memory stand-ins for pgx transactions so that
// code written against db.TxBeginner can be tested without PostgreSQL.
//
// Fake stores stage their writes with OnCommit; staged writes become visible
// only if the transaction commits, mirroring real transactional behaviour.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Tx is a fake pgx.Tx. Methods other than Commit and Rollback panic.
type Tx struct {
	pgx.Tx

	mu         sync.Mutex
	staged     []func()
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	if t.commitErr != nil {
		t.rolledBack = true
		t.staged = nil
		return t.commitErr
	}
	t.committed = true
	for _, fn := range t.staged {
		fn()
	}
	t.staged = nil
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	t.staged = nil
	return nil
}

func (t *Tx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

func (t *Tx) stage(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.staged = append(t.staged, fn)
	return nil
}

// OnCommit defers fn until tx commits. If tx is not a *Tx, fn runs immediately.
func OnCommit(tx pgx.Tx, fn func()) error {
	ft, ok := tx.(*Tx)
	if !ok {
		fn()
		return nil
	}
	return ft.stage(fn)
}

// Beginner hands out fake transactions and records them for assertions.
type Beginner struct {
	mu        sync.Mutex
	BeginErr  error
	CommitErr error
	txs       []*Tx
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	tx := &Tx{commitErr: b.CommitErr}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func (b *Beginner) Txs() []*Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Tx, len(b.txs))
	copy(out, b.txs)
	return out
}

// ErrInjected is a convenience error for failure injection in tests.
var ErrInjected = errors.New("dbtest: injected failure")
