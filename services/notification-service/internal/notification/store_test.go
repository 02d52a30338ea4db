package notification_test

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/services/notification-service/internal/notification"
)

// memoryStore mirrors the notifications table: one row per event and channel.
type memoryStore struct {
	mu     sync.Mutex
	rows   []notification.Notification
	nextID int64
}

func (s *memoryStore) Insert(_ context.Context, tx pgx.Tx, n notification.Notification) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, existing := range s.rows {
			if existing.EventID == n.EventID && existing.Channel == n.Channel {
				return
			}
		}
		s.nextID++
		n.ID = s.nextID
		s.rows = append(s.rows, n)
	})
}

func (s *memoryStore) ProcessPendingEmails(ctx context.Context, limit int, fn notification.BatchFunc) error {
	s.mu.Lock()
	var batch []notification.Notification
	for _, n := range s.rows {
		if n.Status == notification.StatusPending && n.Channel == notification.ChannelEmail && len(batch) < limit {
			batch = append(batch, n)
		}
	}
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	changed := fn(ctx, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changed {
		for i := range s.rows {
			if s.rows[i].ID == c.ID && s.rows[i].Status == notification.StatusPending {
				s.rows[i] = c
			}
		}
	}
	return nil
}

func (s *memoryStore) snapshot() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.rows...)
}
