package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
)

// memoryStore keeps committed group rows in memory.
type memoryStore struct {
	mu     sync.Mutex
	groups map[uuid.UUID]group.Group
}

func newMemoryStore() *memoryStore {
	return &memoryStore{groups: make(map[uuid.UUID]group.Group)}
}

func snapshot(g *group.Group) group.Group {
	return group.Group{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		PasswordHash: g.PasswordHash,
		OwnerID:      g.OwnerID,
		CreatedAt:    g.CreatedAt,
		DeletedAt:    g.DeletedAt,
		Members:      append([]group.Member(nil), g.Members...),
	}
}

func (s *memoryStore) Create(_ context.Context, tx pgx.Tx, g *group.Group) error {
	row := snapshot(g)
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.groups[row.ID] = row
	})
}

func (s *memoryStore) Get(_ context.Context, _ pgx.Tx, id uuid.UUID) (*group.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.groups[id]
	if !ok {
		return nil, group.ErrNotFound
	}
	g := snapshot(&row)
	return &g, nil
}

func (s *memoryStore) AddMember(_ context.Context, tx pgx.Tx, groupID uuid.UUID, m group.Member) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.groups[groupID]
		row.Members = append(row.Members, m)
		s.groups[groupID] = row
	})
}

func (s *memoryStore) RemoveMember(_ context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.groups[groupID]
		kept := row.Members[:0:0]
		for _, m := range row.Members {
			if m.UserID != userID {
				kept = append(kept, m)
			}
		}
		row.Members = kept
		s.groups[groupID] = row
	})
}

func (s *memoryStore) MarkDeleted(_ context.Context, tx pgx.Tx, groupID uuid.UUID, at time.Time) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.groups[groupID]
		row.DeletedAt = &at
		s.groups[groupID] = row
	})
}

func (s *memoryStore) get(id uuid.UUID) (group.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.groups[id]
	return row, ok
}
