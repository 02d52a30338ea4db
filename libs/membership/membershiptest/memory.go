// Package membershiptest provides an in-memory membership replica.
package membershiptest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/libs/membership"
)

type key struct {
	group uuid.UUID
	user  uuid.UUID
}

// MemoryStore implements membership.Store. Writes become visible when the
// dbtest transaction commits.
type MemoryStore struct {
	mu      sync.Mutex
	members map[key]membership.Member

	// AddErr fails every Add, for failure injection.
	AddErr error
}

func (s *MemoryStore) Add(_ context.Context, tx pgx.Tx, m membership.Member) error {
	if s.AddErr != nil {
		return s.AddErr
	}
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.members == nil {
			s.members = make(map[key]membership.Member)
		}
		k := key{group: m.GroupID, user: m.UserID}
		if _, ok := s.members[k]; !ok {
			s.members[k] = m
		}
	})
}

func (s *MemoryStore) Remove(_ context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.members, key{group: groupID, user: userID})
	})
}

func (s *MemoryStore) RemoveGroup(_ context.Context, tx pgx.Tx, groupID uuid.UUID) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for k := range s.members {
			if k.group == groupID {
				delete(s.members, k)
			}
		}
	})
}

func (s *MemoryStore) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[key{group: groupID, user: userID}]
	return ok, nil
}

// Put adds a member directly, outside any transaction.
func (s *MemoryStore) Put(groupID, userID uuid.UUID) {
	_ = s.Add(context.Background(), nil, membership.Member{GroupID: groupID, UserID: userID})
}

func (s *MemoryStore) Members(groupID uuid.UUID) []membership.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []membership.Member
	for k, m := range s.members {
		if k.group == groupID {
			out = append(out, m)
		}
	}
	return out
}
