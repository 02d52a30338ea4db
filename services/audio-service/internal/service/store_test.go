package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
	"github.com/md-rashed-zaman/groupchat/services/audio-service/internal/channel"
)

// memoryChannels keeps committed channel rows in memory.
type memoryChannels struct {
	mu       sync.Mutex
	channels map[uuid.UUID]channel.Channel
}

func newMemoryChannels() *memoryChannels {
	return &memoryChannels{channels: make(map[uuid.UUID]channel.Channel)}
}

func snapshot(c *channel.Channel) channel.Channel {
	return channel.Channel{
		ID:           c.ID,
		GroupID:      c.GroupID,
		Name:         c.Name,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		DeletedAt:    c.DeletedAt,
		Participants: append([]channel.Participant(nil), c.Participants...),
	}
}

func (s *memoryChannels) Create(_ context.Context, tx pgx.Tx, c *channel.Channel) error {
	row := snapshot(c)
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.channels[row.ID] = row
	})
}

func (s *memoryChannels) Get(_ context.Context, _ pgx.Tx, id uuid.UUID) (*channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.channels[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	c := snapshot(&row)
	return &c, nil
}

func (s *memoryChannels) AddParticipant(_ context.Context, tx pgx.Tx, channelID uuid.UUID, p channel.Participant) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.channels[channelID]
		row.Participants = append(row.Participants, p)
		s.channels[channelID] = row
	})
}

func (s *memoryChannels) RemoveParticipant(_ context.Context, tx pgx.Tx, channelID, userID uuid.UUID) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.channels[channelID]
		kept := row.Participants[:0:0]
		for _, p := range row.Participants {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		row.Participants = kept
		s.channels[channelID] = row
	})
}

func (s *memoryChannels) MarkDeleted(_ context.Context, tx pgx.Tx, channelID uuid.UUID, at time.Time) error {
	return dbtest.OnCommit(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.channels[channelID]
		row.DeletedAt = &at
		row.Participants = nil
		s.channels[channelID] = row
	})
}

func (s *memoryChannels) get(id uuid.UUID) (channel.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.channels[id]
	return row, ok
}
