// Package service sends chat messages. Membership is checked against the
// local replica fed by groups-events.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/message"
)

var ErrNotMember = errors.New("chat: sender is not a member of the group")

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, m *message.Message) error
	Recent(ctx context.Context, groupID uuid.UUID, limit int) ([]message.Message, error)
}

type MemberChecker interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

type Service struct {
	uow     *outbox.UnitOfWork
	store   Store
	members MemberChecker
	logger  *slog.Logger
	now     func() time.Time
}

func New(uow *outbox.UnitOfWork, store Store, members MemberChecker, logger *slog.Logger) *Service {
	return &Service{uow: uow, store: store, members: members, logger: logger, now: time.Now}
}

func (s *Service) requireMember(ctx context.Context, groupID, userID uuid.UUID) error {
	ok, err := s.members.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *Service) Send(ctx context.Context, groupID, userID uuid.UUID, content string) (*message.Message, error) {
	m, err := message.Send(s.now(), groupID, userID, content)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	err = s.uow.Execute(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.Insert(ctx, tx, m)
	}, m)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("message sent", "message_id", m.ID.String(), "group_id", groupID.String())
	return m, nil
}

// History returns recent messages of a group the caller belongs to.
func (s *Service) History(ctx context.Context, groupID, userID uuid.UUID, limit int) ([]message.Message, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.Recent(ctx, groupID, limit)
}
