// Package service runs audio channel operations as units of work. Every
// operation requires the caller to be a member of the channel's group in the
// local membership replica.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/audio-service/internal/channel"
)

var ErrNotMember = errors.New("audio: user is not a member of the group")

type Store interface {
	Create(ctx context.Context, tx pgx.Tx, c *channel.Channel) error
	Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*channel.Channel, error)
	AddParticipant(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, p channel.Participant) error
	RemoveParticipant(ctx context.Context, tx pgx.Tx, channelID, userID uuid.UUID) error
	MarkDeleted(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, at time.Time) error
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

func (s *Service) CreateChannel(ctx context.Context, groupID, userID uuid.UUID, name string) (*channel.Channel, error) {
	c, err := channel.Create(s.now(), groupID, userID, name)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	err = s.uow.Execute(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.Create(ctx, tx, c)
	}, c)
	if err != nil {
		return nil, err
	}
	s.logger.Info("audio channel created", "channel_id", c.ID.String(), "group_id", groupID.String())
	return c, nil
}

func (s *Service) JoinChannel(ctx context.Context, channelID, userID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		c, err := s.store.Get(ctx, tx, channelID)
		if err != nil {
			return err
		}
		if err := s.requireMember(ctx, c.GroupID, userID); err != nil {
			return err
		}
		track(c)
		p, err := c.Join(s.now(), userID)
		if err != nil {
			return err
		}
		return s.store.AddParticipant(ctx, tx, c.ID, p)
	})
	if err != nil {
		return err
	}
	s.logger.Info("participant joined", "channel_id", channelID.String(), "user_id", userID.String())
	return nil
}

// LeaveChannel does not check group membership, so users removed from the
// group can still leave.
func (s *Service) LeaveChannel(ctx context.Context, channelID, userID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		c, err := s.store.Get(ctx, tx, channelID)
		if err != nil {
			return err
		}
		track(c)
		if err := c.Leave(s.now(), userID); err != nil {
			return err
		}
		return s.store.RemoveParticipant(ctx, tx, c.ID, userID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("participant left", "channel_id", channelID.String(), "user_id", userID.String())
	return nil
}

func (s *Service) DeleteChannel(ctx context.Context, channelID, actorID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		c, err := s.store.Get(ctx, tx, channelID)
		if err != nil {
			return err
		}
		track(c)
		if err := c.Delete(s.now(), actorID); err != nil {
			return err
		}
		return s.store.MarkDeleted(ctx, tx, c.ID, *c.DeletedAt)
	})
	if err != nil {
		return err
	}
	s.logger.Info("audio channel deleted", "channel_id", channelID.String())
	return nil
}
