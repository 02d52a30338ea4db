// Package service runs group operations as units of work: the aggregate change
// and its outbox records commit in one transaction.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/events"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
)

type Store interface {
	Create(ctx context.Context, tx pgx.Tx, g *group.Group) error
	Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*group.Group, error)
	AddMember(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, m group.Member) error
	RemoveMember(ctx context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error
	MarkDeleted(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, at time.Time) error
}

type Service struct {
	uow    *outbox.UnitOfWork
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(uow *outbox.UnitOfWork, store Store, logger *slog.Logger) *Service {
	return &Service{uow: uow, store: store, logger: logger, now: time.Now}
}

type CreateGroup struct {
	Name        string
	Description string
	Password    string
	OwnerID     uuid.UUID
}

func (s *Service) CreateGroup(ctx context.Context, in CreateGroup) (*group.Group, error) {
	hash, err := group.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	g, err := group.Create(s.now(), in.Name, in.Description, in.OwnerID, hash)
	if err != nil {
		return nil, err
	}
	err = s.uow.Execute(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.Create(ctx, tx, g)
	}, g)
	if err != nil {
		return nil, err
	}
	s.logger.Info("group created", "group_id", g.ID.String(), "owner_id", g.OwnerID.String())
	return g, nil
}

func (s *Service) JoinGroup(ctx context.Context, groupID, userID uuid.UUID, password string) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		g, err := s.store.Get(ctx, tx, groupID)
		if err != nil {
			return err
		}
		track(g)
		m, err := g.Join(s.now(), userID, password)
		if err != nil {
			return err
		}
		return s.store.AddMember(ctx, tx, g.ID, m)
	})
	if err != nil {
		return err
	}
	s.logger.Info("user joined group", "group_id", groupID.String(), "user_id", userID.String())
	return nil
}

func (s *Service) LeaveGroup(ctx context.Context, groupID, userID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		g, err := s.store.Get(ctx, tx, groupID)
		if err != nil {
			return err
		}
		track(g)
		if err := g.Leave(s.now(), userID); err != nil {
			return err
		}
		return s.store.RemoveMember(ctx, tx, g.ID, userID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("user left group", "group_id", groupID.String(), "user_id", userID.String())
	return nil
}

func (s *Service) DeleteGroup(ctx context.Context, groupID, actorID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx pgx.Tx, track func(events.Recorder)) error {
		g, err := s.store.Get(ctx, tx, groupID)
		if err != nil {
			return err
		}
		track(g)
		if err := g.Delete(s.now(), actorID); err != nil {
			return err
		}
		return s.store.MarkDeleted(ctx, tx, g.ID, *g.DeletedAt)
	})
	if err != nil {
		return err
	}
	s.logger.Info("group deleted", "group_id", groupID.String())
	return nil
}
