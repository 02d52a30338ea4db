// Package service registers and authenticates users. Registration writes the
// user row and UserRegisteredEvent in one unit of work.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/auth-service/internal/user"
)

type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, u *user.User) error
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

type Service struct {
	uow    *outbox.UnitOfWork
	users  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(uow *outbox.UnitOfWork, users Store, logger *slog.Logger) *Service {
	return &Service{uow: uow, users: users, logger: logger, now: time.Now}
}

func (s *Service) Register(ctx context.Context, email, nickName, password string) (*user.User, error) {
	u, err := user.Register(s.now(), email, nickName, password)
	if err != nil {
		return nil, err
	}
	err = s.uow.Execute(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.users.CreateTx(ctx, tx, u)
	}, u)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID.String())
	return u, nil
}

// Authenticate returns the user owning email when password matches. Unknown
// emails and wrong passwords both yield user.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if errors.Is(err, user.ErrNotFound) {
		return nil, user.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := u.VerifyPassword(password); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return s.users.GetByID(ctx, id)
}
