package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/auth-service/internal/user"
)

//go:embed migrations/*.sql
var migrations embed.FS

var Migrations = []db.Migration{
	{Name: "users", Source: migrations},
	outbox.Migration,
}

const (
	emailConstraint    = "users_email_key"
	nickNameConstraint = "users_nickname_key"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateTx inserts u inside tx. Duplicate emails and nicknames (case-insensitive)
// map to user.ErrEmailTaken and user.ErrNickNameTaken.
func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, u *user.User) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, nickname, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.NickName, u.PasswordHash, u.CreatedAt)
	if err == nil {
		return nil
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case emailConstraint:
			return user.ErrEmailTaken
		case nickNameConstraint:
			return user.ErrNickNameTaken
		}
	}
	return fmt.Errorf("insert user %s: %w", u.ID, err)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, where string, arg any) (*user.User, error) {
	u := &user.User{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, nickname, password_hash, created_at
		FROM users
		`+where, arg).Scan(&u.ID, &u.Email, &u.NickName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
