package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations creates the groups tables and the outbox in the service database.
var Migrations = []db.Migration{
	{Name: "groups", Source: migrations},
	outbox.Migration,
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, g *group.Group) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO groups (id, name, description, password_hash, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.Name, g.Description, g.PasswordHash, g.OwnerID, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.ID, err)
	}
	for _, m := range g.Members {
		if err := r.AddMember(ctx, tx, g.ID, m); err != nil {
			return err
		}
	}
	return nil
}

// Get loads the group and its members, locking the group row until tx ends.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*group.Group, error) {
	g := &group.Group{}
	err := tx.QueryRow(ctx, `
		SELECT id, name, description, password_hash, owner_id, created_at, deleted_at
		FROM groups
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.PasswordHash, &g.OwnerID, &g.CreatedAt, &g.DeletedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, group.ErrNotFound
		}
		return nil, fmt.Errorf("load group %s: %w", id, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT user_id, role, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at, user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m group.Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, m)
	}
	return g, rows.Err()
}

func (r *Repository) AddMember(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, m group.Member) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, groupID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return group.ErrAlreadyMember
		}
		return fmt.Errorf("add member %s to %s: %w", m.UserID, groupID, err)
	}
	return nil
}

func (r *Repository) RemoveMember(ctx context.Context, tx pgx.Tx, groupID, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member %s from %s: %w", userID, groupID, err)
	}
	return nil
}

func (r *Repository) MarkDeleted(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE groups SET deleted_at = $2 WHERE id = $1`, groupID, at)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return nil
}
