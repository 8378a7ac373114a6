package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type usersRepo struct {
	c conn
}

const userColumns = `id, kind, username, tenant_id, roles, status, created_at, updated_at`

func scanUser(s scanner) (domain.User, error) {
	var (
		u            domain.User
		kind, status string
		roles        string
	)
	if err := s.Scan(&u.ID, &kind, &u.Username, &u.TenantID, &roles, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Kind = domain.UserKind(kind)
	u.Status = domain.UserStatus(status)
	u.Roles = splitList(roles)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.c.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.c.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	_, err := r.c.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, string(u.Kind), u.Username, u.TenantID, joinList(u.Roles), string(u.Status),
		u.CreatedAt.UTC(), now,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) error {
	return checkFound(r.c.q.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	))
}
