package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
)

type invitesRepo struct {
	c conn
}

func (r *invitesRepo) CreateInvite(ctx context.Context, inv domain.Invite) error {
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	_, err := r.c.q.ExecContext(ctx, `
		INSERT INTO invites (id, token_hash, tenant_id, roles, email, created_by, expires_at,
			reusable, used, used_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
		inv.ID, inv.TokenHash, inv.TenantID, joinList(inv.Roles), inv.Email, inv.CreatedBy,
		inv.ExpiresAt.UTC(), inv.Reusable, inv.CreatedAt.UTC(), now,
	)
	return err
}

func (r *invitesRepo) GetActiveInviteByTokenHash(ctx context.Context, hash string, now time.Time) (domain.Invite, error) {
	var (
		inv    domain.Invite
		roles  string
		usedBy sql.NullString
	)
	err := r.c.q.QueryRowContext(ctx, `
		SELECT id, token_hash, tenant_id, roles, email, created_by, expires_at,
			reusable, used, used_by, created_at, updated_at
		FROM invites
		WHERE token_hash = ? AND expires_at > ? AND (reusable = 1 OR used = 0)`,
		hash, now.UTC(),
	).Scan(&inv.ID, &inv.TokenHash, &inv.TenantID, &roles, &inv.Email, &inv.CreatedBy, &inv.ExpiresAt,
		&inv.Reusable, &inv.Used, &usedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Invite{}, mapNotFound(err)
	}
	inv.Roles = splitList(roles)
	inv.UsedBy = mapNullString(usedBy)
	return inv, nil
}

func (r *invitesRepo) MarkInviteUsed(ctx context.Context, inviteID, usedByUserID string) error {
	return checkFound(r.c.q.ExecContext(ctx,
		`UPDATE invites SET used = 1, used_by = ?, updated_at = ? WHERE id = ?`,
		nullString(usedByUserID), time.Now().UTC(), inviteID,
	))
}

func (r *invitesRepo) DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(r.c.q.ExecContext(ctx, `DELETE FROM invites WHERE expires_at <= ?`, now.UTC()))
}
