package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type consentsRepo struct {
	c conn
}

func (r *consentsRepo) GetConsent(ctx context.Context, clientID, userID string) (domain.Consent, error) {
	var (
		c      domain.Consent
		scopes string
	)
	err := r.c.q.QueryRowContext(ctx, `
		SELECT client_id, user_id, scopes, consented, created_at, updated_at, version
		FROM consents WHERE client_id = ? AND user_id = ?`, clientID, userID,
	).Scan(&c.ClientID, &c.UserID, &scopes, &c.Consented, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return domain.Consent{}, mapNotFound(err)
	}
	c.Scopes = splitList(scopes)
	return c, nil
}

func (r *consentsRepo) Save(ctx context.Context, c domain.Consent) (domain.Consent, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if c.Version == 0 {
		_, err := r.c.q.ExecContext(ctx, `
			INSERT INTO consents (client_id, user_id, scopes, consented, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			c.ClientID, c.UserID, joinList(c.Scopes), c.Consented, c.CreatedAt.UTC(), now,
		)
		if isUniqueViolation(err) {
			return domain.Consent{}, store.ErrConflict
		}
		if err != nil {
			return domain.Consent{}, err
		}
	} else {
		err := checkVersion(r.c.q.ExecContext(ctx, `
			UPDATE consents SET scopes = ?, consented = ?, updated_at = ?, version = version + 1
			WHERE client_id = ? AND user_id = ? AND version = ?`,
			joinList(c.Scopes), c.Consented, now, c.ClientID, c.UserID, c.Version,
		))
		if err != nil {
			return domain.Consent{}, err
		}
	}

	c.Version++
	return c, nil
}
