package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type federatedIdentitiesRepo struct {
	c conn
}

const federatedColumns = `id, provider, subject, user_id, email, access_token_encrypted,
	refresh_token_encrypted, token_expires_at, created_at, updated_at, version`

func scanFederated(s scanner) (domain.FederatedIdentity, error) {
	var (
		f   domain.FederatedIdentity
		exp sql.NullTime
	)
	err := s.Scan(&f.ID, &f.Provider, &f.Subject, &f.UserID, &f.Email, &f.AccessTokenEncrypted,
		&f.RefreshTokenEncrypted, &exp, &f.CreatedAt, &f.UpdatedAt, &f.Version)
	if err != nil {
		return domain.FederatedIdentity{}, mapNotFound(err)
	}
	f.TokenExpiresAt = mapNullTimePtr(exp)
	return f, nil
}

func (r *federatedIdentitiesRepo) GetByProviderSubject(ctx context.Context, provider, subject string) (domain.FederatedIdentity, error) {
	return scanFederated(r.c.q.QueryRowContext(ctx,
		`SELECT `+federatedColumns+` FROM federated_identities WHERE provider = ? AND subject = ?`, provider, subject))
}

func (r *federatedIdentitiesRepo) GetByUserProvider(ctx context.Context, userID, provider string) (domain.FederatedIdentity, error) {
	return scanFederated(r.c.q.QueryRowContext(ctx,
		`SELECT `+federatedColumns+` FROM federated_identities WHERE user_id = ? AND provider = ?`, userID, provider))
}

func (r *federatedIdentitiesRepo) Save(ctx context.Context, f domain.FederatedIdentity) (domain.FederatedIdentity, error) {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	if f.Version == 0 {
		_, err := r.c.q.ExecContext(ctx,
			`INSERT INTO federated_identities (`+federatedColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			f.ID, f.Provider, f.Subject, f.UserID, f.Email, f.AccessTokenEncrypted,
			f.RefreshTokenEncrypted, nullTime(f.TokenExpiresAt), f.CreatedAt.UTC(), now,
		)
		if isUniqueViolation(err) {
			return domain.FederatedIdentity{}, store.ErrConflict
		}
		if err != nil {
			return domain.FederatedIdentity{}, err
		}
	} else {
		err := checkVersion(r.c.q.ExecContext(ctx, `
			UPDATE federated_identities SET email = ?, access_token_encrypted = ?,
				refresh_token_encrypted = ?, token_expires_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			f.Email, f.AccessTokenEncrypted, f.RefreshTokenEncrypted, nullTime(f.TokenExpiresAt), now,
			f.ID, f.Version,
		))
		if err != nil {
			return domain.FederatedIdentity{}, err
		}
	}

	f.Version++
	return f, nil
}
