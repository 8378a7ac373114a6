package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type authorizationsRepo struct {
	c conn
}

const authorizationColumns = `id, client_id, user_id, scopes, nonce, state, redirect_uri,
	code_challenge, code_challenge_method, code_digest, code_expires_at, code_exchanged_at,
	access_token_digest, access_expires_at, refresh_token_digest, refresh_expires_at,
	created_at, updated_at, version`

func scanAuthorization(s scanner) (domain.Authorization, error) {
	var (
		a                                           domain.Authorization
		scopes                                      string
		codeDigest, accessDigest, refreshDigest     sql.NullString
		codeExp, exchangedAt, accessExp, refreshExp sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.ClientID, &a.UserID, &scopes, &a.Nonce, &a.State, &a.RedirectURI,
		&a.CodeChallenge, &a.CodeChallengeMethod, &codeDigest, &codeExp, &exchangedAt,
		&accessDigest, &accessExp, &refreshDigest, &refreshExp,
		&a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return domain.Authorization{}, mapNotFound(err)
	}
	a.Scopes = splitList(scopes)
	a.CodeDigest = mapNullString(codeDigest)
	a.CodeExpiresAt = mapNullTimePtr(codeExp)
	a.CodeExchangedAt = mapNullTimePtr(exchangedAt)
	a.AccessTokenDigest = mapNullString(accessDigest)
	a.AccessExpiresAt = mapNullTimePtr(accessExp)
	a.RefreshTokenDigest = mapNullString(refreshDigest)
	a.RefreshExpiresAt = mapNullTimePtr(refreshExp)
	return a, nil
}

func (r *authorizationsRepo) get(ctx context.Context, where string, args ...any) (domain.Authorization, error) {
	return scanAuthorization(r.c.q.QueryRowContext(ctx,
		`SELECT `+authorizationColumns+` FROM authorizations WHERE `+where, args...))
}

func (r *authorizationsRepo) GetByClientUser(ctx context.Context, clientID, userID string) (domain.Authorization, error) {
	return r.get(ctx, `client_id = ? AND user_id = ?`, clientID, userID)
}

func (r *authorizationsRepo) GetByClientCode(ctx context.Context, clientID, codeDigest string) (domain.Authorization, error) {
	if codeDigest == "" {
		return domain.Authorization{}, store.ErrNotFound
	}
	return r.get(ctx, `client_id = ? AND code_digest = ?`, clientID, codeDigest)
}

func (r *authorizationsRepo) GetByAccessToken(ctx context.Context, digest string) (domain.Authorization, error) {
	if digest == "" {
		return domain.Authorization{}, store.ErrNotFound
	}
	return r.get(ctx, `access_token_digest = ?`, digest)
}

func (r *authorizationsRepo) GetByClientRefreshToken(ctx context.Context, clientID, digest string) (domain.Authorization, error) {
	if digest == "" {
		return domain.Authorization{}, store.ErrNotFound
	}
	return r.get(ctx, `client_id = ? AND refresh_token_digest = ?`, clientID, digest)
}

func (r *authorizationsRepo) Save(ctx context.Context, a domain.Authorization) (domain.Authorization, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if a.Version == 0 {
		_, err := r.c.q.ExecContext(ctx,
			`INSERT INTO authorizations (`+authorizationColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			a.ID, a.ClientID, a.UserID, joinList(a.Scopes), a.Nonce, a.State, a.RedirectURI,
			a.CodeChallenge, a.CodeChallengeMethod, nullString(a.CodeDigest), nullTime(a.CodeExpiresAt),
			nullTime(a.CodeExchangedAt), nullString(a.AccessTokenDigest), nullTime(a.AccessExpiresAt),
			nullString(a.RefreshTokenDigest), nullTime(a.RefreshExpiresAt), a.CreatedAt.UTC(), now,
		)
		if isUniqueViolation(err) {
			return domain.Authorization{}, store.ErrConflict
		}
		if err != nil {
			return domain.Authorization{}, err
		}
	} else {
		err := checkVersion(r.c.q.ExecContext(ctx, `
			UPDATE authorizations SET
				scopes = ?, nonce = ?, state = ?, redirect_uri = ?,
				code_challenge = ?, code_challenge_method = ?, code_digest = ?, code_expires_at = ?,
				code_exchanged_at = ?, access_token_digest = ?, access_expires_at = ?,
				refresh_token_digest = ?, refresh_expires_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			joinList(a.Scopes), a.Nonce, a.State, a.RedirectURI,
			a.CodeChallenge, a.CodeChallengeMethod, nullString(a.CodeDigest), nullTime(a.CodeExpiresAt),
			nullTime(a.CodeExchangedAt), nullString(a.AccessTokenDigest), nullTime(a.AccessExpiresAt),
			nullString(a.RefreshTokenDigest), nullTime(a.RefreshExpiresAt), now,
			a.ID, a.Version,
		))
		if err != nil {
			return domain.Authorization{}, err
		}
	}

	a.Version++
	return a, nil
}

func (r *authorizationsRepo) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(r.c.q.ExecContext(ctx, `
		UPDATE authorizations
		SET code_digest = NULL, code_expires_at = NULL, version = version + 1
		WHERE code_exchanged_at IS NULL AND code_expires_at IS NOT NULL AND code_expires_at < ?`, now.UTC()))
}
