package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type credentialsRepo struct {
	c conn
}

const credentialColumns = `user_id, username, password_hash, registration_token_digest,
	registration_expires_at, registered_at, locked, locked_at, mfa_enabled, mfa_token_digest,
	mfa_token_expires_at, last_authenticated_at, created_at, updated_at, version`

func scanCredential(s scanner) (domain.PersonCredential, error) {
	var (
		c                                  domain.PersonCredential
		passwordHash, regDigest, mfaDigest sql.NullString
		regExp, registeredAt, lockedAt     sql.NullTime
		mfaExp, lastAuth                   sql.NullTime
	)
	err := s.Scan(
		&c.UserID, &c.Username, &passwordHash, &regDigest,
		&regExp, &registeredAt, &c.Locked, &lockedAt, &c.MFAEnabled, &mfaDigest,
		&mfaExp, &lastAuth, &c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		return domain.PersonCredential{}, mapNotFound(err)
	}
	c.PasswordHash = mapNullString(passwordHash)
	c.RegistrationTokenDigest = mapNullString(regDigest)
	c.RegistrationExpiresAt = mapNullTimePtr(regExp)
	c.RegisteredAt = mapNullTimePtr(registeredAt)
	c.LockedAt = mapNullTimePtr(lockedAt)
	c.MFATokenDigest = mapNullString(mfaDigest)
	c.MFATokenExpiresAt = mapNullTimePtr(mfaExp)
	c.LastAuthenticatedAt = mapNullTimePtr(lastAuth)
	return c, nil
}

func (r *credentialsRepo) getBy(ctx context.Context, where string, arg any) (domain.PersonCredential, error) {
	c, err := scanCredential(r.c.q.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM person_credentials WHERE `+where+` = ?`, arg))
	if err != nil {
		return domain.PersonCredential{}, err
	}
	c.Authenticators, err = loadAuthenticators(ctx, r.c.q, c.UserID)
	if err != nil {
		return domain.PersonCredential{}, err
	}
	return c, nil
}

func (r *credentialsRepo) GetByUserID(ctx context.Context, userID string) (domain.PersonCredential, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *credentialsRepo) GetByUsername(ctx context.Context, username string) (domain.PersonCredential, error) {
	return r.getBy(ctx, "username", username)
}

func (r *credentialsRepo) GetByRegistrationToken(ctx context.Context, digest string) (domain.PersonCredential, error) {
	if digest == "" {
		return domain.PersonCredential{}, store.ErrNotFound
	}
	return r.getBy(ctx, "registration_token_digest", digest)
}

func (r *credentialsRepo) GetByMFAToken(ctx context.Context, digest string) (domain.PersonCredential, error) {
	if digest == "" {
		return domain.PersonCredential{}, store.ErrNotFound
	}
	return r.getBy(ctx, "mfa_token_digest", digest)
}

func (r *credentialsRepo) Save(ctx context.Context, c domain.PersonCredential) (domain.PersonCredential, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := r.c.atomic(ctx, func(q querier) error {
		if c.Version == 0 {
			_, err := q.ExecContext(ctx,
				`INSERT INTO person_credentials (`+credentialColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				c.UserID, c.Username, nullString(c.PasswordHash), nullString(c.RegistrationTokenDigest),
				nullTime(c.RegistrationExpiresAt), nullTime(c.RegisteredAt), c.Locked, nullTime(c.LockedAt),
				c.MFAEnabled, nullString(c.MFATokenDigest), nullTime(c.MFATokenExpiresAt),
				nullTime(c.LastAuthenticatedAt), c.CreatedAt.UTC(), now,
			)
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			if err != nil {
				return err
			}
		} else {
			err := checkVersion(q.ExecContext(ctx, `
				UPDATE person_credentials SET
					username = ?, password_hash = ?, registration_token_digest = ?,
					registration_expires_at = ?, registered_at = ?, locked = ?, locked_at = ?,
					mfa_enabled = ?, mfa_token_digest = ?, mfa_token_expires_at = ?,
					last_authenticated_at = ?, updated_at = ?, version = version + 1
				WHERE user_id = ? AND version = ?`,
				c.Username, nullString(c.PasswordHash), nullString(c.RegistrationTokenDigest),
				nullTime(c.RegistrationExpiresAt), nullTime(c.RegisteredAt), c.Locked, nullTime(c.LockedAt),
				c.MFAEnabled, nullString(c.MFATokenDigest), nullTime(c.MFATokenExpiresAt),
				nullTime(c.LastAuthenticatedAt), now,
				c.UserID, c.Version,
			))
			if err != nil {
				return err
			}
		}
		return replaceAuthenticators(ctx, q, c.UserID, c.Authenticators)
	})
	if err != nil {
		return domain.PersonCredential{}, err
	}

	c.Version++
	return c, nil
}

func (r *credentialsRepo) ClearExpiredMFATokens(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(r.c.q.ExecContext(ctx, `
		UPDATE person_credentials
		SET mfa_token_digest = NULL, mfa_token_expires_at = NULL, version = version + 1
		WHERE mfa_token_expires_at IS NOT NULL AND mfa_token_expires_at < ?`, now.UTC()))
}

const authenticatorColumns = `id, type, status, secret_encrypted, channel, oob_code_digest,
	binding_code_digest, challenge_expires_at, recovery_code_digests, created_at, confirmed_at`

func loadAuthenticators(ctx context.Context, q querier, userID string) ([]domain.MFAAuthenticator, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+authenticatorColumns+` FROM mfa_authenticators WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MFAAuthenticator
	for rows.Next() {
		var (
			a                       domain.MFAAuthenticator
			typ, status, recovery   string
			challengeExp, confirmed sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &typ, &status, &a.SecretEncrypted, &a.Channel, &a.OOBCodeDigest,
			&a.BindingCodeDigest, &challengeExp, &recovery, &a.CreatedAt, &confirmed,
		); err != nil {
			return nil, err
		}
		a.Type = domain.AuthenticatorType(typ)
		a.Status = domain.AuthenticatorStatus(status)
		a.ChallengeExpiresAt = mapNullTimePtr(challengeExp)
		a.RecoveryCodeDigests = splitList(recovery)
		a.ConfirmedAt = mapNullTimePtr(confirmed)
		out = append(out, a)
	}
	return out, rows.Err()
}

// replaceAuthenticators rewrites the child rows; the parent version check guards the write.
func replaceAuthenticators(ctx context.Context, q querier, userID string, list []domain.MFAAuthenticator) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM mfa_authenticators WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for i, a := range list {
		_, err := q.ExecContext(ctx,
			`INSERT INTO mfa_authenticators (user_id, position, `+authenticatorColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, i, a.ID, string(a.Type), string(a.Status), a.SecretEncrypted, a.Channel,
			a.OOBCodeDigest, a.BindingCodeDigest, nullTime(a.ChallengeExpiresAt),
			joinList(a.RecoveryCodeDigests), a.CreatedAt.UTC(), nullTime(a.ConfirmedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
