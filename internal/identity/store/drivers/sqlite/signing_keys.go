package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type signingKeysRepo struct {
	c conn
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func scanSigningKey(s scanner) (domain.SigningKey, error) {
	var (
		k       domain.SigningKey
		retired sql.NullTime
	)
	if err := s.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted, &k.CreatedAt, &retired, &k.ExpiresAt); err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	k.RetiredAt = mapNullTimePtr(retired)
	return k, nil
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.c.q.ExecContext(ctx,
		`INSERT INTO signing_keys (`+signingKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted, key.CreatedAt.UTC(),
		nullTime(key.RetiredAt), key.ExpiresAt.UTC(),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	return scanSigningKey(r.c.q.QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid))
}

func (r *signingKeysRepo) list(ctx context.Context, where string) ([]domain.SigningKey, error) {
	rows, err := r.c.q.QueryContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE `+where+` ORDER BY created_at DESC`,
		time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	return r.list(ctx, `retired_at IS NULL AND expires_at > ?`)
}

func (r *signingKeysRepo) ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	return r.list(ctx, `expires_at > ?`)
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string) error {
	return checkFound(r.c.q.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = ? WHERE kid = ? AND retired_at IS NULL`, time.Now().UTC(), kid))
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(r.c.q.ExecContext(ctx, `DELETE FROM signing_keys WHERE expires_at <= ?`, now.UTC()))
}
