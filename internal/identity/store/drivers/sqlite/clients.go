package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type clientsRepo struct {
	c conn
}

const clientColumns = `id, name, redirect_uri, tenant_id, protected, confidential, created_at, updated_at, version`

func scanClient(s scanner) (domain.Client, error) {
	var c domain.Client
	if err := s.Scan(&c.ID, &c.Name, &c.RedirectURI, &c.TenantID, &c.Protected, &c.Confidential, &c.CreatedAt, &c.UpdatedAt, &c.Version); err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	return c, nil
}

func (r *clientsRepo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	c, err := scanClient(r.c.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err != nil {
		return domain.Client{}, err
	}
	c.Secrets, err = loadSecrets(ctx, r.c.q, c.ID)
	if err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.c.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range clients {
		clients[i].Secrets, err = loadSecrets(ctx, r.c.q, clients[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return clients, nil
}

func (r *clientsRepo) Save(ctx context.Context, c domain.Client) (domain.Client, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := r.c.atomic(ctx, func(q querier) error {
		if c.Version == 0 {
			_, err := q.ExecContext(ctx,
				`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				c.ID, c.Name, c.RedirectURI, c.TenantID, c.Protected, c.Confidential, c.CreatedAt.UTC(), now,
			)
			if isUniqueViolation(err) {
				return store.ErrAlreadyExists
			}
			if err != nil {
				return err
			}
		} else {
			err := checkVersion(q.ExecContext(ctx, `
				UPDATE clients SET name = ?, redirect_uri = ?, tenant_id = ?, protected = ?,
					confidential = ?, updated_at = ?, version = version + 1
				WHERE id = ? AND version = ?`,
				c.Name, c.RedirectURI, c.TenantID, c.Protected, c.Confidential, now, c.ID, c.Version,
			))
			if err != nil {
				return err
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM client_secrets WHERE client_id = ?`, c.ID); err != nil {
			return err
		}
		for _, s := range c.Secrets {
			_, err := q.ExecContext(ctx,
				`INSERT INTO client_secrets (id, client_id, hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
				s.ID, c.ID, s.Hash, nullTime(s.ExpiresAt), s.CreatedAt.UTC(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Client{}, err
	}

	c.Version++
	return c, nil
}

func (r *clientsRepo) DeleteClient(ctx context.Context, id string) error {
	return checkFound(r.c.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id))
}

func loadSecrets(ctx context.Context, q querier, clientID string) ([]domain.ClientSecret, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, hash, expires_at, created_at FROM client_secrets WHERE client_id = ? ORDER BY created_at, id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClientSecret
	for rows.Next() {
		var (
			s   domain.ClientSecret
			exp sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Hash, &exp, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.ExpiresAt = mapNullTimePtr(exp)
		out = append(out, s)
	}
	return out, rows.Err()
}
