package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	c   conn
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every pooled connection to ":memory:" would open its own empty database.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		c:   conn{q: db, db: db},
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Users() store.Users             { return &usersRepo{c: s.c} }
func (s *Store) Profiles() store.Profiles       { return &profilesRepo{c: s.c} }
func (s *Store) Credentials() store.Credentials { return &credentialsRepo{c: s.c} }
func (s *Store) Clients() store.Clients         { return &clientsRepo{c: s.c} }
func (s *Store) Consents() store.Consents       { return &consentsRepo{c: s.c} }
func (s *Store) Authorizations() store.Authorizations {
	return &authorizationsRepo{c: s.c}
}
func (s *Store) FederatedIdentities() store.FederatedIdentities {
	return &federatedIdentitiesRepo{c: s.c}
}
func (s *Store) Invites() store.Invites         { return &invitesRepo{c: s.c} }
func (s *Store) SigningKeys() store.SigningKeys { return &signingKeysRepo{c: s.c} }
