package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

type txStore struct {
	tx *sql.Tx
	c  conn
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx, c: conn{q: tx}}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error                   { return nil }
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users             { return &usersRepo{c: t.c} }
func (t *txStore) Profiles() store.Profiles       { return &profilesRepo{c: t.c} }
func (t *txStore) Credentials() store.Credentials { return &credentialsRepo{c: t.c} }
func (t *txStore) Clients() store.Clients         { return &clientsRepo{c: t.c} }
func (t *txStore) Consents() store.Consents       { return &consentsRepo{c: t.c} }
func (t *txStore) Authorizations() store.Authorizations {
	return &authorizationsRepo{c: t.c}
}
func (t *txStore) FederatedIdentities() store.FederatedIdentities {
	return &federatedIdentitiesRepo{c: t.c}
}
func (t *txStore) Invites() store.Invites         { return &invitesRepo{c: t.c} }
func (t *txStore) SigningKeys() store.SigningKeys { return &signingKeysRepo{c: t.c} }

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx
