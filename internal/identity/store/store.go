package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned by Save when the stored version no longer matches the version the
	// aggregate was loaded with. Callers must not retry blindly.
	ErrConflict = errors.New("store: version conflict")
)

// Store is the root data access interface. Concrete drivers implement it and expose
// sub-repositories so a Tx can hand out the same repos scoped to the transaction.
type Store interface {
	Users() Users
	Profiles() Profiles
	Credentials() Credentials
	Clients() Clients
	Consents() Consents
	Authorizations() Authorizations
	FederatedIdentities() FederatedIdentities
	Invites() Invites
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller MUST Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when the username is taken.
	CreateUser(ctx context.Context, u domain.User) error

	UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) error
}

type Profiles interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	UpsertProfile(ctx context.Context, p domain.Profile) error
}

// Credentials persists the PersonCredential aggregate including its authenticators.
type Credentials interface {
	GetByUserID(ctx context.Context, userID string) (domain.PersonCredential, error)
	GetByUsername(ctx context.Context, username string) (domain.PersonCredential, error)
	GetByRegistrationToken(ctx context.Context, digest string) (domain.PersonCredential, error)
	GetByMFAToken(ctx context.Context, digest string) (domain.PersonCredential, error)

	// Save inserts when Version is zero and otherwise updates only if the stored version still
	// matches. It returns the aggregate with the bumped Version.
	Save(ctx context.Context, c domain.PersonCredential) (domain.PersonCredential, error)

	// ClearExpiredMFATokens drops MFA tokens that expired before now.
	ClearExpiredMFATokens(ctx context.Context, now time.Time) (int64, error)
}

type Clients interface {
	GetClient(ctx context.Context, id string) (domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	Save(ctx context.Context, c domain.Client) (domain.Client, error)
	DeleteClient(ctx context.Context, id string) error
}

type Consents interface {
	GetConsent(ctx context.Context, clientID, userID string) (domain.Consent, error)
	Save(ctx context.Context, c domain.Consent) (domain.Consent, error)
}

type Authorizations interface {
	GetByClientUser(ctx context.Context, clientID, userID string) (domain.Authorization, error)
	GetByClientCode(ctx context.Context, clientID, codeDigest string) (domain.Authorization, error)
	GetByAccessToken(ctx context.Context, digest string) (domain.Authorization, error)
	GetByClientRefreshToken(ctx context.Context, clientID, digest string) (domain.Authorization, error)
	Save(ctx context.Context, a domain.Authorization) (domain.Authorization, error)

	// ClearExpiredCodes drops unexchanged codes that expired before now.
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

type FederatedIdentities interface {
	GetByProviderSubject(ctx context.Context, provider, subject string) (domain.FederatedIdentity, error)
	GetByUserProvider(ctx context.Context, userID, provider string) (domain.FederatedIdentity, error)
	Save(ctx context.Context, f domain.FederatedIdentity) (domain.FederatedIdentity, error)
}

type Invites interface {
	CreateInvite(ctx context.Context, inv domain.Invite) error

	// GetActiveInviteByTokenHash returns a redeemable invite by token hash.
	GetActiveInviteByTokenHash(ctx context.Context, hash string, now time.Time) (domain.Invite, error)

	MarkInviteUsed(ctx context.Context, inviteID, usedByUserID string) error
	DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns non-retired, non-expired keys, newest first.
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys returns every non-expired key, retired ones included, newest first.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	RetireSigningKey(ctx context.Context, kid string) error
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}
