package domain

import "time"

// Consent records which scopes a user granted a client. It is created lazily on the first consent
// interaction and keyed by (ClientID, UserID).
type Consent struct {
	ClientID  string
	UserID    string
	Scopes    []string
	Consented bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Covers reports whether every requested scope has been granted.
func (c Consent) Covers(scopes []string) bool {
	return c.Consented && ScopesSubset(scopes, c.Scopes)
}

func (c *Consent) Grant(scopes []string) {
	c.Scopes = NormalizeScopes(scopes)
	c.Consented = true
}

func (c *Consent) Revoke() {
	c.Scopes = nil
	c.Consented = false
}
