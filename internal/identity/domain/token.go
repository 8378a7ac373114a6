package domain

import "time"

// TokenSet is what every successful authentication returns. IDToken is empty unless the tokens were
// issued to an OAuth2 client.
type TokenSet struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	IDToken          string
	IDExpiresAt      time.Time
	TokenType        string
	Scope            []string
}

// ExpiresIn is the access token lifetime in whole seconds relative to now.
func (t TokenSet) ExpiresIn(now time.Time) int64 {
	d := t.AccessExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
