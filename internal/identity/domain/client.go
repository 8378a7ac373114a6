package domain

import (
	"slices"
	"time"
)

// ClientSecret is a hashed client secret. A nil ExpiresAt never expires.
type ClientSecret struct {
	ID        string
	Hash      string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (s ClientSecret) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Client is an OAuth2 relying party. A public client has no secrets and must use PKCE. A
// confidential client stays confidential when its secrets are removed and then cannot
// authenticate until one is rotated in.
type Client struct {
	ID           string
	Name         string
	RedirectURI  string
	TenantID     string
	Protected    bool
	Confidential bool
	Secrets      []ClientSecret
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

func (c Client) IsPublic() bool { return !c.Confidential }

// RedirectURIMatches performs the exact string comparison required for authorization requests.
func (c Client) RedirectURIMatches(uri string) bool {
	return c.RedirectURI != "" && c.RedirectURI == uri
}

func (c Client) ActiveSecrets(now time.Time) []ClientSecret {
	var out []ClientSecret
	for _, s := range c.Secrets {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) AddSecret(s ClientSecret) {
	c.Secrets = append(c.Secrets, s)
}

func (c *Client) RemoveSecret(id string) bool {
	before := len(c.Secrets)
	c.Secrets = slices.DeleteFunc(c.Secrets, func(s ClientSecret) bool { return s.ID == id })
	return len(c.Secrets) != before
}

func (c Client) Clone() Client {
	out := c
	out.Secrets = slices.Clone(c.Secrets)
	return out
}
