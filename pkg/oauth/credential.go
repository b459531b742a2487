package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is the token record issued by the authorization server.
//
// A Credential is treated as a value: it is replaced wholesale on refresh and
// cleared wholesale on logout. Code that receives a *Credential from a store
// must not modify it.
type Credential struct {
	// Subject identifies the principal bound to the token (e.g. a username).
	Subject string `json:"subject"`

	// AccessToken is the opaque bearer token attached to requests.
	AccessToken string `json:"accessToken"`

	// AccessExpiry is the instant after which AccessToken is invalid.
	AccessExpiry time.Time `json:"accessExpiry"`

	// RefreshToken is presented only to the refresh endpoint.
	RefreshToken string `json:"refreshToken"`

	// RefreshExpiry is the instant after which RefreshToken is invalid.
	RefreshExpiry time.Time `json:"refreshExpiry"`
}

// IsAccessExpired reports whether the access token of c is expired at now.
// The comparison is strict: a token is still usable exactly at its expiry
// instant. A nil credential counts as expired.
func IsAccessExpired(c *Credential, now time.Time) bool {
	if c == nil {
		return true
	}
	return now.After(c.AccessExpiry)
}

// IsRefreshExpired reports whether the refresh token of c is expired at now,
// with the same boundary rule as IsAccessExpired.
func IsRefreshExpired(c *Credential, now time.Time) bool {
	if c == nil {
		return true
	}
	return now.After(c.RefreshExpiry)
}

// Clone returns a copy of c. Cloning nil returns nil.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Equal reports whether both credentials carry the same values.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Subject == other.Subject &&
		c.AccessToken == other.AccessToken &&
		c.AccessExpiry.Equal(other.AccessExpiry) &&
		c.RefreshToken == other.RefreshToken &&
		c.RefreshExpiry.Equal(other.RefreshExpiry)
}

// SameAccessToken reports whether a and b carry the same access token.
// Two nil credentials are the same; nil and non-nil are not.
func SameAccessToken(a, b *Credential) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken
}

// OAuth2Token converts the credential to an oauth2.Token for use with
// golang.org/x/oauth2 based clients.
func (c *Credential) OAuth2Token() *oauth2.Token {
	if c == nil {
		return nil
	}
	token := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.AccessExpiry,
	}
	return token.WithExtra(map[string]interface{}{
		"subject":        c.Subject,
		"refresh_expiry": c.RefreshExpiry,
	})
}
