// Package auth owns the OAuth token lifecycle: persistence across two
// storage backends, expiry detection, serialized refresh, and the
// authorization flows that mint new tokens.
package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// ExpirySkew is the safety margin subtracted from a token's expiry so a
// refresh happens before the upstream service rejects the token.
const ExpirySkew = 60 * time.Second

// Record is the persisted token state for one account. A Record is either
// fully present in a store or absent; it is never partially written.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Valid reports whether the access token is usable at the given instant,
// applying the skew margin. A zero expiry means the upstream never reported
// one; such tokens are treated as valid until proven otherwise.
func (r Record) Valid(now time.Time) bool {
	if r.AccessToken == "" {
		return false
	}
	if r.Expiry.IsZero() {
		return true
	}
	return now.Add(ExpirySkew).Before(r.Expiry)
}

// Token converts the record to an oauth2.Token.
func (r Record) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.Expiry,
	}
}

// RecordFromToken builds a Record from an oauth2 token. When the new token
// carries no refresh token the previous one is kept, since Google only
// returns a refresh token on the initial consent.
func RecordFromToken(t *oauth2.Token, prevRefresh string, scopes []string) Record {
	refresh := t.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	return Record{
		AccessToken:  t.AccessToken,
		RefreshToken: refresh,
		Expiry:       t.Expiry.UTC(),
		Scopes:       scopes,
	}
}
