package auth

import (
	"time"
)

// DefaultExpirySkew is subtracted from a token's expiry when judging
// validity, so a token is never presented moments before the provider's
// clock would reject it. See the provider option WithExpirySkew.
const DefaultExpirySkew = 30 * time.Second

// Token is the unified record for every grant kind. It is what the credential
// store persists: one JSON object per environment (or the fixed SSO slot).
// Timestamps are epoch seconds.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	IssuedAt     int64  `json:"issued_at"`
	ExpiresAt    int64  `json:"expires_at"`
	Scope        string `json:"scope,omitempty"`
}

// Valid reports whether the token can still be presented at the given
// instant. A token expiring within the skew margin is already invalid, and a
// token with no expiry information is treated as expired so it is always
// reacquired rather than assumed to live forever.
func (t *Token) Valid(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt == 0 {
		return false
	}
	return now.Unix() < t.ExpiresAt-int64(skew.Seconds())
}

// ExpiresIn returns the remaining lifetime in whole seconds, never negative.
func (t *Token) ExpiresIn(now time.Time) int64 {
	if t == nil {
		return 0
	}
	remaining := t.ExpiresAt - now.Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Type returns the token type to put in the Authorization header, defaulting
// to Bearer when the provider omitted it.
func (t *Token) Type() string {
	if t == nil || t.TokenType == "" {
		return "Bearer"
	}
	return t.TokenType
}
