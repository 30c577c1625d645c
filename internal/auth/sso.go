package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// SSOSlot is the fixed identity slot the interactive session is cached
// under. The SSO provider's environment map and its keyring store both key
// on it.
const SSOSlot = "sso"

// SessionState classifies the stored interactive session.
type SessionState int

const (
	// SessionAbsent means no SSO token is stored.
	SessionAbsent SessionState = iota
	// SessionValid means the stored token can still be presented.
	SessionValid
	// SessionExpiredRefreshable means the token expired but holds a refresh
	// token, so the next Acquire will refresh without a browser round trip.
	SessionExpiredRefreshable
	// SessionExpired means the token expired with no refresh token; a full
	// login is required.
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionExpiredRefreshable:
		return "expired (refreshable)"
	case SessionExpired:
		return "expired"
	default:
		return "not logged in"
	}
}

// SessionStatus reports the stored session without touching the network.
type SessionStatus struct {
	State           SessionState
	ExpiresAt       int64
	ExpiresIn       int64
	HasRefreshToken bool
	HasIDToken      bool
}

// SSOManager exposes the user-facing login/logout/status operations over the
// interactive grant. It is built on a TokenProvider whose store is the
// OS-keyring sub-store and whose configuration map carries the SSO slot.
type SSOManager struct {
	provider *TokenProvider
	store    TokenStore
	now      func() time.Time
	skew     time.Duration
}

// NewSSOManager wires the manager to the SSO provider and its keyring store.
func NewSSOManager(provider *TokenProvider, store TokenStore) *SSOManager {
	return &SSOManager{
		provider: provider,
		store:    store,
		now:      time.Now,
		skew:     DefaultExpirySkew,
	}
}

// Login obtains an interactive session token, reusing or refreshing the
// stored one unless force is set. The resulting token is persisted in the
// keyring by the provider's write-through.
func (m *SSOManager) Login(ctx context.Context, force bool) (*Token, error) {
	if force {
		if err := m.provider.Invalidate(ctx, SSOSlot); err != nil {
			return nil, err
		}
	}
	return m.provider.Acquire(ctx, SSOSlot)
}

// Logout deletes the stored session. Token revocation at the identity
// provider is not performed, pending a product decision; the limitation is
// logged so the session may remain live server-side until it expires.
func (m *SSOManager) Logout(ctx context.Context) error {
	log.Info("logging out; token revocation at the identity provider is not performed")
	return m.store.Delete(ctx, SSOSlot)
}

// Status inspects the stored session without any network call.
func (m *SSOManager) Status(ctx context.Context) (*SessionStatus, error) {
	token, err := m.store.Get(ctx, SSOSlot)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &SessionStatus{State: SessionAbsent}, nil
	}

	now := m.now()
	status := &SessionStatus{
		ExpiresAt:       token.ExpiresAt,
		ExpiresIn:       token.ExpiresIn(now),
		HasRefreshToken: token.RefreshToken != "",
		HasIDToken:      token.IDToken != "",
	}
	switch {
	case token.Valid(now, m.skew):
		status.State = SessionValid
	case token.RefreshToken != "":
		status.State = SessionExpiredRefreshable
	default:
		status.State = SessionExpired
	}
	return status, nil
}
