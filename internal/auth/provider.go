package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lmi-cli/lmi/internal/browser"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenProvider is the single source of valid, ready-to-use tokens. It owns
// grant dispatch, response validation, expiry computation, and the
// write-through to the credential store. One provider serves the environment
// map it was constructed with; the SSO manager runs its own provider against
// the keyring store.
type TokenProvider struct {
	configs map[string]*AuthConfig
	store   TokenStore
	client  *http.Client

	browser      func(url string) error
	now          func() time.Time
	skew         time.Duration
	loginTimeout time.Duration

	group singleflight.Group
}

// ProviderOption customizes a TokenProvider.
type ProviderOption func(*TokenProvider)

// WithHTTPClient replaces the HTTP client used for identity provider calls.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *TokenProvider) { p.client = client }
}

// WithBrowser replaces the browser opener used by the interactive flow.
func WithBrowser(open func(url string) error) ProviderOption {
	return func(p *TokenProvider) { p.browser = open }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *TokenProvider) { p.now = now }
}

// WithExpirySkew overrides the clock-skew margin used when judging validity.
func WithExpirySkew(skew time.Duration) ProviderOption {
	return func(p *TokenProvider) { p.skew = skew }
}

// WithLoginTimeout overrides the interactive login window.
func WithLoginTimeout(timeout time.Duration) ProviderOption {
	return func(p *TokenProvider) { p.loginTimeout = timeout }
}

// NewTokenProvider builds a provider over the resolved per-environment
// configurations and the credential store the caller selected.
func NewTokenProvider(configs map[string]*AuthConfig, store TokenStore, opts ...ProviderOption) *TokenProvider {
	p := &TokenProvider{
		configs:      configs,
		store:        store,
		client:       &http.Client{Timeout: 30 * time.Second},
		browser:      browser.OpenURL,
		now:          time.Now,
		skew:         DefaultExpirySkew,
		loginTimeout: DefaultLoginTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the resolved configuration for an environment.
func (p *TokenProvider) Config(env string) (*AuthConfig, bool) {
	cfg, ok := p.configs[env]
	return cfg, ok
}

// Acquire returns a valid token for the environment: the cached one when it
// is still valid, a refreshed one when the cache holds a refresh token, and
// otherwise a freshly acquired token per the configured grant. Concurrent
// calls for the same environment collapse into one acquisition.
func (p *TokenProvider) Acquire(ctx context.Context, env string) (*Token, error) {
	cfg, ok := p.configs[env]
	if !ok {
		return nil, &ConfigError{Environment: env, Reason: "unknown environment"}
	}

	v, err, _ := p.group.Do(env, func() (interface{}, error) {
		return p.acquire(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

func (p *TokenProvider) acquire(ctx context.Context, cfg *AuthConfig) (*Token, error) {
	cached, err := p.store.Get(ctx, cfg.Environment)
	if err != nil {
		return nil, err
	}
	if cached.Valid(p.now(), p.skew) {
		log.Debugf("using cached token for environment %q", cfg.Environment)
		return cached, nil
	}

	if cached != nil && cached.RefreshToken != "" {
		refreshed, errRefresh := p.refresh(ctx, cfg, cached)
		if errRefresh == nil {
			return refreshed, nil
		}
		var refreshFailed *RefreshFailedError
		if !errors.As(errRefresh, &refreshFailed) {
			return nil, errRefresh
		}
		log.Warnf("refresh rejected for environment %q, acquiring a new token", cfg.Environment)
	}

	fresh, err := p.acquireNew(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err = p.store.Put(ctx, cfg.Environment, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Refresh exchanges the cached refresh token for a new token. When the
// identity provider rejects it the cached record is deleted and a
// *RefreshFailedError tells the caller a full login is required.
func (p *TokenProvider) Refresh(ctx context.Context, env string) (*Token, error) {
	cfg, ok := p.configs[env]
	if !ok {
		return nil, &ConfigError{Environment: env, Reason: "unknown environment"}
	}
	cached, err := p.store.Get(ctx, env)
	if err != nil {
		return nil, err
	}
	return p.refresh(ctx, cfg, cached)
}

// Invalidate deletes the cached record unconditionally. The executor calls
// it after an authorization failure from a protected API call.
func (p *TokenProvider) Invalidate(ctx context.Context, env string) error {
	log.Debugf("invalidating cached token for environment %q", env)
	return p.store.Delete(ctx, env)
}

func (p *TokenProvider) refresh(ctx context.Context, cfg *AuthConfig, cached *Token) (*Token, error) {
	if cached == nil || cached.RefreshToken == "" {
		return nil, &RefreshFailedError{
			Environment: cfg.Environment,
			Err:         errors.New("no refresh token cached"),
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debugf("refreshing token for environment %q", cfg.Environment)
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cached.RefreshToken},
	}
	clientID, clientSecret := grantClient(cfg.Grant)
	fresh, err := p.postTokenForm(ctx, cfg, form, clientID, clientSecret)
	if err != nil {
		var idpErr *IdpError
		if errors.As(err, &idpErr) {
			if errDelete := p.store.Delete(ctx, cfg.Environment); errDelete != nil {
				log.Warnf("delete rejected token record for %q: %v", cfg.Environment, errDelete)
			}
			return nil, &RefreshFailedError{Environment: cfg.Environment, Err: err}
		}
		return nil, err
	}

	// Providers may omit the rotation fields; keep the previous ones so the
	// session stays refreshable.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cached.RefreshToken
	}
	if fresh.IDToken == "" {
		fresh.IDToken = cached.IDToken
	}

	if err = p.store.Put(ctx, cfg.Environment, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (p *TokenProvider) acquireNew(ctx context.Context, cfg *AuthConfig) (*Token, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch g := cfg.Grant.(type) {
	case ClientCredentialsGrant:
		log.Infof("requesting token from %s for environment %q (client_credentials)", cfg.TokenURL, cfg.Environment)
		form := url.Values{
			"grant_type": {"client_credentials"},
			"scope":      {cfg.ScopeString()},
		}
		return p.postTokenForm(ctx, cfg, form, g.ClientID, g.ClientSecret)
	case PasswordGrant:
		log.Infof("requesting token from %s for environment %q (password)", cfg.TokenURL, cfg.Environment)
		form := url.Values{
			"grant_type": {"password"},
			"username":   {g.Username},
			"password":   {g.Password},
			"scope":      {cfg.ScopeString()},
		}
		return p.postTokenForm(ctx, cfg, form, g.ClientID, g.ClientSecret)
	case AuthorizationCodePKCEGrant:
		return p.loginPKCE(ctx, cfg, g)
	default:
		return nil, &ConfigError{
			Environment: cfg.Environment,
			Reason:      fmt.Sprintf("unsupported grant kind %q", cfg.Grant.Kind()),
		}
	}
}

// postTokenForm performs one form-encoded POST against the token endpoint
// and validates the response into a Token. An absent expires_in leaves the
// token immediately stale rather than implying an infinite lifetime.
func (p *TokenProvider) postTokenForm(ctx context.Context, cfg *AuthConfig, form url.Values, clientID, clientSecret string) (*Token, error) {
	switch cfg.AuthStyle {
	case AuthStyleInHeader:
		// Credentials travel as HTTP basic auth, not in the body.
	default:
		form.Set("client_id", clientID)
		if clientSecret != "" {
			form.Set("client_secret", clientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("lmi auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if cfg.AuthStyle == AuthStyleInHeader {
		req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: cfg.TokenURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: cfg.TokenURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, idpErrorFromBody(resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &IdpError{StatusCode: resp.StatusCode, Description: "malformed token response"}
	}
	if tokenResp.AccessToken == "" {
		return nil, &IdpError{StatusCode: resp.StatusCode, Description: "response missing access_token"}
	}

	issued := p.now().Unix()
	tokenType := tokenResp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		TokenType:    tokenType,
		IssuedAt:     issued,
		ExpiresAt:    issued + tokenResp.ExpiresIn,
		Scope:        tokenResp.Scope,
	}, nil
}

// loginPKCE runs the interactive authorization-code flow: callback listener,
// browser, state check, code exchange. The listener is torn down on every
// exit path.
func (p *TokenProvider) loginPKCE(ctx context.Context, cfg *AuthConfig, g AuthorizationCodePKCEGrant) (*Token, error) {
	codes, err := GeneratePKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	server := NewCallbackServer(g.RedirectPort)
	if err = server.Start(); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if errStop := server.Stop(stopCtx); errStop != nil {
			log.Warnf("callback server stop: %v", errStop)
		}
	}()

	conf := &oauth2.Config{
		ClientID:    g.ClientID,
		RedirectURL: server.RedirectURI(),
		Scopes:      cfg.ScopeList(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   g.AuthorizeURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	log.Infof("opening browser for interactive login (environment %q)", cfg.Environment)
	if err = p.browser(authURL); err != nil {
		log.Warnf("failed to open browser automatically: %v", err)
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	}

	result, err := server.Wait(ctx, p.loginTimeout)
	if err != nil {
		return nil, err
	}
	if result.Err != "" {
		return nil, &IdpError{StatusCode: http.StatusBadRequest, Code: result.Err}
	}
	if subtle.ConstantTimeCompare([]byte(result.State), []byte(state)) != 1 {
		return nil, ErrStateMismatch
	}
	if result.Code == "" {
		return nil, &IdpError{StatusCode: http.StatusBadRequest, Description: "callback missing authorization code"}
	}

	log.Debug("authorization code received, exchanging for tokens")
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.client)
	exchanged, err := conf.Exchange(exchangeCtx, result.Code, oauth2.VerifierOption(codes.CodeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, idpErrorFromRetrieve(retrieveErr)
		}
		return nil, &NetworkError{URL: cfg.TokenURL, Err: err}
	}

	issued := p.now().Unix()
	expiresAt := issued // stale unless the provider stated a lifetime
	if !exchanged.Expiry.IsZero() {
		expiresAt = exchanged.Expiry.Unix()
	}
	idToken, _ := exchanged.Extra("id_token").(string)
	scope, _ := exchanged.Extra("scope").(string)
	return &Token{
		AccessToken:  exchanged.AccessToken,
		RefreshToken: exchanged.RefreshToken,
		IDToken:      idToken,
		TokenType:    exchanged.Type(),
		IssuedAt:     issued,
		ExpiresAt:    expiresAt,
		Scope:        scope,
	}, nil
}

// grantClient extracts the client credentials a refresh request should
// present for the configured grant variant.
func grantClient(g Grant) (clientID, clientSecret string) {
	switch grant := g.(type) {
	case ClientCredentialsGrant:
		return grant.ClientID, grant.ClientSecret
	case PasswordGrant:
		return grant.ClientID, grant.ClientSecret
	case AuthorizationCodePKCEGrant:
		// Public client, no secret.
		return grant.ClientID, ""
	}
	return "", ""
}

// idpErrorFromBody maps a non-2xx token endpoint response onto an IdpError,
// pulling the OAuth error fields out of the JSON payload when present.
func idpErrorFromBody(status int, body []byte) *IdpError {
	idpErr := &IdpError{
		StatusCode:  status,
		Code:        gjson.GetBytes(body, "error").String(),
		Description: gjson.GetBytes(body, "error_description").String(),
	}
	if idpErr.Code == "" && idpErr.Description == "" {
		idpErr.Description = strings.TrimSpace(string(body))
	}
	return idpErr
}

func idpErrorFromRetrieve(err *oauth2.RetrieveError) *IdpError {
	idpErr := &IdpError{
		Code:        err.ErrorCode,
		Description: err.ErrorDescription,
	}
	if err.Response != nil {
		idpErr.StatusCode = err.Response.StatusCode
	}
	if idpErr.Code == "" && idpErr.Description == "" {
		idpErr.Description = strings.TrimSpace(string(err.Body))
	}
	return idpErr
}
