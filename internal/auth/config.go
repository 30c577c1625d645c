package auth

import "strings"

// GrantKind identifies the OAuth flow used to obtain a token.
type GrantKind string

const (
	GrantClientCredentials     GrantKind = "client_credentials"
	GrantPassword              GrantKind = "password"
	GrantAuthorizationCodePKCE GrantKind = "authorization_code_pkce"
)

// AuthStyle selects how client credentials travel to the token endpoint.
type AuthStyle int

const (
	// AuthStyleInBody embeds client_id/client_secret in the form body.
	AuthStyleInBody AuthStyle = iota
	// AuthStyleInHeader sends the client credentials as HTTP basic auth.
	AuthStyleInHeader
)

// Grant is the closed set of grant variants. Each variant carries exactly
// the fields its flow requires; the unexported validate method keeps the set
// closed to this package.
type Grant interface {
	Kind() GrantKind
	validate(env string) error
}

// ClientCredentialsGrant authenticates the CLI itself against the provider.
type ClientCredentialsGrant struct {
	ClientID     string
	ClientSecret string
}

func (g ClientCredentialsGrant) Kind() GrantKind { return GrantClientCredentials }

func (g ClientCredentialsGrant) validate(env string) error {
	var missing []string
	if g.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if g.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return &ConfigError{Environment: env, Missing: missing}
	}
	return nil
}

// PasswordGrant exchanges resource-owner credentials for a token.
type PasswordGrant struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

func (g PasswordGrant) Kind() GrantKind { return GrantPassword }

func (g PasswordGrant) validate(env string) error {
	var missing []string
	if g.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if g.Username == "" {
		missing = append(missing, "username")
	}
	if g.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return &ConfigError{Environment: env, Missing: missing}
	}
	return nil
}

// AuthorizationCodePKCEGrant drives the interactive browser login. The
// redirect port is a hint; zero means an ephemeral port.
type AuthorizationCodePKCEGrant struct {
	ClientID     string
	AuthorizeURL string
	RedirectPort int
}

func (g AuthorizationCodePKCEGrant) Kind() GrantKind { return GrantAuthorizationCodePKCE }

func (g AuthorizationCodePKCEGrant) validate(env string) error {
	var missing []string
	if g.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if g.AuthorizeURL == "" {
		missing = append(missing, "authorize_url")
	}
	if len(missing) > 0 {
		return &ConfigError{Environment: env, Missing: missing}
	}
	return nil
}

// DefaultScopes is requested when an environment configures none, matching
// the provider defaults the CLI has always used.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// AuthConfig is the fully resolved per-environment configuration handed to
// the core by the surrounding CLI layer. It is immutable for the duration of
// one invocation.
type AuthConfig struct {
	Environment string
	TokenURL    string
	Scopes      []string
	AuthStyle   AuthStyle
	Grant       Grant
}

// Validate checks that the grant variant carries every field its flow needs.
// It runs before any network call.
func (c *AuthConfig) Validate() error {
	if c == nil {
		return &ConfigError{Environment: "", Reason: "configuration is nil"}
	}
	if c.TokenURL == "" {
		return &ConfigError{Environment: c.Environment, Missing: []string{"token_url"}}
	}
	if c.Grant == nil {
		return &ConfigError{Environment: c.Environment, Missing: []string{"grant_type"}}
	}
	return c.Grant.validate(c.Environment)
}

// ScopeString returns the space-joined scope parameter, falling back to
// DefaultScopes.
func (c *AuthConfig) ScopeString() string {
	if len(c.Scopes) == 0 {
		return strings.Join(DefaultScopes, " ")
	}
	return strings.Join(c.Scopes, " ")
}

// ScopeList returns the effective scopes as a slice.
func (c *AuthConfig) ScopeList() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}
