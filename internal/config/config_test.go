package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lmi-cli/lmi/internal/auth"
)

const sampleFile = `
default_environment: prod
environments:
  prod:
    grant_type: client_credentials
    token_url: https://idp.example.com/token
    client_id: lmi-prod
    client_secret: topsecret
    scopes: [read, write]
  staging:
    grant_type: password
    token_url: https://idp.staging.example.com/token
    client_id: lmi-staging
    username: robot
    password: hunter2
    auth_style: header
  sso:
    grant_type: authorization_code_pkce
    token_url: https://idp.example.com/token
    authorize_url: https://idp.example.com/authorize
    client_id: lmi-cli
    redirect_port: 8765
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "environments.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesEnvironments(t *testing.T) {
	file, err := Load(writeConfig(t, sampleFile))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.DefaultEnvironment != "prod" {
		t.Errorf("default environment = %q, want prod", file.DefaultEnvironment)
	}
	if len(file.Environments) != 3 {
		t.Fatalf("environments = %d, want 3", len(file.Environments))
	}

	configs, err := file.AuthConfigs()
	if err != nil {
		t.Fatalf("AuthConfigs() error = %v", err)
	}

	prod := configs["prod"]
	if grant, ok := prod.Grant.(auth.ClientCredentialsGrant); !ok {
		t.Errorf("prod grant = %T, want ClientCredentialsGrant", prod.Grant)
	} else if grant.ClientID != "lmi-prod" || grant.ClientSecret != "topsecret" {
		t.Errorf("prod grant = %+v", grant)
	}
	if !reflect.DeepEqual(prod.Scopes, []string{"read", "write"}) {
		t.Errorf("prod scopes = %v", prod.Scopes)
	}
	if prod.AuthStyle != auth.AuthStyleInBody {
		t.Errorf("prod auth style = %v, want body", prod.AuthStyle)
	}

	staging := configs["staging"]
	if grant, ok := staging.Grant.(auth.PasswordGrant); !ok {
		t.Errorf("staging grant = %T, want PasswordGrant", staging.Grant)
	} else if grant.Username != "robot" || grant.Password != "hunter2" {
		t.Errorf("staging grant = %+v", grant)
	}
	if staging.AuthStyle != auth.AuthStyleInHeader {
		t.Errorf("staging auth style = %v, want header", staging.AuthStyle)
	}

	sso := configs["sso"]
	if grant, ok := sso.Grant.(auth.AuthorizationCodePKCEGrant); !ok {
		t.Errorf("sso grant = %T, want AuthorizationCodePKCEGrant", sso.Grant)
	} else if grant.AuthorizeURL != "https://idp.example.com/authorize" || grant.RedirectPort != 8765 {
		t.Errorf("sso grant = %+v", grant)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file returned nil error")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "environments: [¬")); err == nil {
		t.Fatal("Load() of malformed YAML returned nil error")
	}
}

func TestAuthConfigExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("LMI_TEST_SECRET", "from-env")
	t.Setenv("LMI_TEST_URL", "https://idp.example.com/token")

	env := Environment{
		GrantType:    "client_credentials",
		TokenURL:     "${LMI_TEST_URL}",
		ClientID:     "cli",
		ClientSecret: "${LMI_TEST_SECRET}",
	}
	cfg, err := env.AuthConfig("prod")
	if err != nil {
		t.Fatalf("AuthConfig() error = %v", err)
	}
	if cfg.TokenURL != "https://idp.example.com/token" {
		t.Errorf("token url = %q, want the expanded value", cfg.TokenURL)
	}
	grant := cfg.Grant.(auth.ClientCredentialsGrant)
	if grant.ClientSecret != "from-env" {
		t.Errorf("client secret = %q, want from-env", grant.ClientSecret)
	}
}

func TestAuthConfigDefaultsToClientCredentials(t *testing.T) {
	env := Environment{
		TokenURL:     "https://idp.example.com/token",
		ClientID:     "cli",
		ClientSecret: "s",
	}
	cfg, err := env.AuthConfig("prod")
	if err != nil {
		t.Fatalf("AuthConfig() error = %v", err)
	}
	if cfg.Grant.Kind() != auth.GrantClientCredentials {
		t.Errorf("grant kind = %q, want client_credentials", cfg.Grant.Kind())
	}
}

func TestAuthConfigRejections(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
	}{
		{
			"unknown grant type",
			Environment{
				GrantType: "implicit",
				TokenURL:  "https://idp.example.com/token",
				ClientID:  "cli",
			},
		},
		{
			"unknown auth style",
			Environment{
				GrantType:    "client_credentials",
				TokenURL:     "https://idp.example.com/token",
				ClientID:     "cli",
				ClientSecret: "s",
				AuthStyle:    "query",
			},
		},
		{
			"missing token url",
			Environment{
				GrantType:    "client_credentials",
				ClientID:     "cli",
				ClientSecret: "s",
			},
		},
		{
			"password grant without username",
			Environment{
				GrantType: "password",
				TokenURL:  "https://idp.example.com/token",
				ClientID:  "cli",
				Password:  "pw",
			},
		},
		{
			"pkce grant without authorize url",
			Environment{
				GrantType: "authorization_code_pkce",
				TokenURL:  "https://idp.example.com/token",
				ClientID:  "cli",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.env.AuthConfig("prod")
			var cfgErr *auth.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("AuthConfig() error = %v, want *ConfigError", err)
			}
		})
	}
}

func TestLoadDotenvOverlay(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LMI_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LMI_DOTENV_PROBE", "") // restore after the test
	os.Unsetenv("LMI_DOTENV_PROBE")

	LoadDotenv(dir)
	if got := os.Getenv("LMI_DOTENV_PROBE"); got != "loaded" {
		t.Errorf("LMI_DOTENV_PROBE = %q, want loaded", got)
	}

	// A directory without a .env file is fine.
	LoadDotenv(t.TempDir())
}

func TestLoadDotenvDoesNotOverrideProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LMI_DOTENV_KEEP=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LMI_DOTENV_KEEP", "process")

	LoadDotenv(dir)
	if got := os.Getenv("LMI_DOTENV_KEEP"); got != "process" {
		t.Errorf("LMI_DOTENV_KEEP = %q, want the process value preserved", got)
	}
}
