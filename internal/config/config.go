// Package config turns the lmi environments file into the resolved
// auth.AuthConfig objects the core consumes. It is deliberately thin: one
// concrete YAML file plus a dotenv overlay for secrets, not a generic
// configuration layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/lmi-cli/lmi/internal/auth"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment is the on-disk shape of one environment entry. String fields
// support ${VAR} expansion so secrets can live in the process environment or
// the dotenv overlay instead of the file.
type Environment struct {
	GrantType    string   `yaml:"grant_type"`
	TokenURL     string   `yaml:"token_url"`
	AuthorizeURL string   `yaml:"authorize_url,omitempty"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Username     string   `yaml:"username,omitempty"`
	Password     string   `yaml:"password,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	RedirectPort int      `yaml:"redirect_port,omitempty"`
	AuthStyle    string   `yaml:"auth_style,omitempty"` // "body" (default) or "header"
}

// File is the parsed environments file.
type File struct {
	DefaultEnvironment string                 `yaml:"default_environment"`
	Environments       map[string]Environment `yaml:"environments"`
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("lmi config: resolve config dir: %w", err)
	}
	return filepath.Join(base, "lmi"), nil
}

// LoadDotenv overlays the main .env file from the configuration directory
// onto the process environment. A missing file is fine.
func LoadDotenv(configDir string) {
	path := filepath.Join(configDir, ".env")
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("load %s: %v", path, err)
		}
		return
	}
	log.Debugf("loaded environment overlay from %s", path)
}

// Load parses the environments file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lmi config: read %s: %w", path, err)
	}
	var file File
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("lmi config: parse %s: %w", path, err)
	}
	return &file, nil
}

// AuthConfigs resolves every environment entry into the immutable
// configuration objects handed to the token provider.
func (f *File) AuthConfigs() (map[string]*auth.AuthConfig, error) {
	configs := make(map[string]*auth.AuthConfig, len(f.Environments))
	for name, env := range f.Environments {
		cfg, err := env.AuthConfig(name)
		if err != nil {
			return nil, err
		}
		configs[name] = cfg
	}
	return configs, nil
}

// AuthConfig resolves one environment entry, expanding ${VAR} references and
// selecting the grant variant for the configured kind.
func (e Environment) AuthConfig(name string) (*auth.AuthConfig, error) {
	clientID := os.ExpandEnv(e.ClientID)
	clientSecret := os.ExpandEnv(e.ClientSecret)

	var grant auth.Grant
	switch auth.GrantKind(e.GrantType) {
	case auth.GrantClientCredentials, "":
		grant = auth.ClientCredentialsGrant{
			ClientID:     clientID,
			ClientSecret: clientSecret,
		}
	case auth.GrantPassword:
		grant = auth.PasswordGrant{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Username:     os.ExpandEnv(e.Username),
			Password:     os.ExpandEnv(e.Password),
		}
	case auth.GrantAuthorizationCodePKCE:
		grant = auth.AuthorizationCodePKCEGrant{
			ClientID:     clientID,
			AuthorizeURL: os.ExpandEnv(e.AuthorizeURL),
			RedirectPort: e.RedirectPort,
		}
	default:
		return nil, &auth.ConfigError{
			Environment: name,
			Reason:      fmt.Sprintf("unknown grant_type %q", e.GrantType),
		}
	}

	style := auth.AuthStyleInBody
	switch e.AuthStyle {
	case "", "body":
	case "header":
		style = auth.AuthStyleInHeader
	default:
		return nil, &auth.ConfigError{
			Environment: name,
			Reason:      fmt.Sprintf("unknown auth_style %q", e.AuthStyle),
		}
	}

	cfg := &auth.AuthConfig{
		Environment: name,
		TokenURL:    os.ExpandEnv(e.TokenURL),
		Scopes:      e.Scopes,
		AuthStyle:   style,
		Grant:       grant,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
