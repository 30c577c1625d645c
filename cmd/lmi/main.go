// Command lmi is the thin CLI surface over the token orchestration core:
// login, logout, status, and token printing for scripting. Configuration is
// resolved once per invocation from the environments file plus a dotenv
// overlay and handed to the core as immutable per-environment objects.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/lmi-cli/lmi/internal/auth"
	"github.com/lmi-cli/lmi/internal/browser"
	"github.com/lmi-cli/lmi/internal/buildinfo"
	"github.com/lmi-cli/lmi/internal/config"
	"github.com/lmi-cli/lmi/internal/logging"
	"github.com/lmi-cli/lmi/internal/store"
	"github.com/lmi-cli/lmi/internal/util"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		login      bool
		logout     bool
		status     bool
		printToken bool
		version    bool
		force      bool
		verbose    bool
		envName    string
		configPath string
	)
	flag.BoolVar(&login, "login", false, "log in (interactive for the SSO environment)")
	flag.BoolVar(&logout, "logout", false, "log out and clear the stored session")
	flag.BoolVar(&status, "status", false, "show authentication status")
	flag.BoolVar(&printToken, "print-token", false, "print a valid access token for scripting")
	flag.BoolVar(&version, "version", false, "print version information")
	flag.BoolVar(&force, "force", false, "force re-authentication even when a session exists")
	flag.BoolVar(&verbose, "v", false, "enable debug logging")
	flag.StringVar(&envName, "env", "", "environment name (defaults to the configured default)")
	flag.StringVar(&configPath, "config", "", "path to the environments file")
	flag.Parse()

	if version {
		fmt.Printf("lmi %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logging.Setup(logging.DefaultDir(), level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(configPath, envName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	switch {
	case login:
		err = app.login(ctx, force)
	case logout:
		err = app.logout(ctx)
	case status:
		err = app.status(ctx)
	case printToken:
		err = app.printToken(ctx)
	default:
		fmt.Printf("lmi %s (%s, built %s)\n\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		flag.Usage()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Fatal("interrupted")
		}
		log.Fatalf("%v", err)
	}
}

// app wires the per-invocation dependencies: one provider over the
// file-backed service store, and one provider plus session manager over the
// keyring SSO store.
type app struct {
	env      string
	provider *auth.TokenProvider
	sso      *auth.SSOManager
}

func newApp(configPath, envName string) (*app, error) {
	configDir, err := config.DefaultDir()
	if err != nil {
		return nil, err
	}
	config.LoadDotenv(configDir)

	if configPath == "" {
		configPath = filepath.Join(configDir, "environments.yaml")
	}
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	configs, err := file.AuthConfigs()
	if err != nil {
		return nil, err
	}

	if envName == "" {
		envName = file.DefaultEnvironment
	}
	if envName == "" {
		envName = auth.SSOSlot
	}

	cacheDir, err := store.DefaultDir()
	if err != nil {
		return nil, err
	}
	httpClient := util.NewHTTPClient(os.Getenv("LMI_PROXY"), 30*time.Second)

	serviceProvider := auth.NewTokenProvider(configs, store.NewFileStore(cacheDir),
		auth.WithHTTPClient(httpClient))

	ssoConfigs := map[string]*auth.AuthConfig{}
	if cfg, ok := configs[auth.SSOSlot]; ok {
		ssoConfigs[auth.SSOSlot] = cfg
	}
	keyringStore := store.NewKeyringStore()
	ssoProvider := auth.NewTokenProvider(ssoConfigs, keyringStore,
		auth.WithHTTPClient(httpClient))

	return &app{
		env:      envName,
		provider: serviceProvider,
		sso:      auth.NewSSOManager(ssoProvider, keyringStore),
	}, nil
}

func (a *app) login(ctx context.Context, force bool) error {
	if a.env == auth.SSOSlot {
		if !force {
			current, err := a.sso.Status(ctx)
			if err != nil {
				return err
			}
			if current.State == auth.SessionValid {
				fmt.Println("Already logged in. Use -force to re-authenticate.")
				return nil
			}
		}
		if !browser.IsAvailable() {
			log.Warn("no browser available; the login URL will be printed instead")
		}
		token, err := a.sso.Login(ctx, force)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully logged in; session valid until %s\n",
			time.Unix(token.ExpiresAt, 0).Format(time.RFC1123))
		return nil
	}

	if force {
		if err := a.provider.Invalidate(ctx, a.env); err != nil {
			return err
		}
	}
	token, err := a.provider.Acquire(ctx, a.env)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully authenticated for environment %q; token valid until %s\n",
		a.env, time.Unix(token.ExpiresAt, 0).Format(time.RFC1123))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if a.env == auth.SSOSlot {
		if err := a.sso.Logout(ctx); err != nil {
			return err
		}
	} else if err := a.provider.Invalidate(ctx, a.env); err != nil {
		return err
	}
	fmt.Println("Successfully logged out")
	return nil
}

func (a *app) status(ctx context.Context) error {
	if a.env != auth.SSOSlot {
		cfg, ok := a.provider.Config(a.env)
		if !ok {
			return &auth.ConfigError{Environment: a.env, Reason: "unknown environment"}
		}
		fmt.Printf("Environment:   %s\n", a.env)
		fmt.Printf("Grant type:    %s\n", cfg.Grant.Kind())
		return nil
	}

	s, err := a.sso.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Login status:  %s\n", s.State)
	if s.State == auth.SessionAbsent {
		return nil
	}
	fmt.Printf("Expires at:    %s\n", time.Unix(s.ExpiresAt, 0).Format(time.RFC1123))
	fmt.Printf("Expires in:    %d minutes\n", s.ExpiresIn/60)
	fmt.Printf("Refresh token: %t\n", s.HasRefreshToken)
	fmt.Printf("ID token:      %t\n", s.HasIDToken)
	return nil
}

func (a *app) printToken(ctx context.Context) error {
	provider := a.provider
	if a.env == auth.SSOSlot {
		token, err := a.sso.Login(ctx, false)
		if err != nil {
			return err
		}
		fmt.Println(token.AccessToken)
		return nil
	}
	token, err := provider.Acquire(ctx, a.env)
	if err != nil {
		return err
	}
	fmt.Println(token.AccessToken)
	return nil
}
