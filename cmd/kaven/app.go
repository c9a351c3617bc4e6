// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/config"
	"github.com/bychrisr/kaven-cli/internal/installer"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/issue"
	"github.com/bychrisr/kaven-cli/internal/passport"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/registry"
	"github.com/bychrisr/kaven-cli/internal/vault"
)

type (
	// App is the composition root of the CLI. Command handlers receive an
	// App and build the services they need from the loaded configuration;
	// nothing is shared through package state.
	App struct {
		stdout     io.Writer
		stderr     io.Writer
		stdin      io.Reader
		getwd      func() (string, error)
		environ    func() (auth.Environment, error)
		secrets    vault.SecretStore
		vaultDir   string
		httpClient *http.Client

		// set by persistent flags
		verbose bool
		cfgFile string

		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Stdout io.Writer
		Stderr io.Writer
		Stdin  io.Reader
		// Getwd is where the project lookup starts.
		Getwd func() (string, error)
		// Environ reads KAVEN_LICENSE_KEY and KAVEN_ACCESS_TOKEN.
		Environ func() (auth.Environment, error)
		// Secrets replaces the OS secret store.
		Secrets vault.SecretStore
		// VaultDir overrides the directory of the fallback credentials file.
		VaultDir   string
		HTTPClient *http.Client
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	a := &App{
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		stdin:      deps.Stdin,
		getwd:      deps.Getwd,
		environ:    deps.Environ,
		secrets:    deps.Secrets,
		vaultDir:   deps.VaultDir,
		httpClient: deps.HTTPClient,
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	if a.stdin == nil {
		a.stdin = os.Stdin
	}
	if a.getwd == nil {
		a.getwd = os.Getwd
	}
	if a.environ == nil {
		a.environ = auth.LoadEnvironment
	}
	if a.httpClient == nil {
		a.httpClient = http.DefaultClient
	}
	a.logger = a.newLogger(false)
	return a
}

// load reads the configuration once per invocation and sets up logging.
func (a *App) load(ctx context.Context) error {
	if a.cfg != nil {
		return nil
	}
	cfg, path, err := config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(a.cfgFile).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			Build()}
	}
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.cfg, a.cfgPath = cfg, path
	a.logger = a.newLogger(a.verbose)
	a.logger.Debug("configuration loaded", "file", path, "registry", cfg.Registry.Dir)
	return nil
}

func (a *App) newLogger(verbose bool) *log.Logger {
	l := log.NewWithOptions(a.stderr, log.Options{Prefix: "kaven"})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l
}

// stylePath is the glamour style guidance pages are rendered with.
func (a *App) stylePath() string {
	if a.cfg != nil && a.cfg.UI.ColorScheme == config.ColorSchemeLight {
		return "light"
	}
	return "dark"
}

func (a *App) apiClient() *api.Client {
	return api.NewClient(
		api.WithHTTPClient(a.httpClient),
		api.WithBaseURL(a.cfg.API.BaseURL),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(a.cfg.API.Retries),
		api.WithUserAgent("kaven/"+Version),
		api.WithLogger(a.logger),
	)
}

// registry serves releases from registry.dir when configured and from the
// marketplace otherwise.
func (a *App) registry(client *api.Client) registry.Registry {
	if a.cfg.Registry.Dir != "" {
		return registry.NewDir(a.cfg.Registry.Dir)
	}
	return client
}

func (a *App) authManager(client *api.Client) (*auth.Manager, error) {
	opts := []vault.Option{vault.WithLogger(a.logger)}
	if a.secrets != nil {
		opts = append(opts, vault.WithStore(a.secrets))
	}
	if a.vaultDir != "" {
		opts = append(opts, vault.WithDir(a.vaultDir))
	}
	v, err := vault.New(opts...)
	if err != nil {
		return nil, err
	}
	return auth.NewManager(v, client, auth.WithLogger(a.logger)), nil
}

// session builds the identity one install runs with. licenseFlag wins over
// the environment.
func (a *App) session(ctx context.Context, client *api.Client, licenseFlag string) (auth.Session, error) {
	env, err := a.environ()
	if err != nil {
		return auth.Session{}, err
	}
	mgr, err := a.authManager(client)
	if err != nil {
		return auth.Session{}, err
	}
	return mgr.Load(ctx, env, licenseFlag)
}

func (a *App) project() (*project.Project, error) {
	wd, err := a.getwd()
	if err != nil {
		return nil, err
	}
	return project.Find(wd)
}

// installer wires the module manager for proj. The trusted publisher key is
// only required by operations that verify artifacts.
func (a *App) installer(proj *project.Project, client *api.Client) (*installer.Manager, error) {
	verifier, err := integrity.NewVerifier(a.cfg.Trust.PublisherKey, a.logger)
	if err != nil {
		return nil, err
	}
	gate := passport.NewGate(client, passport.WithLogger(a.logger))
	return installer.NewManager(proj, a.registry(client), verifier, gate, installer.WithLogger(a.logger)), nil
}

// localInstaller wires a module manager for operations that never fetch
// artifacts: remove, list and schema generation.
func (a *App) localInstaller(proj *project.Project) *installer.Manager {
	return installer.NewManager(proj, nil, nil, nil, installer.WithLogger(a.logger))
}
