// SPDX-License-Identifier: MPL-2.0

// Package auth builds the Session a command runs with. A Session is loaded
// once, up front, and is passed by value through the install pipeline; the
// pipeline never re-reads credentials mid-run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/vault"
)

// expiryLeeway refreshes tokens that are about to expire.
const expiryLeeway = 30 * time.Second

// ErrNotLoggedIn is returned by operations that need stored credentials.
var ErrNotLoggedIn = errors.New("not logged in")

type (
	// Session is the identity of one command invocation. The zero value is
	// an anonymous session without a license key.
	Session struct {
		accessToken string
		user        vault.User
		licenseKey  string
	}

	// CredentialStore persists credentials. *vault.Vault implements it.
	CredentialStore interface {
		Save(vault.Credentials) error
		Get() (*vault.Credentials, error)
		Delete() error
	}

	// TokenService issues and refreshes tokens. *api.Client implements it.
	TokenService interface {
		Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
		Refresh(ctx context.Context, refreshToken string) (*api.AuthResponse, error)
	}

	// Manager loads sessions and performs login and logout.
	Manager struct {
		store  CredentialStore
		tokens TokenService
		now    func() time.Time
		logger *log.Logger
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)
)

// NewSession returns a session for tests and for callers that already hold
// a token. An empty accessToken yields an anonymous session.
func NewSession(accessToken string, user vault.User, licenseKey string) Session {
	return Session{accessToken: accessToken, user: user, licenseKey: strings.TrimSpace(licenseKey)}
}

// Authenticated reports whether the session carries an access token.
func (s Session) Authenticated() bool { return s.accessToken != "" }

// AccessToken returns the bearer token, empty when anonymous.
func (s Session) AccessToken() string { return s.accessToken }

// User returns the logged-in account, zero when anonymous or unknown.
func (s Session) User() vault.User { return s.user }

// LicenseKey returns the license key supplied by flag or environment.
func (s Session) LicenseKey() string { return s.licenseKey }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager over store and tokens.
func NewManager(store CredentialStore, tokens TokenService, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard)
	}
	return m
}

// Load builds the session for one invocation. licenseFlag wins over
// KAVEN_LICENSE_KEY and KAVEN_ACCESS_TOKEN wins over stored credentials.
// Stored access tokens that have expired are refreshed and saved back. A
// refresh the server rejects leaves the session anonymous.
func (m *Manager) Load(ctx context.Context, e Environment, licenseFlag string) (Session, error) {
	key := licenseFlag
	if key == "" {
		key = e.LicenseKey
	}

	if e.AccessToken != "" {
		return NewSession(e.AccessToken, vault.User{}, key), nil
	}

	creds, err := m.store.Get()
	if err != nil {
		return Session{}, fmt.Errorf("reading credentials: %w", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return NewSession("", vault.User{}, key), nil
	}

	if !m.expired(creds.AccessToken) {
		return NewSession(creds.AccessToken, creds.User, key), nil
	}

	if creds.RefreshToken == "" {
		m.logger.Warn("stored session expired; run `kaven auth login`")
		return NewSession("", vault.User{}, key), nil
	}

	refreshed, err := m.tokens.Refresh(ctx, creds.RefreshToken)
	if errors.Is(err, api.ErrUnauthorized) {
		m.logger.Warn("stored session could not be refreshed; run `kaven auth login`")
		return NewSession("", vault.User{}, key), nil
	}
	if err != nil {
		return Session{}, err
	}

	next := credentialsFrom(refreshed)
	if next.User == (vault.User{}) {
		next.User = creds.User
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	if err := m.store.Save(next); err != nil {
		return Session{}, fmt.Errorf("saving refreshed credentials: %w", err)
	}
	m.logger.Debug("access token refreshed", "user", next.User.Email)
	return NewSession(next.AccessToken, next.User, key), nil
}

// Login authenticates and stores the issued credentials.
func (m *Manager) Login(ctx context.Context, email, password string) (vault.User, error) {
	resp, err := m.tokens.Login(ctx, email, password)
	if err != nil {
		return vault.User{}, err
	}
	creds := credentialsFrom(resp)
	if err := m.store.Save(creds); err != nil {
		return vault.User{}, fmt.Errorf("saving credentials: %w", err)
	}
	return creds.User, nil
}

// Logout removes stored credentials. It succeeds when none are stored.
func (m *Manager) Logout() error {
	return m.store.Delete()
}

// Whoami returns the stored user without contacting the marketplace.
func (m *Manager) Whoami() (vault.User, error) {
	creds, err := m.store.Get()
	if err != nil {
		return vault.User{}, err
	}
	if creds == nil {
		return vault.User{}, ErrNotLoggedIn
	}
	return creds.User, nil
}

// expired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens are left for the server to judge.
func (m *Manager) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !m.now().Add(expiryLeeway).Before(exp.Time)
}

func credentialsFrom(r *api.AuthResponse) vault.Credentials {
	return vault.Credentials{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         vault.User{ID: r.User.ID, Email: r.User.Email},
	}
}
