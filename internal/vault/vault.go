// SPDX-License-Identifier: MPL-2.0

package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

type (
	// Credentials is the token pair issued at login plus a user summary.
	Credentials struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         User   `json:"user"`
	}

	// User identifies the logged-in account.
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	// Vault persists Credentials. Reads are safe to run concurrently; the
	// last write wins.
	Vault struct {
		store  SecretStore
		dir    string
		logger *log.Logger
	}

	// Option configures a Vault.
	Option func(*Vault)
)

// WithStore replaces the OS secret store.
func WithStore(s SecretStore) Option {
	return func(v *Vault) { v.store = s }
}

// WithDir sets the fallback directory.
func WithDir(dir string) Option {
	return func(v *Vault) { v.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New returns a Vault backed by the OS secret store with its fallback under
// the user config directory.
func New(opts ...Option) (*Vault, error) {
	v := &Vault{store: NativeStore()}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = log.New(io.Discard)
	}
	if v.dir == "" {
		cfg, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config directory: %w", err)
		}
		v.dir = filepath.Join(cfg, "kaven")
	}
	return v, nil
}

// FallbackPath is where credentials land when the secret store fails.
func (v *Vault) FallbackPath() string { return v.fallbackPath() }

// Save stores c. A secret store failure is not an error as long as the
// fallback file can be written.
func (v *Vault) Save(c Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := v.store.Set(keyringService, keyringAccount, string(data)); err != nil {
		v.logger.Debug("secret store unavailable, using fallback file", "path", v.fallbackPath(), "err", err)
		if err := v.writeFallback(data); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		return nil
	}

	if err := v.removeFallback(); err != nil {
		v.logger.Warn("could not remove stale fallback credentials", "path", v.fallbackPath(), "err", err)
	}
	return nil
}

// Get returns the stored credentials, or nil when none are stored.
func (v *Vault) Get() (*Credentials, error) {
	secret, err := v.store.Get(keyringService, keyringAccount)
	switch {
	case err == nil:
		return decode([]byte(secret))
	case errors.Is(err, ErrSecretNotFound):
	default:
		v.logger.Debug("secret store read failed, trying fallback file", "err", err)
	}

	data, err := v.readFallback()
	if err != nil || data == nil {
		return nil, err
	}
	return decode(data)
}

// Delete removes credentials from both locations. Deleting twice is fine.
// A secret store failure is logged and does not stop the fallback removal.
func (v *Vault) Delete() error {
	if err := v.store.Delete(keyringService, keyringAccount); err != nil && !errors.Is(err, ErrSecretNotFound) {
		v.logger.Warn("could not clear secret store entry", "err", err)
	}
	if err := v.removeFallback(); err != nil {
		return fmt.Errorf("delete fallback credentials: %w", err)
	}
	return nil
}

func decode(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return &c, nil
}
