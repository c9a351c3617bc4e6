// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/vault"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTokens struct {
	refreshErr error
	refreshed  int
}

func (f *fakeTokens) Login(_ context.Context, email, password string) (*api.AuthResponse, error) {
	if password != "hunter2" {
		return nil, api.ErrUnauthorized
	}
	return &api.AuthResponse{AccessToken: "a1", RefreshToken: "r1", User: api.AuthUser{ID: "u1", Email: email}}, nil
}

func (f *fakeTokens) Refresh(_ context.Context, refreshToken string) (*api.AuthResponse, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &api.AuthResponse{AccessToken: "fresh-" + refreshToken}, nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "u1"}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(vault.WithStore(vault.NewMemoryStore()), vault.WithDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoadAnonymous(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestVault(t), &fakeTokens{})
	s, err := m.Load(context.Background(), Environment{LicenseKey: "KVN-AAAA-BBBB-CCCC"}, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Authenticated() {
		t.Error("Authenticated() = true, want false")
	}
	if s.LicenseKey() != "KVN-AAAA-BBBB-CCCC" {
		t.Errorf("LicenseKey() = %q", s.LicenseKey())
	}
}

func TestLoadLicenseFlagWins(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestVault(t), &fakeTokens{})
	s, err := m.Load(context.Background(), Environment{LicenseKey: "ENV-AAAA-BBBB-CCCC"}, "FLAG-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatal(err)
	}
	if s.LicenseKey() != "FLAG-AAAA-BBBB-CCCC" {
		t.Errorf("LicenseKey() = %q, want the flag value", s.LicenseKey())
	}
}

func TestLoadEnvironmentToken(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	if err := store.Save(vault.Credentials{AccessToken: "stored"}); err != nil {
		t.Fatal(err)
	}
	s, err := NewManager(store, &fakeTokens{}).Load(context.Background(), Environment{AccessToken: "ci-token"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.AccessToken() != "ci-token" {
		t.Errorf("AccessToken() = %q, want ci-token", s.AccessToken())
	}
}

func TestLoadValidToken(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	tok := signedToken(t, testNow.Add(time.Hour))
	if err := store.Save(vault.Credentials{AccessToken: tok, RefreshToken: "r", User: vault.User{Email: "dev@acme.io"}}); err != nil {
		t.Fatal(err)
	}
	tokens := &fakeTokens{}
	s, err := NewManager(store, tokens, WithClock(func() time.Time { return testNow })).Load(context.Background(), Environment{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.AccessToken() != tok || s.User().Email != "dev@acme.io" {
		t.Errorf("session = %+v", s)
	}
	if tokens.refreshed != 0 {
		t.Errorf("refreshed %d times, want 0", tokens.refreshed)
	}
}

func TestLoadRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	if err := store.Save(vault.Credentials{
		AccessToken:  signedToken(t, testNow.Add(-time.Minute)),
		RefreshToken: "r1",
		User:         vault.User{ID: "u1", Email: "dev@acme.io"},
	}); err != nil {
		t.Fatal(err)
	}
	tokens := &fakeTokens{}
	s, err := NewManager(store, tokens, WithClock(func() time.Time { return testNow })).Load(context.Background(), Environment{}, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.AccessToken() != "fresh-r1" {
		t.Errorf("AccessToken() = %q, want fresh-r1", s.AccessToken())
	}

	saved, err := store.Get()
	if err != nil {
		t.Fatal(err)
	}
	want := vault.Credentials{AccessToken: "fresh-r1", RefreshToken: "r1", User: vault.User{ID: "u1", Email: "dev@acme.io"}}
	if *saved != want {
		t.Errorf("saved credentials = %+v, want %+v", *saved, want)
	}
}

func TestLoadRejectedRefreshIsAnonymous(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	if err := store.Save(vault.Credentials{AccessToken: signedToken(t, testNow.Add(-time.Hour)), RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}
	tokens := &fakeTokens{refreshErr: &api.StatusError{StatusCode: 401}}
	s, err := NewManager(store, tokens, WithClock(func() time.Time { return testNow })).Load(context.Background(), Environment{}, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Authenticated() {
		t.Error("Authenticated() = true after rejected refresh")
	}
}

func TestLoadOpaqueTokenIsNotRefreshed(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	if err := store.Save(vault.Credentials{AccessToken: "opaque", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}
	tokens := &fakeTokens{}
	s, err := NewManager(store, tokens).Load(context.Background(), Environment{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.AccessToken() != "opaque" || tokens.refreshed != 0 {
		t.Errorf("AccessToken() = %q, refreshed = %d", s.AccessToken(), tokens.refreshed)
	}
}

func TestLoginLogout(t *testing.T) {
	t.Parallel()

	store := newTestVault(t)
	m := NewManager(store, &fakeTokens{})

	if _, err := m.Login(context.Background(), "dev@acme.io", "nope"); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("Login() with bad password error = %v", err)
	}
	if _, err := m.Whoami(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Whoami() before login error = %v, want ErrNotLoggedIn", err)
	}

	user, err := m.Login(context.Background(), "dev@acme.io", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Email != "dev@acme.io" {
		t.Errorf("Login() user = %+v", user)
	}
	if got, err := m.Whoami(); err != nil || got != user {
		t.Errorf("Whoami() = %+v, %v", got, err)
	}

	if err := m.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := m.Logout(); err != nil {
		t.Fatalf("second Logout() error = %v", err)
	}
	if _, err := m.Whoami(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Whoami() after logout error = %v", err)
	}
}

func TestEnvironmentFrom(t *testing.T) {
	t.Parallel()

	e, err := environmentFrom(map[string]string{
		"KAVEN_LICENSE_KEY":  "KVN-AAAA-BBBB-CCCC",
		"KAVEN_ACCESS_TOKEN": "ci",
		"UNRELATED":          "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if e != (Environment{LicenseKey: "KVN-AAAA-BBBB-CCCC", AccessToken: "ci"}) {
		t.Errorf("environmentFrom() = %+v", e)
	}
}
