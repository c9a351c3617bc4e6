// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bychrisr/kaven-cli/internal/registry"
)

// Entitlement statuses reported by the marketplace.
const (
	StatusActive  EntitlementStatus = "active"
	StatusExpired EntitlementStatus = "expired"
	StatusRevoked EntitlementStatus = "revoked"
)

type (
	// EntitlementStatus is the lifecycle state of a purchased module.
	EntitlementStatus string

	// AuthUser identifies the account tokens were issued to.
	AuthUser struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	// AuthResponse is returned by login and refresh.
	AuthResponse struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		User         AuthUser `json:"user"`
	}

	// Entitlement is the caller's right to install one module.
	Entitlement struct {
		ModuleSlug string            `json:"module_slug"`
		Status     EntitlementStatus `json:"status"`
		ExpiryDate *time.Time        `json:"expiry_date,omitempty"`
		Tier       string            `json:"tier,omitempty"`
	}

	// LicenseResponse is the online verdict on a license key. ModuleID is
	// empty for keys that unlock every module.
	LicenseResponse struct {
		Valid    bool   `json:"valid"`
		ModuleID string `json:"module_id,omitempty"`
	}
)

// Login exchanges an email and password for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", "", body, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh", "", body, &out); err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	return &out, nil
}

// Entitlements lists the live entitlements of the account owning accessToken.
func (c *Client) Entitlements(ctx context.Context, accessToken string) ([]Entitlement, error) {
	var out []Entitlement
	if err := c.doJSON(ctx, http.MethodGet, "/v1/me/entitlements", accessToken, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching entitlements: %w", err)
	}
	return out, nil
}

// ValidateLicense asks the marketplace whether key is valid. No identity is
// required.
func (c *Client) ValidateLicense(ctx context.Context, key string) (*LicenseResponse, error) {
	var out LicenseResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/licenses/validate", "", map[string]string{"key": key}, &out); err != nil {
		return nil, fmt.Errorf("validating license: %w", err)
	}
	return &out, nil
}

// Release fetches the latest release descriptor of slug. It implements
// registry.Registry.
func (c *Client) Release(ctx context.Context, slug string) (*registry.Release, error) {
	var out registry.Release
	err := c.doJSON(ctx, http.MethodGet, "/v1/modules/"+url.PathEscape(slug), "", nil, &out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil, &registry.ModuleNotFoundError{Slug: slug}
	}
	if err != nil {
		return nil, fmt.Errorf("fetching release %s: %w", slug, err)
	}
	return &out, nil
}

// Download streams the artifact at ref.URL into dest, truncating dest on
// every attempt. Relative URLs are resolved against the base URL.
func (c *Client) Download(ctx context.Context, ref registry.ArtifactRef, dest string) error {
	reqURL := c.resolve(ref.URL)
	_, err := c.retry(ctx, http.MethodGet, reqURL, func(attemptCtx context.Context) (struct{}, error) {
		resp, err := c.send(attemptCtx, http.MethodGet, reqURL, "", http.NoBody)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = resp.Body.Close() }() // read-only response body

		if err := checkStatus(http.MethodGet, reqURL, resp); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, writeBody(dest, resp.Body)
	})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", redactURL(reqURL), err)
	}
	return nil
}

func writeBody(dest string, body io.Reader) (err error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s: %w", dest, err))
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(out, body)
	return err
}

var _ registry.Registry = (*Client)(nil)
