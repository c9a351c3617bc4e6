// SPDX-License-Identifier: MPL-2.0

// Package passport decides whether the current session may install a module.
// Decisions are never cached: every call consults the marketplace or the
// license key supplied for this invocation.
package passport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/auth"
)

var (
	// ErrEntitlement is wrapped by every *EntitlementError.
	ErrEntitlement = errors.New("not entitled")

	licenseKeyPattern = regexp.MustCompile(`^[A-Z]{2,8}(-[A-Z0-9]{4}){3}$`)
)

type (
	// Entitlement is the wire entitlement from the marketplace.
	Entitlement = api.Entitlement

	// LicenseResult is the verdict on a license key. Offline is set when the
	// marketplace could not be reached and only the key format was checked.
	LicenseResult struct {
		Valid    bool
		ModuleID string
		Offline  bool
	}

	// EntitlementError reports a denied module.
	EntitlementError struct {
		Slug   string
		Reason string
	}

	// Backend is the marketplace surface the gate needs. *api.Client
	// implements it.
	Backend interface {
		Entitlements(ctx context.Context, accessToken string) ([]api.Entitlement, error)
		ValidateLicense(ctx context.Context, key string) (*api.LicenseResponse, error)
	}

	// Gate checks entitlements.
	Gate struct {
		backend Backend
		now     func() time.Time
		logger  *log.Logger
	}

	// Option configures a Gate.
	Option func(*Gate)
)

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("not entitled to install %q: %s", e.Slug, e.Reason)
}

func (e *EntitlementError) Unwrap() error { return ErrEntitlement }

// WithClock replaces time.Now when judging expiry dates.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a Gate consulting backend.
func NewGate(backend Backend, opts ...Option) *Gate {
	g := &Gate{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.New(io.Discard)
	}
	return g
}

// NormalizeLicenseKey trims and upper-cases key.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// WellFormedLicenseKey reports whether key matches the license key format
// after normalization.
func WellFormedLicenseKey(key string) bool {
	return licenseKeyPattern.MatchString(NormalizeLicenseKey(key))
}

// ValidateLicenseKey checks key locally and then online. Malformed keys are
// rejected without a network call. When the marketplace is unreachable the
// local result stands and Offline is set.
func (g *Gate) ValidateLicenseKey(ctx context.Context, key string) (LicenseResult, error) {
	key = NormalizeLicenseKey(key)
	if !licenseKeyPattern.MatchString(key) {
		return LicenseResult{}, nil
	}

	resp, err := g.backend.ValidateLicense(ctx, key)
	switch {
	case err == nil:
		return LicenseResult{Valid: resp.Valid, ModuleID: resp.ModuleID}, nil
	case ctx.Err() != nil:
		return LicenseResult{}, ctx.Err()
	case unreachable(err):
		g.logger.Warn("license server unreachable, accepting well-formed key offline", "err", err)
		return LicenseResult{Valid: true, Offline: true}, nil
	default:
		return LicenseResult{}, err
	}
}

// CheckEntitlement reports whether session may install slug. A denial is
// returned as (false, *EntitlementError); other errors mean the decision
// could not be made.
func (g *Gate) CheckEntitlement(ctx context.Context, session auth.Session, slug string) (bool, error) {
	if !session.Authenticated() {
		return g.checkLicense(ctx, session.LicenseKey(), slug)
	}

	ents, err := g.backend.Entitlements(ctx, session.AccessToken())
	if err != nil {
		return false, fmt.Errorf("checking entitlement for %s: %w", slug, err)
	}

	// Any qualifying entry grants. Otherwise report the most telling
	// reason: revoked, then expired, then none at all.
	var denial *EntitlementError
	rank := 0
	deny := func(r int, reason string) {
		if r > rank {
			rank, denial = r, &EntitlementError{Slug: slug, Reason: reason}
		}
	}
	for _, ent := range ents {
		if ent.ModuleSlug != slug {
			continue
		}
		switch {
		case ent.Status == api.StatusRevoked:
			deny(3, "entitlement is revoked")
		case ent.Status != api.StatusActive:
			deny(2, "entitlement is "+string(ent.Status))
		case ent.ExpiryDate != nil && !g.now().Before(*ent.ExpiryDate):
			deny(2, "entitlement expired on "+ent.ExpiryDate.Format(time.DateOnly))
		default:
			g.logger.Debug("entitlement granted", "module", slug, "tier", ent.Tier)
			return true, nil
		}
	}
	if denial == nil {
		denial = &EntitlementError{Slug: slug, Reason: "no entitlement for this account"}
	}
	return false, denial
}

func (g *Gate) checkLicense(ctx context.Context, key, slug string) (bool, error) {
	if key == "" {
		return false, &EntitlementError{Slug: slug, Reason: "not logged in and no license key provided"}
	}
	res, err := g.ValidateLicenseKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("validating license key: %w", err)
	}
	if !res.Valid {
		return false, &EntitlementError{Slug: slug, Reason: "license key is not valid"}
	}
	if res.ModuleID != "" && res.ModuleID != slug {
		return false, &EntitlementError{Slug: slug, Reason: fmt.Sprintf("license key is bound to %q", res.ModuleID)}
	}
	g.logger.Debug("license accepted", "module", slug, "offline", res.Offline)
	return true, nil
}

// unreachable reports errors where the server gave no verdict: transport
// failures and retryable statuses that outlived the retry budget.
func unreachable(err error) bool {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return true
}
