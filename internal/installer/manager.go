// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/inject"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/projectlock"
	"github.com/bychrisr/kaven-cli/internal/registry"
)

type (
	// Gatekeeper decides whether a session may install a module.
	// *passport.Gate implements it.
	Gatekeeper interface {
		CheckEntitlement(ctx context.Context, session auth.Session, slug string) (bool, error)
	}

	// ArtifactVerifier checks a downloaded artifact's checksum and signature.
	// *integrity.Verifier implements it.
	ArtifactVerifier interface {
		VerifyArtifact(a integrity.Artifact) error
	}

	// Manager installs, removes and lists the modules of one project.
	Manager struct {
		project  *project.Project
		registry registry.Registry
		verifier ArtifactVerifier
		gate     Gatekeeper
		engine   *inject.Engine
		logger   *log.Logger

		now             func() time.Time
		newRunID        func() string
		tempDir         string
		maxPackageBytes int64
		lockOpts        []projectlock.Option

		// afterStep runs after every write while applying. Tests use it to
		// fail the run at a chosen point.
		afterStep func(step string) error
	}

	// Option configures a Manager.
	Option func(*Manager)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source used for InstalledAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTempDir sets where per-run staging directories are created.
func WithTempDir(dir string) Option {
	return func(m *Manager) { m.tempDir = dir }
}

// WithMaxPackageBytes caps the extracted size of a module package.
func WithMaxPackageBytes(n int64) Option {
	return func(m *Manager) { m.maxPackageBytes = n }
}

// WithLockOptions passes options to the project lock.
func WithLockOptions(opts ...projectlock.Option) Option {
	return func(m *Manager) { m.lockOpts = append(m.lockOpts, opts...) }
}

// NewManager returns a Manager for proj. reg, verifier and gate are only
// used by Install and may be nil for a Manager that only lists, removes or
// regenerates the schema.
func NewManager(proj *project.Project, reg registry.Registry, verifier ArtifactVerifier, gate Gatekeeper, opts ...Option) *Manager {
	m := &Manager{
		project:         proj,
		registry:        reg,
		verifier:        verifier,
		gate:            gate,
		now:             time.Now,
		newRunID:        uuid.NewString,
		tempDir:         os.TempDir(),
		maxPackageBytes: registry.DefaultMaxExtractBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard)
	}
	m.engine = inject.NewEngine(m.logger)
	return m
}

// Project returns the project the manager works on.
func (m *Manager) Project() *project.Project { return m.project }

// List returns the installed modules sorted by slug.
func (m *Manager) List() ([]*project.InstalledModuleRecord, error) {
	state, err := m.project.LoadState()
	if err != nil {
		return nil, err
	}
	return state.Records(), nil
}

func (m *Manager) lock() (*projectlock.Lock, error) {
	opts := append([]projectlock.Option{projectlock.WithLogger(m.logger)}, m.lockOpts...)
	return projectlock.Acquire(m.project.LockPath(), opts...)
}

func (m *Manager) unlock(l *projectlock.Lock) {
	if err := l.Release(); err != nil {
		m.logger.Warn("failed to release project lock", "path", l.Path(), "error", err)
	}
}

// readOptional returns nil for a missing file.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	case data == nil:
		return []byte{}, nil
	default:
		return data, nil
	}
}
