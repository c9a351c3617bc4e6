// SPDX-License-Identifier: MPL-2.0

// Package registry describes where module releases come from. The marketplace
// client in internal/api is one implementation; Dir serves releases from a
// local directory for offline installs and tests.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

// ReleaseFileName is the release descriptor file inside a Dir registry.
const ReleaseFileName = "release.json"

var (
	// ErrModuleNotFound is wrapped by *ModuleNotFoundError.
	ErrModuleNotFound = errors.New("module not found")

	slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
)

type (
	// ArtifactRef locates a signed artifact.
	ArtifactRef struct {
		URL       string `json:"url"`
		Checksum  string `json:"checksum"`
		Signature string `json:"signature"`
	}

	// Release is the descriptor of the latest published version of a module.
	Release struct {
		Slug     string      `json:"slug"`
		Version  string      `json:"version"`
		Manifest ArtifactRef `json:"manifest"`
		Package  ArtifactRef `json:"package"`
	}

	// Registry looks up releases and downloads their artifacts.
	Registry interface {
		Release(ctx context.Context, slug string) (*Release, error)
		Download(ctx context.Context, ref ArtifactRef, dest string) error
	}

	// ModuleNotFoundError reports a slug the registry does not know.
	ModuleNotFoundError struct {
		Slug string
	}

	// Dir is a Registry backed by a directory laid out as
	// <dir>/<slug>/release.json. Artifact URLs in a descriptor are paths
	// relative to the slug directory.
	Dir struct {
		root string
	}
)

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module %q not found in registry", e.Slug)
}

func (e *ModuleNotFoundError) Unwrap() error { return ErrModuleNotFound }

// NewDir returns a Registry serving releases from root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Release reads the descriptor for slug. Relative artifact URLs are resolved
// against the slug directory.
func (d *Dir) Release(ctx context.Context, slug string) (*Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !slugPattern.MatchString(slug) {
		return nil, &ModuleNotFoundError{Slug: slug}
	}

	path := filepath.Join(d.root, slug, ReleaseFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ModuleNotFoundError{Slug: slug}
	}
	if err != nil {
		return nil, fmt.Errorf("read release descriptor: %w", err)
	}

	var rel Release
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if rel.Slug != slug {
		return nil, fmt.Errorf("%s: descriptor slug %q does not match %q", path, rel.Slug, slug)
	}

	base := filepath.Join(d.root, slug)
	for _, ref := range []*ArtifactRef{&rel.Manifest, &rel.Package} {
		if ref.URL == "" {
			return nil, fmt.Errorf("%s: artifact without url", path)
		}
		resolved, err := fspath.ResolveWithin(base, ref.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		ref.URL = resolved
	}
	return &rel, nil
}

// Download copies the artifact at ref.URL to dest.
func (d *Dir) Download(ctx context.Context, ref ArtifactRef, dest string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(ref.URL)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = src.Close() }() // Read-only file; close error is non-actionable

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err = io.Copy(out, src); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	return nil
}

// ArtifactName is the file name an artifact URL ends with, used to name
// downloads in the staging directory.
func ArtifactName(url string) string {
	url, _, _ = strings.Cut(url, "?")
	if i := strings.LastIndexAny(url, `/\`); i >= 0 {
		url = url[i+1:]
	}
	if url == "" {
		return "artifact"
	}
	return url
}
