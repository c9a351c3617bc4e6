// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/bychrisr/kaven-cli/internal/dag"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/passport"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/registry"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

const (
	packageFileName = "package.zip"
	packageDirName  = "package"
)

type (
	// run holds the state of one Install call.
	run struct {
		m         *Manager
		id        string
		requested string
		opts      InstallOptions
		state     *project.State
		workDir   string
		logger    *log.Logger
	}

	// candidate is a module selected for installation.
	candidate struct {
		release      *registry.Release
		manifest     *kavenmod.Manifest
		dir          string
		manifestPath string
		packagePath  string
		packageDir   string
	}
)

func (c *candidate) slug() string { return c.manifest.Slug }

func (c *candidate) label() string { return c.manifest.Slug + "@" + c.manifest.Version }

func (m *Manager) newRun(requested string, state *project.State, opts InstallOptions) (*run, error) {
	id := m.newRunID()
	dir := filepath.Join(m.tempDir, "kaven-"+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &run{
		m:         m,
		id:        id,
		requested: requested,
		opts:      opts,
		state:     state,
		workDir:   dir,
		logger:    m.logger.With("run", id),
	}, nil
}

func (r *run) cleanup() {
	if err := os.RemoveAll(r.workDir); err != nil {
		r.logger.Warn("failed to remove staging directory", "path", r.workDir, "error", err)
	}
}

// resolve fetches the manifest of the requested module and of every
// dependency that is not installed yet, and returns them in install order.
func (r *run) resolve(ctx context.Context) ([]*candidate, error) {
	found := make(map[string]*candidate)
	var order []string

	queue := []string{r.requested}
	for len(queue) > 0 {
		slug := queue[0]
		queue = queue[1:]
		if _, ok := found[slug]; ok {
			continue
		}
		if slug != r.requested && r.state.Get(slug) != nil {
			continue
		}

		c, err := r.fetchManifest(ctx, slug)
		if err != nil {
			return nil, &StageError{Stage: StageResolving, Module: slug, Err: err}
		}
		found[slug] = c
		order = append(order, slug)
		queue = append(queue, c.manifest.ModuleDependencies...)
	}

	g := dag.New()
	for _, rec := range r.state.InstallOrder() {
		if _, reinstall := found[rec.Slug]; reinstall {
			continue
		}
		g.AddNode(rec.Slug)
		for _, dep := range rec.DependsOn {
			g.AddEdge(dep, rec.Slug)
		}
	}
	for _, slug := range order {
		g.AddNode(slug)
		for _, dep := range found[slug].manifest.ModuleDependencies {
			g.AddEdge(dep, slug)
		}
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, &StageError{Stage: StageResolving, Module: r.requested, Err: err}
	}

	out := make([]*candidate, 0, len(found))
	for _, slug := range sorted {
		if c, ok := found[slug]; ok {
			out = append(out, c)
		}
	}
	r.logger.Debug("resolved install order", "modules", len(out))
	return out, nil
}

func (r *run) fetchManifest(ctx context.Context, slug string) (*candidate, error) {
	rel, err := r.m.registry.Release(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rel.Slug != slug {
		return nil, fmt.Errorf("registry returned release %q", rel.Slug)
	}

	dir := filepath.Join(r.workDir, slug)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, kavenmod.ManifestFileName)
	if err := r.m.registry.Download(ctx, rel.Manifest, path); err != nil {
		return nil, fmt.Errorf("download manifest: %w", err)
	}

	man, err := kavenmod.ParseManifest(path)
	if err != nil {
		return nil, err
	}
	if man.Slug != slug {
		return nil, fmt.Errorf("manifest declares slug %q", man.Slug)
	}
	if kavenmod.CompareVersions(man.Version, rel.Version) != 0 {
		return nil, fmt.Errorf("manifest version %s does not match release %s", man.Version, rel.Version)
	}

	r.logger.Debug("manifest fetched", "module", slug, "version", man.Version)
	return &candidate{
		release:      rel,
		manifest:     man,
		dir:          dir,
		manifestPath: path,
		packagePath:  filepath.Join(dir, packageFileName),
		packageDir:   filepath.Join(dir, packageDirName),
	}, nil
}

// verify checks every manifest against the pinned publisher key and rejects
// package signatures that cannot be used before any entitlement check.
func (r *run) verify(cands []*candidate) error {
	for _, c := range cands {
		art := integrity.Artifact{
			Name:      c.label() + " manifest",
			Path:      c.manifestPath,
			Checksum:  c.release.Manifest.Checksum,
			Signature: c.release.Manifest.Signature,
		}
		if err := r.m.verifier.VerifyArtifact(art); err != nil {
			return &StageError{Stage: StageVerifying, Module: c.slug(), Err: err}
		}
		if _, err := integrity.DecodeSignature(c.release.Package.Signature); err != nil {
			err = &integrity.IntegrityError{Artifact: c.label() + " package", Reason: "unusable signature", Err: err}
			return &StageError{Stage: StageVerifying, Module: c.slug(), Err: err}
		}
	}
	return nil
}

func (r *run) gate(ctx context.Context, cands []*candidate) error {
	for _, c := range cands {
		ok, err := r.m.gate.CheckEntitlement(ctx, r.opts.Session, c.slug())
		if err == nil && !ok {
			err = &passport.EntitlementError{Slug: c.slug(), Reason: "entitlement denied"}
		}
		if err != nil {
			return &StageError{Stage: StageGating, Module: c.slug(), Err: err}
		}
		r.logger.Debug("entitlement granted", "module", c.slug())
	}
	return nil
}

// fetch downloads, verifies and extracts every package. A package that
// fails is deleted.
func (r *run) fetch(ctx context.Context, cands []*candidate) error {
	for _, c := range cands {
		if err := r.fetchPackage(ctx, c); err != nil {
			if rmErr := os.Remove(c.packagePath); rmErr != nil && !os.IsNotExist(rmErr) {
				r.logger.Warn("failed to discard package", "path", c.packagePath, "error", rmErr)
			}
			if rmErr := os.RemoveAll(c.packageDir); rmErr != nil {
				r.logger.Warn("failed to discard extracted package", "path", c.packageDir, "error", rmErr)
			}
			return &StageError{Stage: StageFetching, Module: c.slug(), Err: err}
		}
	}
	return nil
}

func (r *run) fetchPackage(ctx context.Context, c *candidate) error {
	r.logger.Info("downloading module", "module", c.slug(), "version", c.manifest.Version,
		"artifact", registry.ArtifactName(c.release.Package.URL))
	if err := r.m.registry.Download(ctx, c.release.Package, c.packagePath); err != nil {
		return fmt.Errorf("download package: %w", err)
	}
	art := integrity.Artifact{
		Name:      c.label() + " package",
		Path:      c.packagePath,
		Checksum:  c.release.Package.Checksum,
		Signature: c.release.Package.Signature,
	}
	if err := r.m.verifier.VerifyArtifact(art); err != nil {
		return err
	}
	files, err := registry.Extract(c.packagePath, c.packageDir, r.m.maxPackageBytes)
	if err != nil {
		return err
	}
	r.logger.Debug("package extracted", "module", c.slug(), "files", len(files))
	return nil
}
