// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/project"
)

type (
	// InstallOptions controls one Install call.
	InstallOptions struct {
		// Session is the identity entitlements are checked for.
		Session auth.Session
		// DryRun stops after Staging and reports the plan.
		DryRun bool
		// Force reapplies a module that is already installed.
		Force bool
	}

	// InstallResult describes a finished install.
	InstallResult struct {
		Slug             string
		AlreadyInstalled bool
		DryRun           bool
		Plan             *Plan
		// Installed holds the records written, in install order.
		Installed []*project.InstalledModuleRecord
	}
)

// Install installs slug and any of its missing module dependencies.
func (m *Manager) Install(ctx context.Context, slug string, opts InstallOptions) (*InstallResult, error) {
	if m.registry == nil || m.verifier == nil || m.gate == nil {
		return nil, errors.New("installer: registry, verifier and gate are required to install")
	}

	state, err := m.project.LoadState()
	if err != nil {
		return nil, &StageError{Stage: StageResolving, Module: slug, Err: err}
	}
	if rec := state.Get(slug); rec != nil && !opts.Force {
		m.logger.Info("module already installed", "module", slug, "version", rec.Version)
		return &InstallResult{Slug: slug, AlreadyInstalled: true}, nil
	}

	r, err := m.newRun(slug, state, opts)
	if err != nil {
		return nil, &StageError{Stage: StageResolving, Module: slug, Err: err}
	}
	defer r.cleanup()
	r.logger.Debug("install started", "module", slug, "dry_run", opts.DryRun, "force", opts.Force)

	cands, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.verify(cands); err != nil {
		return nil, err
	}
	if err := r.gate(ctx, cands); err != nil {
		return nil, err
	}
	if err := r.fetch(ctx, cands); err != nil {
		return nil, err
	}

	lock, err := m.lock()
	if err != nil {
		return nil, &StageError{Stage: StageStaging, Module: slug, Err: err}
	}
	defer m.unlock(lock)

	// Another process may have changed the state while we were fetching.
	if r.state, err = m.project.LoadState(); err != nil {
		return nil, &StageError{Stage: StageStaging, Module: slug, Err: err}
	}

	changes, plan, err := r.stage(cands)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return &InstallResult{Slug: slug, DryRun: true, Plan: plan}, nil
	}

	if err := r.apply(ctx, changes); err != nil {
		return nil, err
	}

	res := &InstallResult{Slug: slug, Plan: plan}
	for _, mc := range changes.modules {
		res.Installed = append(res.Installed, mc.record)
		r.logger.Info("module installed", "module", mc.record.Slug, "version", mc.record.Version)
	}
	return res, nil
}

// apply writes the change set. Any failure, including cancellation of ctx,
// rolls every write back.
func (r *run) apply(ctx context.Context, cs *changeSet) (err error) {
	tx := newTransaction(r.logger)
	stage, module := StageApplying, r.requested

	defer func() {
		if err == nil {
			return
		}
		r.logger.Warn("install failed, rolling back", "stage", stage, "module", module, "error", err)
		rbErr := tx.rollback()
		err = &StageError{Stage: stage, Module: module, Err: err, RolledBack: rbErr == nil, RollbackErr: rbErr}
	}()

	step := func(name string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.m.afterStep != nil {
			return r.m.afterStep(name)
		}
		return nil
	}
	proj := r.m.project

	for _, mc := range cs.modules {
		module = mc.record.Slug
		track := func(dirs []string) {
			for _, d := range dirs {
				if rel, relErr := filepath.Rel(proj.Root, d); relErr == nil {
					mc.record.Dirs = append(mc.record.Dirs, filepath.ToSlash(rel))
				}
			}
		}

		for _, f := range mc.files {
			dirs, err := tx.write(f.path, f.data)
			track(dirs)
			if err != nil {
				return err
			}
			if err := step("file " + f.rel); err != nil {
				return err
			}
		}

		for _, pi := range mc.injections {
			if err := tx.capture(pi.target); err != nil {
				return err
			}
			if pi.injection.CreateIfMissing {
				dirs, err := tx.mkdirAll(filepath.Dir(pi.target))
				track(dirs)
				if err != nil {
					return err
				}
			}
			res, err := r.m.engine.Apply(pi.target, pi.injection)
			if err != nil {
				return err
			}
			if err := step("injection " + res.Key); err != nil {
				return err
			}
		}

		for _, f := range mc.fragments {
			if _, err := tx.write(f.path, f.data); err != nil {
				return err
			}
			if err := step("fragment " + f.rel); err != nil {
				return err
			}
		}
	}

	module = r.requested
	if cs.schema != nil {
		if _, err := tx.write(cs.schema.path, cs.schema.data); err != nil {
			return err
		}
		if err := step("schema " + cs.schema.rel); err != nil {
			return err
		}
	}

	stage = StageCommitted
	if err := tx.capture(proj.StatePath()); err != nil {
		return err
	}
	for _, mc := range cs.modules {
		r.state.Put(mc.record)
	}
	if err := proj.SaveState(r.state); err != nil {
		return err
	}
	return step("state")
}
