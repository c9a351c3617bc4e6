// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bychrisr/kaven-cli/internal/inject"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

// Remove uninstalls slug: injected blocks are removed newest first (restoring
// the text replace patches rewrote), copied files are deleted together with
// the directories the install created, and the schema output is regenerated
// without the module's fragments. A failure restores the project.
func (m *Manager) Remove(ctx context.Context, slug string) (_ *project.InstalledModuleRecord, err error) {
	lock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer m.unlock(lock)

	state, err := m.project.LoadState()
	if err != nil {
		return nil, err
	}
	rec := state.Get(slug)
	if rec == nil {
		return nil, &NotInstalledError{Slug: slug}
	}
	if deps := state.Dependents(slug); len(deps) > 0 {
		return nil, &HasDependentsError{Slug: slug, Dependents: deps}
	}

	tx := newTransaction(m.logger)
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.rollback(); rbErr != nil {
			err = fmt.Errorf("remove %s: %w (rollback incomplete: %v)", slug, err, rbErr)
			return
		}
		err = fmt.Errorf("remove %s: %w (changes rolled back)", slug, err)
	}()

	for i := len(rec.Injections) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ai := rec.Injections[i]
		target, err := fspath.ResolveWithin(m.project.Root, ai.File)
		if err != nil {
			return nil, err
		}
		if err := tx.capture(target); err != nil {
			return nil, err
		}
		removed, err := m.engine.Remove(target, inject.Reversal{
			Key:      ai.Key,
			Replaced: ai.Replaced,
			Original: ai.Original,
			Created:  ai.Created,
		})
		if err != nil {
			return nil, err
		}
		if !removed {
			m.logger.Debug("injected block already gone", "module", slug, "file", ai.File, "key", ai.Key)
		}
	}

	for i := len(rec.Files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := fspath.ResolveWithin(m.project.Root, rec.Files[i])
		if err != nil {
			return nil, err
		}
		if err := tx.remove(path); err != nil {
			return nil, err
		}
	}

	next := state.Clone()
	next.Delete(slug)
	if len(rec.SchemaFragments) > 0 {
		merged, err := mergeProjectSchema(m.project, next, readOptional)
		if err != nil {
			return nil, err
		}
		if _, err := tx.write(m.project.SchemaOutputPath(), []byte(merged)); err != nil {
			return nil, err
		}
		for _, rel := range rec.SchemaFragments {
			if err := tx.remove(m.project.Abs(rel)); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.capture(m.project.StatePath()); err != nil {
		return nil, err
	}
	if err := m.project.SaveState(next); err != nil {
		return nil, err
	}

	m.removeDirs(rec)
	m.logger.Info("module removed", "module", slug, "version", rec.Version)
	return rec, nil
}

// removeDirs deletes the directories an install created once they are
// empty, deepest first, and the module's fragment directory.
func (m *Manager) removeDirs(rec *project.InstalledModuleRecord) {
	for i := len(rec.Dirs) - 1; i >= 0; i-- {
		dir, err := fspath.ResolveWithin(m.project.Root, rec.Dirs[i])
		if err != nil {
			continue
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("directory kept", "path", rec.Dirs[i], "reason", err)
		}
	}
	if err := os.RemoveAll(m.project.FragmentDir(rec.Slug)); err != nil {
		m.logger.Warn("failed to remove schema fragments", "module", rec.Slug, "error", err)
	}
}
