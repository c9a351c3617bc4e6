// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

type (
	// snapshot is the state of a path before the transaction first touched it.
	snapshot struct {
		path    string
		existed bool
		data    []byte
		mode    fs.FileMode
	}

	// transaction records snapshots of every file it is about to change and
	// the directories it creates, so rollback can put the tree back.
	transaction struct {
		snapshots []snapshot
		seen      map[string]bool
		dirs      []string
		logger    *log.Logger
	}
)

func newTransaction(logger *log.Logger) *transaction {
	return &transaction{seen: make(map[string]bool), logger: logger}
}

// capture snapshots path unless it was already captured.
func (tx *transaction) capture(path string) error {
	if tx.seen[path] {
		return nil
	}
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		tx.snapshots = append(tx.snapshots, snapshot{path: path})
	case err != nil:
		return fmt.Errorf("snapshot %s: %w", path, err)
	case !info.Mode().IsRegular():
		return fmt.Errorf("snapshot %s: not a regular file", path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", path, err)
		}
		tx.snapshots = append(tx.snapshots, snapshot{path: path, existed: true, data: data, mode: info.Mode().Perm()})
	}
	tx.seen[path] = true
	return nil
}

// mkdirAll creates dir and its missing parents, remembering each one, and
// returns the directories it created.
func (tx *transaction) mkdirAll(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		_, err := os.Stat(d)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	slices.Reverse(missing)

	created := make([]string, 0, len(missing))
	for _, d := range missing {
		if err := os.Mkdir(d, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return created, err
		}
		tx.dirs = append(tx.dirs, d)
		created = append(created, d)
	}
	return created, nil
}

// write snapshots path and replaces its content atomically. A file that
// existed keeps its permissions.
func (tx *transaction) write(path string, data []byte) ([]string, error) {
	if err := tx.capture(path); err != nil {
		return nil, err
	}
	created, err := tx.mkdirAll(filepath.Dir(path))
	if err != nil {
		return created, fmt.Errorf("create parent of %s: %w", path, err)
	}
	perm := fs.FileMode(0o644)
	if i := slices.IndexFunc(tx.snapshots, func(s snapshot) bool { return s.path == path }); i >= 0 && tx.snapshots[i].existed {
		perm = tx.snapshots[i].mode
	}
	return created, fspath.WriteFileAtomic(path, data, perm)
}

// remove snapshots path and deletes it. A missing file is not an error.
func (tx *transaction) remove(path string) error {
	if err := tx.capture(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// rollback restores every snapshot, newest first, then removes the
// directories the transaction created. It keeps going past failures and
// returns them joined.
func (tx *transaction) rollback() error {
	var errs []error
	for i := len(tx.snapshots) - 1; i >= 0; i-- {
		s := tx.snapshots[i]
		if !s.existed {
			if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fspath.WriteFileAtomic(s.path, s.data, s.mode); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", s.path, err))
		}
	}
	for i := len(tx.dirs) - 1; i >= 0; i-- {
		if err := os.Remove(tx.dirs[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		tx.logger.Error("rollback incomplete", "failures", len(errs))
		return errors.Join(errs...)
	}
	tx.logger.Debug("rollback complete", "files", len(tx.snapshots), "dirs", len(tx.dirs))
	return nil
}
