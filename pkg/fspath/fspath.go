// SPDX-License-Identifier: MPL-2.0

// Package fspath holds the filesystem primitives every mutation of a target
// project goes through: atomic file replacement and root containment.
package fspath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a relative path resolves outside its root.
var ErrPathEscape = errors.New("path escapes root")

// WriteFileAtomic replaces path with data. The bytes go to a temp file in the
// same directory, are synced, and the temp file is renamed over path, so a
// reader sees either the old or the new content. An existing file keeps its
// mode; a new file gets perm.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	// Write through a symlink so the link itself survives the rename.
	if info, statErr := os.Lstat(path); statErr == nil && info.Mode()&fs.ModeSymlink != 0 {
		if path, err = filepath.EvalSymlinks(path); err != nil {
			return fmt.Errorf("resolve symlink: %w", err)
		}
	}
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".kaven-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// ResolveWithin joins the slash-separated rel onto root and fails with
// ErrPathEscape when the result is not inside root. Symlinks are followed:
// the deepest existing part of the joined path must also resolve inside
// the resolved root. The returned path is the unresolved join.
func ResolveWithin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, rel)
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !within(root, full, false) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	existing, err := deepestExisting(full)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPathEscape, rel, err)
	}
	if !within(realRoot, resolved, true) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrPathEscape, rel, resolved)
	}
	return full, nil
}

// within reports whether target is below root. allowRoot accepts root
// itself.
func within(root, target string, allowRoot bool) bool {
	r, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if r == "." {
		return allowRoot
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// deepestExisting walks up from path to the first entry that exists.
// Dangling symlinks count as existing.
func deepestExisting(path string) (string, error) {
	for {
		_, err := os.Lstat(path)
		switch {
		case err == nil:
			return path, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path, nil
		}
		path = parent
	}
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
