// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

// DefaultMaxExtractBytes caps the uncompressed size of a module package.
const DefaultMaxExtractBytes int64 = 64 << 20

// ErrPackageTooLarge is returned when a package inflates past the size cap.
var ErrPackageTooLarge = errors.New("module package exceeds size limit")

// Extract unpacks the ZIP archive at zipPath into destDir and returns the
// slash-separated paths of the regular files it wrote. Entries that would
// land outside destDir, symlinks, and archives whose content exceeds
// maxBytes (DefaultMaxExtractBytes when <= 0) are rejected.
func Extract(zipPath, destDir string, maxBytes int64) (_ []string, err error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxExtractBytes
	}

	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer func() { _ = reader.Close() }() // Read-only archive; close error is non-actionable

	if err = os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	var files []string
	remaining := maxBytes
	for _, file := range reader.File {
		name := strings.TrimPrefix(file.Name, "./")
		if name == "" || name == "/" {
			continue
		}

		destPath, resolveErr := fspath.ResolveWithin(destDir, strings.TrimSuffix(name, "/"))
		if resolveErr != nil {
			return nil, fmt.Errorf("package entry %q: %w", file.Name, resolveErr)
		}

		if file.FileInfo().IsDir() {
			if err = os.MkdirAll(destPath, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", name, err)
			}
			continue
		}
		if !file.Mode().IsRegular() {
			return nil, fmt.Errorf("package entry %q: only regular files are allowed", file.Name)
		}

		if err = os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, fmt.Errorf("create parent directory for %s: %w", name, err)
		}

		n, extractErr := extractFile(file, destPath, remaining)
		if extractErr != nil {
			return nil, fmt.Errorf("extract %s: %w", name, extractErr)
		}
		remaining -= n
		files = append(files, filepath.ToSlash(strings.TrimSuffix(name, "/")))
	}
	return files, nil
}

// extractFile copies one entry, reading at most limit bytes. The declared
// size in the ZIP header is not trusted.
func extractFile(file *zip.File, destPath string, limit int64) (n int64, err error) {
	rc, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }() // Read-only entry; close error is non-actionable

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0o600)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := destFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err = io.Copy(destFile, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrPackageTooLarge
	}
	return n, nil
}
