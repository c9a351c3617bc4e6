// SPDX-License-Identifier: MPL-2.0

package inject

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

// Engine applies injections to files on disk.
type Engine struct {
	logger *log.Logger
}

// NewEngine returns an Engine logging to logger (nil discards).
func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{logger: logger}
}

// Apply runs inj against target and writes the result atomically. A block
// already tagged with the injection's key is reported with Applied=false and
// the file is not rewritten.
func (e *Engine) Apply(target string, inj kavenmod.Injection) (Result, error) {
	content, err := readTarget(target)
	if err != nil {
		return Result{File: target, Key: inj.Key()}, err
	}

	out, res, err := Plan(target, content, inj)
	if err != nil {
		return res, err
	}
	if !res.Applied {
		e.logger.Debug("injection already present", "file", target, "key", res.Key)
		return res, nil
	}

	if res.Created {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return res, fmt.Errorf("create parent of %s: %w", target, err)
		}
	}
	if err := fspath.WriteFileAtomic(target, out, 0o644); err != nil {
		return res, err
	}

	e.logger.Debug("injection applied", "file", target, "key", res.Key, "kind", inj.Kind, "strategy", inj.Strategy)
	return res, nil
}

// Remove undoes an injection previously applied to target. A missing file or
// block is a no-op. A file the injection created is deleted once nothing but
// whitespace remains.
func (e *Engine) Remove(target string, rev Reversal) (bool, error) {
	content, err := readTarget(target)
	if err != nil {
		return false, err
	}
	if content == nil {
		return false, nil
	}

	out, removed, err := RemoveBlock(target, content, rev)
	if err != nil || !removed {
		return false, err
	}

	if rev.Created && strings.TrimSpace(string(out)) == "" {
		if err := os.Remove(target); err != nil {
			return false, fmt.Errorf("remove %s: %w", target, err)
		}
		e.logger.Debug("injected file removed", "file", target, "key", rev.Key)
		return true, nil
	}

	if err := fspath.WriteFileAtomic(target, out, 0o644); err != nil {
		return false, err
	}
	e.logger.Debug("injection removed", "file", target, "key", rev.Key)
	return true, nil
}

// readTarget returns nil for a missing file and a non-nil slice otherwise.
func readTarget(path string) ([]byte, error) {
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
