// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

// GenerateResult describes a schema regeneration.
type GenerateResult struct {
	// Output is the project-relative schema output path.
	Output    string
	Fragments int
	Changed   bool
}

// Generate merges the base schema with the fragments of every installed
// module, in install order, and writes the output. A conflict is returned
// without writing anything.
func (m *Manager) Generate(ctx context.Context) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer m.unlock(lock)

	state, err := m.project.LoadState()
	if err != nil {
		return nil, err
	}
	merged, err := mergeProjectSchema(m.project, state, readOptional)
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{
		Output:    m.project.Config.Schema.Output,
		Fragments: len(m.project.FragmentPaths(state)),
	}
	outPath := m.project.SchemaOutputPath()
	current, err := readOptional(outPath)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(current, []byte(merged)) {
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create schema directory: %w", err)
	}
	if err := fspath.WriteFileAtomic(outPath, []byte(merged), 0o644); err != nil {
		return nil, err
	}
	res.Changed = true
	m.logger.Info("schema generated", "output", res.Output, "fragments", res.Fragments)
	return res, nil
}
