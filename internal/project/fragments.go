// SPDX-License-Identifier: MPL-2.0

package project

import (
	"path"
	"path/filepath"
)

// FragmentRel is the project-relative, slash-separated path under which the
// schema fragment at package path name of module slug is kept. name must
// already be validated as a relative path.
func FragmentRel(slug, name string) string {
	return path.Join(StateDirName, "schema", slug, path.Clean(filepath.ToSlash(name)))
}

// FragmentDir is the absolute directory holding slug's fragments.
func (p *Project) FragmentDir(slug string) string {
	return filepath.Join(p.StateDir(), "schema", slug)
}

// Abs resolves a project-relative slash path.
func (p *Project) Abs(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// FragmentPaths returns the absolute paths of every installed fragment in
// installation order, then declaration order within a module.
func (p *Project) FragmentPaths(s *State) []string {
	var out []string
	for _, rec := range s.InstallOrder() {
		for _, rel := range rec.SchemaFragments {
			out = append(out, p.Abs(rel))
		}
	}
	return out
}
