// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bychrisr/kaven-cli/internal/inject"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/schema"
	"github.com/bychrisr/kaven-cli/pkg/fspath"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

type (
	// Plan lists what an install changes. Paths are project-relative and
	// slash-separated.
	Plan struct {
		Modules []ModulePlan `json:"modules"`
		// Schema is the schema output path when the merged schema changes.
		Schema string `json:"schema,omitempty"`
	}

	// ModulePlan is the part of a Plan contributed by one module.
	ModulePlan struct {
		Slug            string          `json:"slug"`
		Version         string          `json:"version"`
		Files           []string        `json:"files,omitempty"`
		Injections      []InjectionPlan `json:"injections,omitempty"`
		SchemaFragments []string        `json:"schema_fragments,omitempty"`
	}

	// InjectionPlan is one planned injection.
	InjectionPlan struct {
		File string `json:"file"`
		Key  string `json:"key"`
		// Present is set when the block is already in the file.
		Present bool `json:"present,omitempty"`
	}

	// overlay is the project as it will look after the install, built in
	// memory. A nil entry means the file does not exist.
	overlay struct {
		files map[string][]byte
	}

	fileWrite struct {
		path string
		rel  string
		data []byte
	}

	pendingInjection struct {
		target    string
		injection kavenmod.Injection
	}

	// moduleChanges is what Applying writes for one module.
	moduleChanges struct {
		cand       *candidate
		files      []fileWrite
		injections []pendingInjection
		fragments  []fileWrite
		record     *project.InstalledModuleRecord
	}

	changeSet struct {
		modules []*moduleChanges
		schema  *fileWrite
	}
)

func newOverlay() *overlay { return &overlay{files: make(map[string][]byte)} }

func (o *overlay) read(path string) ([]byte, error) {
	if data, ok := o.files[path]; ok {
		return data, nil
	}
	data, err := readOptional(path)
	if err != nil {
		return nil, err
	}
	o.files[path] = data
	return data, nil
}

func (o *overlay) write(path string, data []byte) { o.files[path] = data }

// stage computes every write of the install without touching the project.
// Injection, path and schema errors surface here.
func (r *run) stage(cands []*candidate) (*changeSet, *Plan, error) {
	ov := newOverlay()
	cs := &changeSet{}
	plan := &Plan{}

	for _, c := range cands {
		mc, mp, err := r.stageModule(ov, c)
		if err != nil {
			return nil, nil, &StageError{Stage: StageStaging, Module: c.slug(), Err: err}
		}
		cs.modules = append(cs.modules, mc)
		plan.Modules = append(plan.Modules, mp)
	}

	out, err := r.stageSchema(ov, cs)
	if err != nil {
		return nil, nil, &StageError{Stage: StageStaging, Module: r.requested, Err: err}
	}
	if out != nil {
		cs.schema = out
		plan.Schema = out.rel
	}
	return cs, plan, nil
}

func (r *run) stageModule(ov *overlay, c *candidate) (*moduleChanges, ModulePlan, error) {
	proj := r.m.project
	man := c.manifest
	prev := r.state.Get(man.Slug)

	rec := &project.InstalledModuleRecord{
		Slug:        man.Slug,
		Version:     man.Version,
		DependsOn:   slices.Clone(man.ModuleDependencies),
		InstalledAt: r.m.now().UTC(),
	}
	mc := &moduleChanges{cand: c, record: rec}
	mp := ModulePlan{Slug: man.Slug, Version: man.Version}

	for _, f := range man.Files {
		src, err := fspath.ResolveWithin(c.packageDir, f.Source)
		if err != nil {
			return nil, mp, fmt.Errorf("file source %q: %w", f.Source, err)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, mp, fmt.Errorf("package file %s: %w", f.Source, err)
		}
		dest, rel, err := resolveDest(proj.Root, f.Dest)
		if err != nil {
			return nil, mp, err
		}
		current, err := ov.read(dest)
		if err != nil {
			return nil, mp, err
		}
		if current != nil && !ownsFile(prev, rel) && !slices.Contains(rec.Files, rel) {
			return nil, mp, &FileExistsError{Module: man.Slug, Path: rel}
		}
		ov.write(dest, data)
		mc.files = append(mc.files, fileWrite{path: dest, rel: rel, data: data})
		rec.Files = append(rec.Files, rel)
		mp.Files = append(mp.Files, rel)
	}

	for _, inj := range man.Injections {
		target, rel, err := resolveDest(proj.Root, inj.File)
		if err != nil {
			return nil, mp, err
		}
		content, err := ov.read(target)
		if err != nil {
			return nil, mp, err
		}
		out, res, err := inject.Plan(rel, content, inj)
		if err != nil {
			return nil, mp, err
		}
		mp.Injections = append(mp.Injections, InjectionPlan{File: rel, Key: res.Key, Present: !res.Applied})
		mc.injections = append(mc.injections, pendingInjection{target: target, injection: inj})

		switch {
		case res.Applied:
			ov.write(target, out)
			rec.Injections = append(rec.Injections, project.AppliedInjection{
				Key:      res.Key,
				File:     rel,
				Replaced: res.Replaced,
				Original: res.Original,
				Created:  res.Created,
			})
		case prev != nil:
			// Re-running an install keeps ownership of blocks it wrote before.
			if i := slices.IndexFunc(prev.Injections, func(a project.AppliedInjection) bool {
				return a.Key == res.Key && a.File == rel
			}); i >= 0 {
				rec.Injections = append(rec.Injections, prev.Injections[i])
			}
		}
	}

	for _, name := range man.Schema {
		src, err := fspath.ResolveWithin(c.packageDir, name)
		if err != nil {
			return nil, mp, fmt.Errorf("schema fragment %q: %w", name, err)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, mp, fmt.Errorf("schema fragment %s: %w", name, err)
		}
		rel := project.FragmentRel(man.Slug, name)
		dest := proj.Abs(rel)
		ov.write(dest, data)
		mc.fragments = append(mc.fragments, fileWrite{path: dest, rel: rel, data: data})
		rec.SchemaFragments = append(rec.SchemaFragments, rel)
		mp.SchemaFragments = append(mp.SchemaFragments, rel)
	}

	if prev != nil {
		carryOver(rec, prev)
	}
	return mc, mp, nil
}

// stageSchema merges the base schema with the fragments of every module
// installed after this run and returns the output write, or nil when the
// output does not change.
func (r *run) stageSchema(ov *overlay, cs *changeSet) (*fileWrite, error) {
	next := r.state.Clone()
	touched := false
	for _, mc := range cs.modules {
		if len(mc.record.SchemaFragments) > 0 {
			touched = true
		}
		if prev := r.state.Get(mc.record.Slug); prev != nil && len(prev.SchemaFragments) > 0 {
			touched = true
		}
		rec := *mc.record
		next.Put(&rec)
	}
	if !touched {
		return nil, nil
	}

	proj := r.m.project
	merged, err := mergeProjectSchema(proj, next, ov.read)
	if err != nil {
		return nil, err
	}

	outPath := proj.SchemaOutputPath()
	current, err := ov.read(outPath)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(current, []byte(merged)) {
		return nil, nil
	}
	ov.write(outPath, []byte(merged))
	return &fileWrite{path: outPath, rel: proj.Config.Schema.Output, data: []byte(merged)}, nil
}

// mergeProjectSchema merges the base schema with the fragments of state, in
// install order, reading every file through read.
func mergeProjectSchema(proj *project.Project, state *project.State, read func(string) ([]byte, error)) (string, error) {
	base, err := read(proj.SchemaBasePath())
	if err != nil {
		return "", err
	}
	if base == nil {
		return "", fmt.Errorf("base schema %s does not exist", proj.Config.Schema.Base)
	}

	var frags []schema.Source
	for _, rec := range state.InstallOrder() {
		for _, rel := range rec.SchemaFragments {
			data, err := read(proj.Abs(rel))
			if err != nil {
				return "", err
			}
			if data == nil {
				return "", fmt.Errorf("schema fragment %s of %s is missing", rel, rec.Slug)
			}
			frags = append(frags, schema.Source{Name: rel, Data: data})
		}
	}
	return schema.Merge(schema.Source{Name: proj.Config.Schema.Base, Data: base}, frags...)
}

// resolveDest resolves a manifest path inside root and returns it together
// with its clean slash form.
func resolveDest(root, p string) (abs, rel string, err error) {
	abs, err = fspath.ResolveWithin(root, p)
	if err != nil {
		return "", "", err
	}
	rel = path.Clean(filepath.ToSlash(p))
	if rel == project.StateDirName || strings.HasPrefix(rel, project.StateDirName+"/") {
		return "", "", fmt.Errorf("%w: %s", ErrReservedPath, rel)
	}
	return abs, rel, nil
}

func ownsFile(rec *project.InstalledModuleRecord, rel string) bool {
	return rec != nil && slices.Contains(rec.Files, rel)
}

// carryOver keeps the files, blocks and directories an earlier install of
// the same module owned, so removal still cleans them up.
func carryOver(rec, prev *project.InstalledModuleRecord) {
	for _, f := range prev.Files {
		if !slices.Contains(rec.Files, f) {
			rec.Files = append(rec.Files, f)
		}
	}
	for _, a := range prev.Injections {
		if !slices.ContainsFunc(rec.Injections, func(b project.AppliedInjection) bool { return a.Key == b.Key && a.File == b.File }) {
			rec.Injections = append(rec.Injections, a)
		}
	}
	for _, d := range prev.Dirs {
		if !slices.Contains(rec.Dirs, d) {
			rec.Dirs = append(rec.Dirs, d)
		}
	}
}
