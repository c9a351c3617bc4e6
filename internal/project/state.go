// SPDX-License-Identifier: MPL-2.0

package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

const (
	// StateFileName is the installed-modules state file inside .kaven/.
	StateFileName = "modules.json"

	// StateVersion is the current state file format.
	StateVersion = 1
)

// ErrUnsupportedState is returned for state files written by a newer kaven.
var ErrUnsupportedState = errors.New("unsupported state file version")

type (
	// State is the set of modules installed in a project.
	State struct {
		Version int                               `json:"version"`
		Modules map[string]*InstalledModuleRecord `json:"modules"`
	}

	// InstalledModuleRecord is everything Remove needs to undo an install.
	// Paths are slash-separated and relative to the project root.
	InstalledModuleRecord struct {
		Slug      string   `json:"slug"`
		Version   string   `json:"version"`
		DependsOn []string `json:"depends_on,omitempty"`
		// Sequence orders records by installation, oldest first.
		Sequence        int                `json:"sequence"`
		Injections      []AppliedInjection `json:"injections,omitempty"`
		Files           []string           `json:"files,omitempty"`
		Dirs            []string           `json:"dirs,omitempty"`
		SchemaFragments []string           `json:"schema_fragments,omitempty"`
		InstalledAt     time.Time          `json:"installed_at"`
	}

	// AppliedInjection records one sentinel block written by an install.
	AppliedInjection struct {
		Key      string `json:"key"`
		File     string `json:"file"`
		Replaced bool   `json:"replaced,omitempty"`
		// Original holds the lines a replace patch rewrote.
		Original string `json:"original,omitempty"`
		Created  bool   `json:"created,omitempty"`
	}
)

// StatePath is the absolute path of the state file.
func (p *Project) StatePath() string { return filepath.Join(p.StateDir(), StateFileName) }

// LoadState reads the state file. A missing file is an empty state.
func (p *Project) LoadState() (*State, error) {
	data, err := os.ReadFile(p.StatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return &State{Version: StateVersion, Modules: map[string]*InstalledModuleRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.StatePath(), err)
	}
	if s.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d (this kaven understands %d)", ErrUnsupportedState, s.Version, StateVersion)
	}
	if s.Modules == nil {
		s.Modules = map[string]*InstalledModuleRecord{}
	}
	s.Version = StateVersion
	return &s, nil
}

// SaveState writes s atomically.
func (p *Project) SaveState(s *State) error {
	if err := os.MkdirAll(p.StateDir(), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fspath.WriteFileAtomic(p.StatePath(), append(data, '\n'), 0o644)
}

// Get returns the record for slug, or nil.
func (s *State) Get(slug string) *InstalledModuleRecord { return s.Modules[slug] }

// Put adds or replaces a record. New records are sequenced after every
// existing one; replaced records keep their position.
func (s *State) Put(rec *InstalledModuleRecord) {
	if old := s.Modules[rec.Slug]; old != nil {
		rec.Sequence = old.Sequence
	} else {
		next := 0
		for _, r := range s.Modules {
			next = max(next, r.Sequence)
		}
		rec.Sequence = next + 1
	}
	s.Modules[rec.Slug] = rec
}

// Delete drops the record for slug.
func (s *State) Delete(slug string) { delete(s.Modules, slug) }

// Records returns the records sorted by slug.
func (s *State) Records() []*InstalledModuleRecord {
	out := make([]*InstalledModuleRecord, 0, len(s.Modules))
	for _, r := range s.Modules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *InstalledModuleRecord) int { return strings.Compare(a.Slug, b.Slug) })
	return out
}

// InstallOrder returns the records oldest first.
func (s *State) InstallOrder() []*InstalledModuleRecord {
	out := s.Records()
	slices.SortStableFunc(out, func(a, b *InstalledModuleRecord) int { return a.Sequence - b.Sequence })
	return out
}

// Dependents returns the slugs of installed modules that depend on slug,
// sorted.
func (s *State) Dependents(slug string) []string {
	var out []string
	for _, r := range s.Records() {
		if slices.Contains(r.DependsOn, slug) {
			out = append(out, r.Slug)
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("state is not serializable: %v", err))
	}
	var c State
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("state is not serializable: %v", err))
	}
	return &c
}
