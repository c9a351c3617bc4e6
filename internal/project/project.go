// SPDX-License-Identifier: MPL-2.0

// Package project locates the kaven project a command runs in and owns its
// on-disk state under .kaven/.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ConfigFileName marks a project root.
	ConfigFileName = "kaven.toml"

	// StateDirName holds engine state inside a project.
	StateDirName = ".kaven"

	defaultSchemaBase   = "prisma/base.prisma"
	defaultSchemaOutput = "prisma/schema.prisma"
)

// ErrNotProjectRoot is returned when no kaven.toml is found.
var ErrNotProjectRoot = errors.New("not inside a kaven project")

type (
	// Config is the decoded kaven.toml.
	Config struct {
		Project ProjectSection `toml:"project"`
		Schema  SchemaSection  `toml:"schema"`
	}

	// ProjectSection identifies the project.
	ProjectSection struct {
		Name         string `toml:"name"`
		KavenVersion string `toml:"kaven_version"`
	}

	// SchemaSection names the pristine base schema and the merged output,
	// both relative to the project root.
	SchemaSection struct {
		Base   string `toml:"base"`
		Output string `toml:"output"`
	}

	// Project is a discovered project root with its configuration.
	Project struct {
		Root   string
		Config Config
	}

	// NotProjectRootError reports where discovery started.
	NotProjectRootError struct {
		Start string
	}
)

func (e *NotProjectRootError) Error() string {
	return fmt.Sprintf("no %s found in %s or any parent directory", ConfigFileName, e.Start)
}

func (e *NotProjectRootError) Unwrap() error { return ErrNotProjectRoot }

// Find walks up from start until it finds kaven.toml.
func Find(start string) (*Project, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}
	for dir := abs; ; {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return Open(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, &NotProjectRootError{Start: abs}
		}
		dir = parent
	}
}

// Open loads the project rooted at root.
func Open(root string) (*Project, error) {
	path := filepath.Join(root, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotProjectRootError{Start: root}
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", path, row, col, decodeErr.Error())
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Schema.Base == "" {
		cfg.Schema.Base = defaultSchemaBase
	}
	if cfg.Schema.Output == "" {
		cfg.Schema.Output = defaultSchemaOutput
	}
	return &Project{Root: root, Config: cfg}, nil
}

// Init writes a kaven.toml for name into root. An existing file is kept.
func Init(root, name string) (*Project, error) {
	path := filepath.Join(root, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return Open(root)
	}
	cfg := Config{
		Project: ProjectSection{Name: name},
		Schema:  SchemaSection{Base: defaultSchemaBase, Output: defaultSchemaOutput},
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return &Project{Root: root, Config: cfg}, nil
}

// StateDir is the absolute .kaven directory.
func (p *Project) StateDir() string { return filepath.Join(p.Root, StateDirName) }

// SchemaBasePath is the absolute path of the base schema.
func (p *Project) SchemaBasePath() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.Config.Schema.Base))
}

// SchemaOutputPath is the absolute path of the merged schema.
func (p *Project) SchemaOutputPath() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.Config.Schema.Output))
}

// LockPath is the install lock file.
func (p *Project) LockPath() string { return filepath.Join(p.StateDir(), "install.lock") }
