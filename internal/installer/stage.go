// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"strings"
)

// Install pipeline stages.
const (
	StageResolving  Stage = "resolving"
	StageVerifying  Stage = "verifying"
	StageGating     Stage = "gating"
	StageFetching   Stage = "fetching"
	StageStaging    Stage = "staging"
	StageApplying   Stage = "applying"
	StageCommitted  Stage = "committed"
	StageRolledBack Stage = "rolled-back"
)

var (
	// ErrNotInstalled is wrapped by *NotInstalledError.
	ErrNotInstalled = errors.New("module is not installed")
	// ErrHasDependents is wrapped by *HasDependentsError.
	ErrHasDependents = errors.New("module is required by other installed modules")
	// ErrFileExists is wrapped by *FileExistsError.
	ErrFileExists = errors.New("destination file already exists")
	// ErrReservedPath is returned for module files aimed at the .kaven directory.
	ErrReservedPath = errors.New("destination is reserved for kaven state")
)

type (
	// Stage is a step of the install pipeline.
	Stage string

	// StageError reports the stage an install failed in.
	StageError struct {
		Stage  Stage
		Module string
		Err    error
		// RolledBack is set when writes made before the failure were undone.
		RolledBack bool
		// RollbackErr holds what could not be undone. The project may then
		// differ from its pre-install state.
		RollbackErr error
	}

	// NotInstalledError is returned when removing a module that is not installed.
	NotInstalledError struct {
		Slug string
	}

	// HasDependentsError is returned when removing a module other installed
	// modules depend on.
	HasDependentsError struct {
		Slug       string
		Dependents []string
	}

	// FileExistsError is returned when a module file would overwrite a file
	// the module does not own.
	FileExistsError struct {
		Module string
		Path   string
	}
)

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stage", e.Stage)
	if e.Module != "" {
		fmt.Fprintf(&b, ": %s", e.Module)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	switch {
	case e.RollbackErr != nil:
		fmt.Fprintf(&b, " (rollback incomplete: %v)", e.RollbackErr)
	case e.RolledBack:
		b.WriteString(" (changes rolled back)")
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// Final is the state the run ended in: StageRolledBack when writes were
// undone, otherwise the failing stage.
func (e *StageError) Final() Stage {
	if e.RolledBack {
		return StageRolledBack
	}
	return e.Stage
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("module %q is not installed", e.Slug)
}

func (e *NotInstalledError) Unwrap() error { return ErrNotInstalled }

func (e *HasDependentsError) Error() string {
	return fmt.Sprintf("module %q is required by %s", e.Slug, strings.Join(e.Dependents, ", "))
}

func (e *HasDependentsError) Unwrap() error { return ErrHasDependents }

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("%s: %s already exists and is not owned by the module", e.Module, e.Path)
}

func (e *FileExistsError) Unwrap() error { return ErrFileExists }
