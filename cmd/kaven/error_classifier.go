// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/dag"
	"github.com/bychrisr/kaven-cli/internal/inject"
	"github.com/bychrisr/kaven-cli/internal/installer"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/issue"
	"github.com/bychrisr/kaven-cli/internal/passport"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/projectlock"
	"github.com/bychrisr/kaven-cli/internal/registry"
	"github.com/bychrisr/kaven-cli/internal/schema"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

// errorHint attaches a guidance page and suggestions to errors matching target.
type errorHint struct {
	target      error
	issue       issue.Id
	suggestions []string
}

// errorHints is ordered: the first matching target wins.
var errorHints = []errorHint{
	{project.ErrNotProjectRoot, issue.NotProjectRootId, []string{"Run kaven from a directory containing kaven.toml"}},
	{auth.ErrNotLoggedIn, issue.NotLoggedInId, []string{"Run 'kaven auth login --email <email>'"}},
	{api.ErrUnauthorized, issue.NotLoggedInId, []string{"Your session was rejected; run 'kaven auth login' again"}},
	{passport.ErrEntitlement, issue.NotEntitledId, []string{
		"Check the module's status in your marketplace account",
		"Pass a license key with --license or KAVEN_LICENSE_KEY",
	}},
	{integrity.ErrNoTrustedKey, issue.IntegrityFailedId, []string{"Set trust.publisher_key in the config file"}},
	{integrity.ErrIntegrity, issue.IntegrityFailedId, []string{"Retry the install; report the module to its publisher if it keeps failing"}},
	{integrity.ErrInvalidLength, issue.IntegrityFailedId, []string{"Report the module to its publisher"}},
	{kavenmod.ErrInvalidManifest, issue.InvalidManifestId, nil},
	{dag.ErrCycle, issue.DependencyCycleId, nil},
	{registry.ErrModuleNotFound, issue.ModuleNotFoundId, []string{"Check the module slug for typos"}},
	{inject.ErrTargetNotFound, issue.InjectionTargetId, nil},
	{inject.ErrAnchorNotFound, issue.InjectionTargetId, []string{"Restore the kaven:anchor markers the module expects"}},
	{inject.ErrPatternNotFound, issue.InjectionTargetId, nil},
	{inject.ErrAmbiguousPatch, issue.InjectionTargetId, nil},
	{inject.ErrUnterminatedBlock, issue.InjectionTargetId, []string{"Restore the kaven:end marker that was deleted"}},
	{schema.ErrSchemaConflict, issue.SchemaConflictId, nil},
	{schema.ErrSchemaSyntax, 0, []string{"Fix the schema file named above"}},
	{projectlock.ErrLockContention, issue.ProjectLockedId, []string{"Wait for the other kaven process to finish"}},
	{installer.ErrHasDependents, issue.HasDependentsId, []string{"Remove the dependent modules first"}},
	{installer.ErrNotInstalled, 0, []string{"Run 'kaven module list' to see installed modules"}},
	{installer.ErrFileExists, 0, []string{"Move the existing file aside and retry"}},
}

// commandError wraps a pipeline failure for display: the matching hint adds
// suggestions and a guidance page, and the exit code is ExitFailure.
func commandError(operation, resource string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	ctx := issue.NewErrorContext().WithOperation(operation).WithResource(resource).Wrap(err)
	if hint, ok := hintFor(err); ok {
		ctx = ctx.WithIssue(hint.issue).WithSuggestions(hint.suggestions...)
	}
	return &ExitError{Code: ExitFailure, Err: ctx.Build()}
}

func hintFor(err error) (errorHint, bool) {
	for _, h := range errorHints {
		if errors.Is(err, h.target) {
			return h, true
		}
	}
	return errorHint{}, false
}

// renderError prints err with its suggestions, followed by its guidance page
// when one is linked.
func renderError(w io.Writer, err error, verbose bool, stylePath string) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), ae.Format(verbose))
	if ae.Issue == 0 {
		return
	}
	if entry := issue.Get(ae.Issue); entry != nil {
		rendered, renderErr := entry.Render(stylePath)
		if renderErr != nil {
			fmt.Fprintln(w, WarningStyle.Render("failed to render guidance: "+renderErr.Error()))
			return
		}
		fmt.Fprint(w, rendered)
	}
}
