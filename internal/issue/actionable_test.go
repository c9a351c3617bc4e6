// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableErrorError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{"operation only", &ActionableError{Operation: "install module"}, "failed to install module"},
		{"with resource", &ActionableError{Operation: "install module", Resource: "payments"}, "failed to install module: payments"},
		{
			"with cause",
			&ActionableError{Operation: "install module", Resource: "payments", Cause: errors.New("boom")},
			"failed to install module: payments: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorUnwrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := NewErrorContext().WithOperation("remove module").Wrap(fmt.Errorf("ctx: %w", sentinel)).BuildError()
	if !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(err, sentinel) = false")
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	inner := errors.New("disk full")
	err := NewErrorContext().
		WithOperation("write schema").
		WithResource("prisma/schema.prisma").
		WithSuggestions("Free some space", "Retry").
		WithIssue(SchemaConflictId).
		Wrap(fmt.Errorf("rename: %w", inner)).
		Build()

	short := err.Format(false)
	if !strings.Contains(short, "  • Free some space") || !strings.Contains(short, "  • Retry") {
		t.Errorf("Format(false) missing suggestions:\n%s", short)
	}
	if strings.Contains(short, "Error chain") {
		t.Errorf("Format(false) includes the error chain:\n%s", short)
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "1. rename: disk full") || !strings.Contains(verbose, "2. disk full") {
		t.Errorf("Format(true) missing chain:\n%s", verbose)
	}
	if err.Issue != SchemaConflictId {
		t.Errorf("Issue = %d, want %d", err.Issue, SchemaConflictId)
	}
}

func TestBuildWithoutOperation(t *testing.T) {
	t.Parallel()

	if NewErrorContext().Wrap(errors.New("x")).Build() != nil {
		t.Error("Build() without operation != nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation != nil")
	}
}

func TestWrapWithContext(t *testing.T) {
	t.Parallel()

	if WrapWithContext(nil, "op", "res") != nil {
		t.Error("WrapWithContext(nil) != nil")
	}
	got := WrapWithContext(errors.New("boom"), "op", "res")
	if got.Error() != "failed to op: res: boom" {
		t.Errorf("Error() = %q", got.Error())
	}
}
