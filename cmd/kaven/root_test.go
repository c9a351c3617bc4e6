// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bychrisr/kaven-cli/internal/installer"
	"github.com/bychrisr/kaven-cli/internal/issue"
	"github.com/bychrisr/kaven-cli/internal/passport"
	"github.com/bychrisr/kaven-cli/internal/testutil"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got, want := getVersionString(), "dev (built from source)"; got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", usageError(errors.New("accepts 1 arg(s), received 0")), ExitUsage},
		{"unknown command", errors.New(`unknown command "frobnicate" for "kaven"`), ExitUsage},
		{"unknown flag", errors.New("unknown flag: --bogus"), ExitUsage},
		{"pipeline", commandError("install module", "payments", errors.New("boom")), ExitFailure},
		{"plain", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCommandErrorHints(t *testing.T) {
	t.Parallel()

	denied := &installer.StageError{
		Stage:  installer.StageGating,
		Module: "payments",
		Err:    &passport.EntitlementError{Slug: "payments", Reason: "entitlement is expired"},
	}
	err := commandError("install module", "payments", denied)

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *issue.ActionableError, got %T", err)
	}
	if ae.Issue != issue.NotEntitledId {
		t.Errorf("Issue = %d, want %d", ae.Issue, issue.NotEntitledId)
	}
	if !errors.Is(err, passport.ErrEntitlement) {
		t.Error("the cause must stay reachable through errors.Is")
	}

	var out bytes.Buffer
	renderError(&out, err, false, "notty")
	for _, want := range []string{"failed to install module: payments", "gating stage", "--license"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("rendered error lacks %q:\n%s", want, out.String())
		}
	}

	if commandError("x", "", nil) != nil {
		t.Error("commandError(nil) must be nil")
	}
	plain := commandError("list modules", "", errors.New("disk on fire"))
	if !errors.As(plain, &ae) || ae.Issue != 0 || ae.HasSuggestions() {
		t.Errorf("unclassified errors carry no hints, got %#v", ae)
	}
}

func TestDBGenerate(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	base := "model User {\n  id String @id\n}\n"
	testutil.WriteFile(t, filepath.Join(e.root, "prisma", "base.prisma"), base)

	res := e.run(t, "db", "generate")
	if res.err != nil {
		t.Fatalf("db generate: %v", res.err)
	}
	if !strings.Contains(res.stdout, "Wrote") {
		t.Errorf("output = %q", res.stdout)
	}
	if got := testutil.ReadFile(t, filepath.Join(e.root, "prisma", "schema.prisma")); got != base {
		t.Errorf("schema.prisma = %q, want %q", got, base)
	}

	res = e.run(t, "db", "generate")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.Contains(res.stdout, "up to date") {
		t.Errorf("second run output = %q", res.stdout)
	}
}

func TestConfigShow(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	res := e.run(t, "config", "show")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.Contains(res.stdout, e.regDir) || !strings.Contains(res.stdout, e.market.server.URL) {
		t.Errorf("config show output = %q", res.stdout)
	}
	if !strings.Contains(res.stderr, e.cfgFile) {
		t.Errorf("config source not reported: %q", res.stderr)
	}

	res = e.run(t, "config", "path")
	if res.err != nil || strings.TrimSpace(res.stdout) != e.cfgFile {
		t.Errorf("config path = %q, err = %v", res.stdout, res.err)
	}
}

func TestConfigLoadFailure(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	if err := os.WriteFile(e.cfgFile, []byte("api: retries: 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := e.run(t, "module", "list")
	var ae *issue.ActionableError
	if !errors.As(res.err, &ae) || ae.Issue != issue.ConfigLoadFailedId {
		t.Errorf("expected config guidance, got %v", res.err)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	res := e.run(t, "version")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.HasPrefix(res.stdout, "kaven ") {
		t.Errorf("version output = %q", res.stdout)
	}
}
