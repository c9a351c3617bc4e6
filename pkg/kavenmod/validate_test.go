// SPDX-License-Identifier: MPL-2.0

package kavenmod

import (
	"errors"
	"strings"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Name:    "Payments",
		Slug:    "payments",
		Version: "1.0.0",
		Files:   []ModuleFile{{Source: "src/a.ts", Dest: "src/modules/a.ts"}},
		Injections: []Injection{
			{File: "src/app.ts", Kind: KindAnchor, Anchor: "routes", Strategy: StrategyAppend, Content: "x"},
		},
		Schema: []string{"prisma/payments.prisma"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(m *Manifest)
		wantField string
	}{
		{"valid", func(*Manifest) {}, ""},
		{"bad slug", func(m *Manifest) { m.Slug = "Payments_v2" }, "slug"},
		{"bad version", func(m *Manifest) { m.Version = "1.0" }, "version"},
		{"v prefix accepted", func(m *Manifest) { m.Version = "v2.1.0-rc.1" }, ""},
		{"dest traversal", func(m *Manifest) { m.Files[0].Dest = "../../etc/passwd" }, "files[0].dest"},
		{"absolute dest", func(m *Manifest) { m.Files[0].Dest = "/etc/passwd" }, "files[0].dest"},
		{"self dependency", func(m *Manifest) { m.ModuleDependencies = []string{"payments"} }, "moduleDependencies[0]"},
		{"duplicate dependency", func(m *Manifest) { m.ModuleDependencies = []string{"auth", "auth"} }, "moduleDependencies[1]"},
		{"anchor without name", func(m *Manifest) { m.Injections[0].Anchor = "" }, "injections[0].anchor"},
		{"strategy mismatch", func(m *Manifest) { m.Injections[0].Strategy = StrategyReplace }, "injections[0].strategy"},
		{"patch without pattern", func(m *Manifest) {
			m.Injections[0] = Injection{File: "a.ts", Kind: KindPatch, Strategy: StrategyAfter}
		}, "injections[0].pattern"},
		{"bad regex", func(m *Manifest) {
			m.Injections[0] = Injection{File: "a.ts", Kind: KindPatch, Pattern: "([", Regex: true, Strategy: StrategyReplace}
		}, "injections[0].pattern"},
		{"injection file escapes", func(m *Manifest) { m.Injections[0].File = "../outside.ts" }, "injections[0].file"},
		{"schema not prisma", func(m *Manifest) { m.Schema = []string{"prisma/x.sql"} }, "schema[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := validManifest()
			tt.mutate(m)
			err := m.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var merr *ManifestError
			if !errors.As(err, &merr) {
				t.Fatalf("expected *ManifestError, got %v", err)
			}
			if !errors.Is(err, ErrInvalidManifest) {
				t.Error("ManifestError must wrap ErrInvalidManifest")
			}
			found := false
			for _, issue := range merr.Issues {
				if issue.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no issue for %s in %v", tt.wantField, merr.Issues)
			}
		})
	}
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	t.Parallel()

	m := validManifest()
	m.Slug = "BAD"
	m.Version = "nope"
	m.Files[0].Dest = "../x"

	var merr *ManifestError
	if !errors.As(m.Validate(), &merr) {
		t.Fatal("expected *ManifestError")
	}
	if len(merr.Issues) != 3 {
		t.Errorf("expected 3 issues, got %d: %v", len(merr.Issues), merr.Issues)
	}
	if !strings.Contains(merr.Error(), "\n  ") {
		t.Errorf("multi-issue error should be one issue per line, got %q", merr.Error())
	}
}

func TestCheckRelativePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"src/a.ts", false},
		{"./src/a.ts", false},
		{"src/../a.ts", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../a", true},
		{"src/../../a", true},
		{"/abs", true},
		{`C:\x`, true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		if err := CheckRelativePath(tt.path); (err != nil) != tt.wantErr {
			t.Errorf("CheckRelativePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	if CompareVersions("1.2.0", "1.10.0") >= 0 {
		t.Error("1.2.0 should sort before 1.10.0")
	}
	if CompareVersions("v1.0.0", "1.0.0") != 0 {
		t.Error("v prefix should not affect ordering")
	}
	if CompareVersions("1.0.0-rc.1", "1.0.0") >= 0 {
		t.Error("prerelease should sort before release")
	}
}
