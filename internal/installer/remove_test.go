// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bychrisr/kaven-cli/internal/schema"
	"github.com/bychrisr/kaven-cli/internal/testutil"
)

func TestRemove_RestoresProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, paymentsManifest(), paymentsFiles())
	before := f.snapshot(t, ".kaven")

	if _, err := f.manager.Install(t.Context(), "payments", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, err := f.manager.Remove(t.Context(), "payments")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if rec.Slug != "payments" {
		t.Errorf("removed record = %+v", rec)
	}

	if diff := cmp.Diff(before, f.snapshot(t, ".kaven")); diff != "" {
		t.Errorf("project not restored (-before +after):\n%s", diff)
	}
	for _, dir := range []string{"src/payments", "config", ".kaven/schema/payments"} {
		if _, err := os.Stat(filepath.Join(f.root, dir)); !os.IsNotExist(err) {
			t.Errorf("%s should be gone, stat err = %v", dir, err)
		}
	}
	records, err := f.manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("records left after remove: %+v", records)
	}
}

func TestRemove_KeepsUserEditsOutsideBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, paymentsManifest(), paymentsFiles())
	if _, err := f.manager.Install(t.Context(), "payments", InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	appPath := filepath.Join(f.root, "src", "app.ts")
	testutil.WriteFile(t, appPath, testutil.ReadFile(t, appPath)+"app.listen(port);\n")

	if _, err := f.manager.Remove(t.Context(), "payments"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(appTS+"app.listen(port);\n", testutil.ReadFile(t, appPath)); diff != "" {
		t.Errorf("app.ts mismatch (-want +got):\n%s", diff)
	}
}

func TestRemove_Errors(t *testing.T) {
	t.Parallel()

	t.Run("not installed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.manager.Remove(t.Context(), "payments")
		var nie *NotInstalledError
		if !errors.As(err, &nie) || !errors.Is(err, ErrNotInstalled) {
			t.Errorf("expected NotInstalledError, got %v", err)
		}
	})

	t.Run("has dependents", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.publish(t, simpleManifest("billing", "payments"), simpleFiles("billing"))
		f.publish(t, simpleManifest("payments"), simpleFiles("payments"))
		if _, err := f.manager.Install(t.Context(), "billing", InstallOptions{}); err != nil {
			t.Fatal(err)
		}
		installed := f.snapshot(t)

		_, err := f.manager.Remove(t.Context(), "payments")
		var hde *HasDependentsError
		if !errors.As(err, &hde) {
			t.Fatalf("expected HasDependentsError, got %v", err)
		}
		if diff := cmp.Diff([]string{"billing"}, hde.Dependents); diff != "" {
			t.Errorf("dependents mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(installed, f.snapshot(t)); diff != "" {
			t.Errorf("refused removal changed the project (-before +after):\n%s", diff)
		}

		if _, err := f.manager.Remove(t.Context(), "billing"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.manager.Remove(t.Context(), "payments"); err != nil {
			t.Errorf("payments should be removable once billing is gone: %v", err)
		}
	})

	t.Run("unterminated block rolls back", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.publish(t, paymentsManifest(), paymentsFiles())
		if _, err := f.manager.Install(t.Context(), "payments", InstallOptions{}); err != nil {
			t.Fatal(err)
		}

		appPath := filepath.Join(f.root, "src", "app.ts")
		broken := strings.Replace(testutil.ReadFile(t, appPath), "// kaven:end payments-routes\n", "", 1)
		testutil.WriteFile(t, appPath, broken)
		before := f.snapshot(t)

		_, err := f.manager.Remove(t.Context(), "payments")
		if err == nil || !strings.Contains(err.Error(), "rolled back") {
			t.Fatalf("expected a rolled back failure, got %v", err)
		}
		if diff := cmp.Diff(before, f.snapshot(t)); diff != "" {
			t.Errorf("project not restored (-before +after):\n%s", diff)
		}
	})
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, paymentsManifest(), paymentsFiles())
	if _, err := f.manager.Install(t.Context(), "payments", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(f.root, "prisma", "schema.prisma")
	installed := testutil.ReadFile(t, outPath)
	if err := os.Remove(outPath); err != nil {
		t.Fatal(err)
	}

	res, err := f.manager.Generate(t.Context())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Changed || res.Fragments != 1 || res.Output != "prisma/schema.prisma" {
		t.Errorf("result = %+v", res)
	}
	if got := testutil.ReadFile(t, outPath); got != installed {
		t.Errorf("regenerated schema differs from the installed one:\n%s", got)
	}

	res, err = f.manager.Generate(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("second Generate should not change the output")
	}
}

func TestGenerate_ConflictWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, paymentsManifest(), paymentsFiles())
	if _, err := f.manager.Install(t.Context(), "payments", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(f.root, "prisma", "base.prisma"),
		baseSchema+"\nmodel Payment {\n  id     String @id\n  amount Int\n}\n")
	outPath := filepath.Join(f.root, "prisma", "schema.prisma")
	before := testutil.ReadFile(t, outPath)

	_, err := f.manager.Generate(t.Context())
	var conflict *schema.SchemaConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SchemaConflictError, got %v", err)
	}
	if conflict.Model != "Payment" || conflict.Field != "amount" {
		t.Errorf("conflict = %+v", conflict)
	}
	if got := testutil.ReadFile(t, outPath); got != before {
		t.Error("output must not be written on conflict")
	}
}
