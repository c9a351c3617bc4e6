// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"archive/zip"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/passport"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/registry"
	"github.com/bychrisr/kaven-cli/internal/testutil"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

const appTS = `import express from "express";

const app = express();
const port = 3000;

// kaven:anchor routes
// kaven:anchor-end routes

export default app;
`

const baseSchema = `datasource db {
  provider = "postgresql"
}

model User {
  id    String @id
  email String @unique
}
`

const paymentsFragment = `model Payment {
  id     String @id
  amount Float
}

model User {
  payments Payment[]
}
`

type (
	fixture struct {
		root     string
		project  *project.Project
		regDir   string
		priv     ed25519.PrivateKey
		verifier *integrity.Verifier
		reg      *recordingRegistry
		gate     *fakeGate
		clock    *testutil.FakeClock
		manager  *Manager
	}

	// recordingRegistry is a directory registry that remembers what was
	// downloaded.
	recordingRegistry struct {
		*registry.Dir
		mu        sync.Mutex
		downloads []string
	}

	fakeGate struct {
		mu     sync.Mutex
		denied map[string]bool
		calls  []string
	}
)

func (r *recordingRegistry) Download(ctx context.Context, ref registry.ArtifactRef, dest string) error {
	r.mu.Lock()
	r.downloads = append(r.downloads, filepath.Base(ref.URL))
	r.mu.Unlock()
	return r.Dir.Download(ctx, ref, dest)
}

func (r *recordingRegistry) packageDownloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.downloads {
		if d == "package.zip" {
			n++
		}
	}
	return n
}

func (r *recordingRegistry) downloadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downloads)
}

func (g *fakeGate) CheckEntitlement(_ context.Context, _ auth.Session, slug string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, slug)
	if g.denied[slug] {
		return false, &passport.EntitlementError{Slug: slug, Reason: "entitlement is expired"}
	}
	return true, nil
}

func (g *fakeGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	proj, err := project.Init(root, "acme")
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(root, "src", "app.ts"), appTS)
	testutil.WriteFile(t, filepath.Join(root, "prisma", "base.prisma"), baseSchema)
	testutil.WriteFile(t, filepath.Join(root, "prisma", "schema.prisma"), baseSchema)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := integrity.NewVerifier(hex.EncodeToString(pub), nil)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		root:     root,
		project:  proj,
		regDir:   t.TempDir(),
		priv:     priv,
		verifier: verifier,
		gate:     &fakeGate{denied: map[string]bool{}},
		clock:    testutil.NewFakeClock(time.Time{}),
	}
	f.reg = &recordingRegistry{Dir: registry.NewDir(f.regDir)}
	f.manager = f.newManager(t, f.gate)
	return f
}

func (f *fixture) newManager(t *testing.T, gate Gatekeeper) *Manager {
	t.Helper()
	return NewManager(f.project, f.reg, f.verifier, gate, WithClock(f.clock.Now), WithTempDir(t.TempDir()))
}

// publish signs man and a package holding files into the registry.
func (f *fixture) publish(t *testing.T, man kavenmod.Manifest, files map[string]string) registry.Release {
	t.Helper()

	dir := filepath.Join(f.regDir, man.Slug)
	data, err := json.Marshal(man)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(dir, kavenmod.ManifestFileName), string(data))
	writeZip(t, filepath.Join(dir, "package.zip"), files)

	rel := registry.Release{
		Slug:     man.Slug,
		Version:  man.Version,
		Manifest: f.sign(t, filepath.Join(dir, kavenmod.ManifestFileName), kavenmod.ManifestFileName),
		Package:  f.sign(t, filepath.Join(dir, "package.zip"), "package.zip"),
	}
	f.writeRelease(t, rel)
	return rel
}

func (f *fixture) sign(t *testing.T, path, url string) registry.ArtifactRef {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := integrity.Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	return registry.ArtifactRef{URL: url, Checksum: sum, Signature: hex.EncodeToString(ed25519.Sign(f.priv, data))}
}

func (f *fixture) writeRelease(t *testing.T, rel registry.Release) {
	t.Helper()
	data, err := json.MarshalIndent(rel, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(f.regDir, rel.Slug, registry.ReleaseFileName), string(data))
}

func (f *fixture) snapshot(t *testing.T, skip ...string) map[string]string {
	t.Helper()
	return testutil.SnapshotTree(t, f.root, skip...)
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(out)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(entries[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func paymentsManifest() kavenmod.Manifest {
	return kavenmod.Manifest{
		Name:    "Payments",
		Slug:    "payments",
		Version: "1.0.0",
		Files:   []kavenmod.ModuleFile{{Source: "files/routes.ts", Dest: "src/payments/routes.ts"}},
		Injections: []kavenmod.Injection{
			{
				File:      "src/app.ts",
				Kind:      kavenmod.KindAnchor,
				Anchor:    "routes",
				Strategy:  kavenmod.StrategyAppend,
				Content:   `app.use("/payments", payments);`,
				DedupeKey: "payments-routes",
			},
			{
				File:      "src/app.ts",
				Kind:      kavenmod.KindPatch,
				Pattern:   "3000",
				Strategy:  kavenmod.StrategyReplace,
				Content:   "Number(process.env.PORT)",
				DedupeKey: "payments-port",
			},
			{
				File:            "config/payments.env",
				Kind:            kavenmod.KindAnchor,
				Anchor:          "env",
				Strategy:        kavenmod.StrategyAppend,
				Content:         "STRIPE_KEY=",
				CreateIfMissing: true,
			},
		},
		Schema: []string{"schema/payments.prisma"},
	}
}

func paymentsFiles() map[string]string {
	return map[string]string{
		"files/routes.ts":        "export const payments = [];\n",
		"schema/payments.prisma": paymentsFragment,
	}
}

func simpleManifest(slug string, deps ...string) kavenmod.Manifest {
	return kavenmod.Manifest{
		Name:               slug,
		Slug:               slug,
		Version:            "0.1.0",
		ModuleDependencies: deps,
		Files:              []kavenmod.ModuleFile{{Source: "index.ts", Dest: "src/" + slug + "/index.ts"}},
	}
}

func simpleFiles(slug string) map[string]string {
	return map[string]string{"index.ts": "export const " + slug + " = true;\n"}
}
