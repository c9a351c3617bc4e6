// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/zip"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bychrisr/kaven-cli/internal/api"
	"github.com/bychrisr/kaven-cli/internal/auth"
	"github.com/bychrisr/kaven-cli/internal/integrity"
	"github.com/bychrisr/kaven-cli/internal/project"
	"github.com/bychrisr/kaven-cli/internal/registry"
	"github.com/bychrisr/kaven-cli/internal/testutil"
	"github.com/bychrisr/kaven-cli/internal/vault"
	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

const (
	testLicenseKey = "KAVEN-ABCD-EFGH-IJKL"

	serverTS = `import express from "express";

const app = express();

// kaven:anchor routes
// kaven:anchor-end routes

export default app;
`
)

type (
	// cliEnv is a project, an offline registry and a fake marketplace.
	cliEnv struct {
		root     string
		regDir   string
		priv     ed25519.PrivateKey
		cfgFile  string
		vaultDir string
		secrets  *vault.MemoryStore
		market   *fakeMarket
		env      auth.Environment
		stdin    string
	}

	fakeMarket struct {
		mu        sync.Mutex
		server    *httptest.Server
		validKeys map[string]bool
		logins    int
	}

	cliResult struct {
		stdout string
		stderr string
		err    error
	}
)

func newFakeMarket(t *testing.T) *fakeMarket {
	t.Helper()
	m := &fakeMarket{validKeys: map[string]bool{testLicenseKey: true}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/licenses/validate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		valid := m.validKeys[body.Key]
		m.mu.Unlock()
		writeJSON(w, api.LicenseResponse{Valid: valid})
	})
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"error": "invalid_credentials"})
			return
		}
		m.mu.Lock()
		m.logins++
		m.mu.Unlock()
		writeJSON(w, api.AuthResponse{
			AccessToken:  "opaque-access",
			RefreshToken: "opaque-refresh",
			User:         api.AuthUser{ID: "usr_1", Email: body.Email},
		})
	})
	mux.HandleFunc("GET /v1/me/entitlements", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, []api.Entitlement{{ModuleSlug: "payments", Status: api.StatusActive}})
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *fakeMarket) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	root := t.TempDir()
	if _, err := project.Init(root, "acme"); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(root, "src", "server.ts"), serverTS)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	e := &cliEnv{
		root:     root,
		regDir:   t.TempDir(),
		priv:     priv,
		vaultDir: t.TempDir(),
		secrets:  vault.NewMemoryStore(),
		market:   newFakeMarket(t),
	}
	e.cfgFile = filepath.Join(t.TempDir(), "config.cue")
	testutil.WriteFile(t, e.cfgFile, fmt.Sprintf(`api: {
	base_url: %q
	retries:  1
}
registry: dir: %q
trust: publisher_key: %q
`, e.market.server.URL, e.regDir, hex.EncodeToString(pub)))
	return e
}

func (e *cliEnv) run(t *testing.T, args ...string) cliResult {
	t.Helper()

	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Stdout:   &stdout,
		Stderr:   &stderr,
		Stdin:    strings.NewReader(e.stdin),
		Getwd:    func() (string, error) { return e.root, nil },
		Environ:  func() (auth.Environment, error) { return e.env, nil },
		Secrets:  e.secrets,
		VaultDir: e.vaultDir,
	})
	root := NewRootCommand(app)
	root.SetArgs(append([]string{"--config", e.cfgFile}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SilenceErrors = true
	err := root.ExecuteContext(t.Context())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// publish writes a signed release of a module that copies one file and
// registers a route.
func (e *cliEnv) publish(t *testing.T, slug string) {
	t.Helper()

	man := kavenmod.Manifest{
		Name:    slug,
		Slug:    slug,
		Version: "1.0.0",
		Files:   []kavenmod.ModuleFile{{Source: "routes.ts", Dest: "src/" + slug + "/routes.ts"}},
		Injections: []kavenmod.Injection{{
			File:      "src/server.ts",
			Kind:      kavenmod.KindAnchor,
			Anchor:    "routes",
			Strategy:  kavenmod.StrategyAppend,
			Content:   fmt.Sprintf("app.use(%q, %s);", "/"+slug, slug),
			DedupeKey: slug + "-routes",
		}},
	}
	dir := filepath.Join(e.regDir, slug)
	data, err := json.Marshal(man)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(dir, kavenmod.ManifestFileName), string(data))

	var zipped bytes.Buffer
	zw := zip.NewWriter(&zipped)
	fw, err := zw.Create("routes.ts")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("export const " + slug + " = [];\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(dir, "package.zip"), zipped.String())

	rel := registry.Release{
		Slug:     slug,
		Version:  man.Version,
		Manifest: e.sign(t, filepath.Join(dir, kavenmod.ManifestFileName)),
		Package:  e.sign(t, filepath.Join(dir, "package.zip")),
	}
	relData, err := json.Marshal(rel)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, filepath.Join(dir, registry.ReleaseFileName), string(relData))
}

func (e *cliEnv) sign(t *testing.T, path string) registry.ArtifactRef {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := integrity.Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	return registry.ArtifactRef{
		URL:       filepath.Base(path),
		Checksum:  sum,
		Signature: hex.EncodeToString(ed25519.Sign(e.priv, data)),
	}
}
