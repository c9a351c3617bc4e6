// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bychrisr/kaven-cli/internal/issue"
)

func writeConfigFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("Load() path = %q, want empty", path)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	written := writeConfigFile(t, dir, `
api: {
	base_url: "https://staging.kaven.sh"
	timeout:  "45s"
	retries:  5
}
registry: dir: "/srv/kaven-registry"
ui: verbose: true
`)

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != written {
		t.Errorf("Load() path = %q, want %q", path, written)
	}

	want := DefaultConfig()
	want.API = APIConfig{BaseURL: "https://staging.kaven.sh", Timeout: 45 * time.Second, Retries: 5}
	want.Registry.Dir = "/srv/kaven-registry"
	want.UI.Verbose = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"syntax error", "api: {"},
		{"unknown field", `telemetry: true`},
		{"bad url", `api: base_url: "ftp://example.com"`},
		{"retries out of range", `api: retries: 0`},
		{"bad duration", `api: timeout: "soon"`},
		{"short publisher key", `trust: publisher_key: "abcd"`},
		{"unknown color scheme", `ui: color_scheme: "neon"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfigFile(t, dir, tt.body)
			_, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
			var actionable *issue.ActionableError
			if !errors.As(err, &actionable) {
				t.Fatalf("Load() error = %v, want *issue.ActionableError", err)
			}
			if !actionable.HasSuggestions() {
				t.Error("ActionableError has no suggestions")
			}
		})
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v, want config file not found", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `api: base_url: "https://file.kaven.sh"`)
	t.Setenv("KAVEN_API_BASE_URL", "https://env.kaven.sh")
	t.Setenv("KAVEN_API_TIMEOUT", "5s")
	t.Setenv("KAVEN_REGISTRY_DIR", "/tmp/registry")
	t.Setenv("KAVEN_UI_VERBOSE", "true")

	cfg, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://env.kaven.sh" {
		t.Errorf("API.BaseURL = %q, want env value", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v, want 5s", cfg.API.Timeout)
	}
	if cfg.Registry.Dir != "/tmp/registry" || !cfg.UI.Verbose {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestGenerateCUERoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := DefaultConfig()
	want.Registry.Dir = "/srv/registry"
	want.API.Timeout = 90 * time.Second
	writeConfigFile(t, dir, GenerateCUE(want))

	got, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() of generated config error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigDirOverride(t *testing.T) {
	SetConfigDirOverride("/tmp/kaven-test-config")
	t.Cleanup(Reset)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/kaven-test-config" {
		t.Errorf("ConfigDir() = %q", dir)
	}
}
