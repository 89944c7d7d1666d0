package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRego = `# Only approved helpers may build packages.
# Applies to every operation.
package site.aur.helpers

import rego.v1

deny contains msg if {
	input.request.helper == "trizen"
	msg := "trizen is not approved"
}
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadRegoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helpers.rego")
	writeFile(t, path, testRego)

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "helpers" {
		t.Errorf("Expected name 'helpers', got '%s'", p.Name)
	}
	if p.Description != "Only approved helpers may build packages. Applies to every operation." {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if p.Severity != SeverityError || !p.Enabled || p.Builtin {
		t.Errorf("Unexpected defaults: %+v", p)
	}
	if p.Metadata["source"] != path {
		t.Errorf("Expected source metadata %s, got %v", path, p.Metadata["source"])
	}
}

func TestLoadJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "single.json"), `{
  "name": "single",
  "rego": "package single\n",
  "enabled": true
}`)
	writeFile(t, filepath.Join(dir, "bundle.json"), `{
  "name": "site",
  "version": "1.0.0",
  "policies": [
    {"name": "one", "rego": "package one\n", "severity": "warning", "enabled": true, "builtin": true},
    {"name": "two", "rego": "package two\n", "enabled": false}
  ]
}`)

	loader := newTestLoader()

	single, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "single.json")})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(single) != 1 || single[0].Name != "single" || single[0].Severity != SeverityError {
		t.Errorf("Unexpected single policy: %+v", single)
	}

	bundle, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "bundle.json")})
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(bundle) != 2 {
		t.Fatalf("Expected 2 policies from bundle, got %d", len(bundle))
	}
	if bundle[0].Severity != SeverityWarning || bundle[0].Builtin {
		t.Errorf("Expected severity kept and builtin cleared, got %+v", bundle[0])
	}
	if bundle[1].Enabled {
		t.Error("Expected disabled flag to be kept")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), testRego)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), testRego)
	writeFile(t, filepath.Join(dir, "README.md"), "# policies")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policy.yaml"), "name: x")
	writeFile(t, filepath.Join(dir, "bad.json"), "{")

	tests := []struct {
		name string
		path string
	}{
		{name: "missing path", path: filepath.Join(dir, "missing.rego")},
		{name: "unsupported type", path: filepath.Join(dir, "policy.yaml")},
		{name: "invalid JSON", path: filepath.Join(dir, "bad.json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestLoader().LoadFromPaths(context.Background(), []string{tt.path}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "helpers.rego"), testRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if _, err := eng.GetPolicy("helpers"); err != nil {
		t.Errorf("Expected helpers policy to be loaded: %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helpers.rego")
	writeFile(t, path, testRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := newTestLoader()
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writeFile(t, filepath.Join(dir, "second.rego"), testRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
