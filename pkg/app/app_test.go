package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/stores"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

const sitePolicy = `# Site helpers.
package site.aur.helpers

import rego.v1

deny contains msg if {
	input.request.helper == "trizen"
	msg := "trizen is not approved"
}
`

func quietTelemetry() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "disabled"
	cfg.Events.Enabled = false
	return cfg
}

func TestNewLocal(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "helpers.rego")
	if err := os.WriteFile(policyPath, []byte(sitePolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := New(ctx, Options{
		TempDir:   dir,
		AURURL:    "http://127.0.0.1:1",
		Policies:  []string{policyPath},
		DBPath:    ":memory:",
		Telemetry: quietTelemetry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if a.Engine == nil || a.Store == nil || a.Policy == nil {
		t.Fatalf("app not fully wired: %+v", a)
	}
	if a.MetricsErrors() != nil {
		t.Error("metrics server started while disabled")
	}

	found := false
	for _, p := range a.Policy.ListPolicies() {
		if p.Name == "helpers" {
			found = true
		}
	}
	if !found {
		t.Error("site policy not loaded")
	}

	exec, err := a.Executor(ctx)
	if err != nil {
		t.Fatalf("Executor() error = %v", err)
	}
	if exec != Executor(a.Engine) {
		t.Error("expected the in-process engine without a runner")
	}

	if _, err := exec.Execute(ctx, aur.InstallRequest{State: aur.StatePresent}, aur.Mode{}); !aur.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	recs, err := a.Store.ListInvocations(ctx, stores.InvocationFilter{})
	if err != nil {
		t.Fatalf("ListInvocations() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Status != stores.InvocationStatusFailed {
		t.Errorf("expected one failed invocation, got %+v", recs)
	}

	if err := a.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewBadPolicyPath(t *testing.T) {
	_, err := New(context.Background(), Options{
		Policies:  []string{filepath.Join(t.TempDir(), "missing")},
		Telemetry: quietTelemetry(),
	})
	if err == nil {
		t.Error("expected error for missing policy path")
	}
}
