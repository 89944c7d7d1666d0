package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"extra-args", "local-source-path", "protected-packages", "signature-check"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %s at %d, got %s", name, i, policies[i].Name)
		}
		if !policies[i].Builtin || !policies[i].Enabled {
			t.Errorf("Expected %s to be an enabled built-in", name)
		}
	}
}

func TestAdmit(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name       string
		req        aur.InstallRequest
		helper     string
		wantDenied bool
	}{
		{
			name:   "plain install",
			req:    aur.InstallRequest{Packages: []string{"yay"}, State: aur.StatePresent},
			helper: "makepkg",
		},
		{
			name:       "remove protected package",
			req:        aur.InstallRequest{Packages: []string{"foo", "pacman"}, State: aur.StateAbsent},
			helper:     "yay",
			wantDenied: true,
		},
		{
			name:   "install protected package name",
			req:    aur.InstallRequest{Packages: []string{"pacman"}, State: aur.StateLatest},
			helper: "yay",
		},
		{
			name:       "forbidden extra argument",
			req:        aur.InstallRequest{Packages: []string{"foo"}, Use: "yay", ExtraArgs: "--rebuild --overwrite='*'"},
			helper:     "yay",
			wantDenied: true,
		},
		{
			name:   "allowed extra argument",
			req:    aur.InstallRequest{Packages: []string{"foo"}, Use: "yay", ExtraArgs: "--rebuild"},
			helper: "yay",
		},
		{
			name:   "skipped signature check only warns",
			req:    aur.InstallRequest{Packages: []string{"foo"}, Options: aur.Options{SkipSignatureCheck: true}},
			helper: "makepkg",
		},
		{
			name:       "forbidden argument on upgrade",
			req:        aur.InstallRequest{Upgrade: true, Use: "paru", ExtraArgs: "--dbpath /tmp/db"},
			helper:     "paru",
			wantDenied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Admit(context.Background(), tt.req.Normalized(), tt.helper)
			if tt.wantDenied {
				if !aur.IsKind(err, aur.ErrorKindPolicyDenied) {
					t.Fatalf("Expected policy denied error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected request to be admitted, got %v", err)
			}
		})
	}
}

func TestEvaluateSeverities(t *testing.T) {
	eng := newTestEngine(t)

	input := NewInput(aur.InstallRequest{
		Packages:       []string{"foo", "bar"},
		LocalSourceDir: "pkgs/foo",
		Options:        aur.Options{SkipSignatureCheck: true},
	}.Normalized(), "makepkg")

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected warnings not to block, got violations %+v", result.Violations)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("Expected 3 warnings, got %+v", result.Warnings)
	}
	if result.Warnings[0].Policy != "local-source-path" {
		t.Errorf("Expected local-source-path warning first, got %s", result.Warnings[0].Policy)
	}
	for _, w := range result.Warnings[1:] {
		if w.Policy != "signature-check" || w.Package == "" {
			t.Errorf("Expected per-package signature warning, got %+v", w)
		}
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("Expected 4 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestProtectedPackagesOption(t *testing.T) {
	eng := newTestEngine(t, WithProtectedPackages("linux-lts"))

	req := aur.InstallRequest{Packages: []string{"linux-lts"}, State: aur.StateAbsent}
	if err := eng.Admit(context.Background(), req, "yay"); !aur.IsKind(err, aur.ErrorKindPolicyDenied) {
		t.Errorf("Expected linux-lts removal to be denied, got %v", err)
	}

	req.Packages = []string{"pacman"}
	if err := eng.Admit(context.Background(), req, "yay"); err != nil {
		t.Errorf("Expected pacman removal to be admitted with a replaced list, got %v", err)
	}
}

func TestDeniedErrorDetails(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Admit(context.Background(), aur.InstallRequest{
		Packages: []string{"glibc"},
		State:    aur.StateAbsent,
	}, "pacman")

	var aerr *aur.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("Expected *aur.Error, got %T", err)
	}
	want := "denied by policy: package glibc is protected and cannot be removed"
	if aerr.Message != want {
		t.Errorf("Expected message %q, got %q", want, aerr.Message)
	}
	violations, ok := aerr.Details["violations"].([]Violation)
	if !ok || len(violations) != 1 || violations[0].Policy != "protected-packages" {
		t.Errorf("Expected protected-packages violation in details, got %v", aerr.Details["violations"])
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	req := aur.InstallRequest{Packages: []string{"pacman"}, State: aur.StateAbsent}

	if err := eng.DisablePolicy("protected-packages"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	p, err := eng.GetPolicy("protected-packages")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.Enabled {
		t.Error("Policy should be disabled")
	}
	if err := eng.Admit(context.Background(), req, "yay"); err != nil {
		t.Errorf("Disabled policy should not deny, got %v", err)
	}

	if err := eng.EnablePolicy("protected-packages"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.Admit(context.Background(), req, "yay"); err == nil {
		t.Error("Re-enabled policy should deny")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestSetPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "helper-allowlist",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package site.aur.allowlist

import rego.v1

deny contains msg if {
	not input.request.helper in {"yay", "paru"}
	msg := sprintf("helper %s is not approved", [input.request.helper])
}
`,
	}

	if err := eng.SetPolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Failed to set policies: %v", err)
	}

	req := aur.InstallRequest{Packages: []string{"foo"}}
	if err := eng.Admit(ctx, req, "trizen"); !aur.IsKind(err, aur.ErrorKindPolicyDenied) {
		t.Errorf("Expected trizen to be denied, got %v", err)
	}
	if err := eng.Admit(ctx, req, "paru"); err != nil {
		t.Errorf("Expected paru to be admitted, got %v", err)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains msg if {"}
	if err := eng.SetPolicies(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("helper-allowlist"); err != nil {
		t.Error("A failed replacement must keep the previous policies")
	}

	if err := eng.SetPolicies(ctx, nil); err != nil {
		t.Fatalf("Failed to clear policies: %v", err)
	}
	if _, err := eng.GetPolicy("helper-allowlist"); err == nil {
		t.Error("Expected custom policy to be removed")
	}
	if _, err := eng.GetPolicy("protected-packages"); err != nil {
		t.Error("Built-in policies must survive replacement")
	}
}

func TestEvaluateNilInput(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Evaluate(context.Background(), nil); err == nil {
		t.Error("Expected error for nil input")
	}
}
