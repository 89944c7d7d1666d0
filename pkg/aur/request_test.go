package aur

import (
	"strings"
	"testing"
)

func TestInstallRequestNormalized(t *testing.T) {
	req := InstallRequest{Packages: []string{" foo ", "bar"}, Use: "  "}.Normalized()

	if req.State != StatePresent {
		t.Errorf("Expected default state present, got %s", req.State)
	}
	if req.Use != HelperAuto {
		t.Errorf("Expected default use auto, got %s", req.Use)
	}
	if req.Packages[0] != "foo" {
		t.Errorf("Expected trimmed name, got %q", req.Packages[0])
	}
}

func TestInstallRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     InstallRequest
		wantErr string
	}{
		{
			name: "valid install",
			req:  InstallRequest{Packages: []string{"yay-bin", "python-foo", "lib32-gtk+"}},
		},
		{
			name: "valid upgrade",
			req:  InstallRequest{Upgrade: true},
		},
		{
			name:    "empty name list",
			req:     InstallRequest{Packages: []string{}},
			wantErr: "'name' cannot be empty",
		},
		{
			name:    "name and upgrade",
			req:     InstallRequest{Packages: []string{"foo"}, Upgrade: true},
			wantErr: "mutually exclusive: name|upgrade",
		},
		{
			name:    "neither name nor upgrade",
			req:     InstallRequest{},
			wantErr: "one of the following is required: name, upgrade",
		},
		{
			name:    "option-looking name",
			req:     InstallRequest{Packages: []string{"--overwrite"}},
			wantErr: "invalid package name",
		},
		{
			name:    "name with space",
			req:     InstallRequest{Packages: []string{"foo bar"}},
			wantErr: "invalid package name",
		},
		{
			name:    "unknown state",
			req:     InstallRequest{Packages: []string{"foo"}, State: "installed"},
			wantErr: "value of state must be one of",
		},
		{
			name:    "auto with extra args",
			req:     InstallRequest{Packages: []string{"foo"}, ExtraArgs: "--devel"},
			wantErr: "'extra_args' cannot be used with 'auto'",
		},
		{
			name:    "local source with upgrade",
			req:     InstallRequest{Upgrade: true, Use: "pikaur", LocalSourceDir: "/src"},
			wantErr: "'local_pkgbuild' cannot be used with 'upgrade'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Normalized().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestInstallRequestOperation(t *testing.T) {
	tests := []struct {
		req  InstallRequest
		want string
	}{
		{req: InstallRequest{Upgrade: true}, want: "upgrade"},
		{req: InstallRequest{Packages: []string{"a"}, State: StateAbsent}, want: "remove"},
		{req: InstallRequest{Packages: []string{"a"}, State: StateLatest}, want: "install"},
	}

	for _, tt := range tests {
		if got := tt.req.Operation(); got != tt.want {
			t.Errorf("Expected operation %s, got %s", tt.want, got)
		}
	}
}

func TestValidatePackageName(t *testing.T) {
	valid := []string{"yay", "python-requests", "lib32-glibc", "gtk+", "foo_bar", "@scope", "qt5.15"}
	for _, name := range valid {
		if err := ValidatePackageName(name); err != nil {
			t.Errorf("Expected %q to be valid, got %v", name, err)
		}
	}

	invalid := []string{"", "-R", ".hidden", "a/b", "a;b", "x y"}
	for _, name := range invalid {
		if err := ValidatePackageName(name); err == nil {
			t.Errorf("Expected %q to be rejected", name)
		}
	}
}
