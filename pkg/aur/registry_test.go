package aur

import (
	"strings"
	"testing"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry()

	want := []string{"yay", "paru", "pacaur", "trizen", "pikaur", "aurman", "makepkg"}
	if got := r.IDs(); !equalArgs(got, want) {
		t.Errorf("Expected ids %v, got %v", want, got)
	}

	build, ok := r.BuildHelper()
	if !ok {
		t.Fatal("Expected a build-path helper")
	}
	if build.ID() != HelperMakepkg {
		t.Errorf("Expected build helper makepkg, got %s", build.ID())
	}
	if build.RemoveTool() != "pacman" {
		t.Errorf("Expected makepkg removal through pacman, got %s", build.RemoveTool())
	}
}

func TestDefaultRegistryCapabilities(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		id          string
		scope       bool
		localSource bool
		removeTool  string
	}{
		{id: "yay", scope: true, removeTool: "yay"},
		{id: "paru", scope: true, removeTool: "paru"},
		{id: "pikaur", scope: true, localSource: true, removeTool: "pikaur"},
		{id: "aurman", scope: true, removeTool: "aurman"},
		{id: "makepkg", localSource: true, removeTool: "pacman"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			h, ok := r.Lookup(tt.id)
			if !ok {
				t.Fatalf("Expected helper %s to be registered", tt.id)
			}
			if h.SupportsScopeFlag() != tt.scope {
				t.Errorf("Expected scope flag %v, got %v", tt.scope, h.SupportsScopeFlag())
			}
			if h.SupportsLocalSource() != tt.localSource {
				t.Errorf("Expected local source %v, got %v", tt.localSource, h.SupportsLocalSource())
			}
			if h.RemoveTool() != tt.removeTool {
				t.Errorf("Expected remove tool %s, got %s", tt.removeTool, h.RemoveTool())
			}
		})
	}
}

func TestHelperDescriptorReturnsCopies(t *testing.T) {
	r := DefaultRegistry()
	h, _ := r.Lookup("yay")

	args := h.BaseArgs()
	args[0] = "mutated"
	_ = append(args, "--extra")

	again, _ := r.Lookup("yay")
	if again.BaseArgs()[0] != "yay" {
		t.Errorf("Expected registry template to be unchanged, got %v", again.BaseArgs())
	}
	if len(again.BaseArgs()) != 5 {
		t.Errorf("Expected 5 base args, got %d", len(again.BaseArgs()))
	}

	helpers := r.Helpers()
	helpers[0] = HelperDescriptor{}
	if first := r.Helpers()[0]; first.ID() != "yay" {
		t.Errorf("Expected Helpers to return a copy, got first %q", first.ID())
	}
}

func TestNewRegistryValidation(t *testing.T) {
	base := []string{"x", "-S"}

	tests := []struct {
		name    string
		specs   []HelperSpec
		wantErr string
	}{
		{
			name:    "missing id",
			specs:   []HelperSpec{{BaseArgs: base}},
			wantErr: "id is required",
		},
		{
			name:    "reserved id",
			specs:   []HelperSpec{{ID: "auto", BaseArgs: base}},
			wantErr: "reserved",
		},
		{
			name:    "duplicate id",
			specs:   []HelperSpec{{ID: "x", BaseArgs: base}, {ID: "x", BaseArgs: base}},
			wantErr: "duplicate",
		},
		{
			name:    "missing args",
			specs:   []HelperSpec{{ID: "x"}},
			wantErr: "base args are required",
		},
		{
			name: "two build paths",
			specs: []HelperSpec{
				{ID: "a", BaseArgs: base, BuildPath: true},
				{ID: "b", BaseArgs: base, BuildPath: true},
			},
			wantErr: "only one build-path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs...)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestNewRegistryDefaultRemoveArgs(t *testing.T) {
	r, err := NewRegistry(HelperSpec{ID: "custom", BaseArgs: []string{"custom", "-S"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	h, _ := r.Lookup("custom")
	want := []string{"custom", "-R", "--noconfirm"}
	if got := h.RemoveArgs(); !equalArgs(got, want) {
		t.Errorf("Expected remove args %v, got %v", want, got)
	}
	if _, ok := r.BuildHelper(); ok {
		t.Error("Expected no build helper")
	}
}
