package aur

import (
	"testing"
)

func TestBuildCommand(t *testing.T) {
	r := DefaultRegistry()
	yay, _ := r.Lookup("yay")
	makepkg, _ := r.Lookup("makepkg")
	pikaur, _ := r.Lookup("pikaur")

	tests := []struct {
		name    string
		helper  HelperDescriptor
		opts    CommandOptions
		extra   string
		want    []string
		wantErr bool
	}{
		{
			name:   "plain helper",
			helper: yay,
			want:   []string{"yay", "-S", "--noconfirm", "--needed", "--cleanafter"},
		},
		{
			name:   "scope and cache refresh",
			helper: yay,
			opts:   CommandOptions{AUROnly: true, UpdateCache: true},
			want:   []string{"yay", "-S", "--noconfirm", "--needed", "--cleanafter", "--aur", "-y"},
		},
		{
			name:   "extra args come last",
			helper: yay,
			opts:   CommandOptions{AUROnly: true, UpdateCache: true},
			extra:  "--mflags '--nocheck --skipinteg'",
			want: []string{
				"yay", "-S", "--noconfirm", "--needed", "--cleanafter",
				"--aur", "-y", "--mflags", "--nocheck --skipinteg",
			},
		},
		{
			name:   "build path signature and arch flags",
			helper: makepkg,
			opts:   CommandOptions{SkipSignatureCheck: true, IgnoreArch: true, AUROnly: true},
			want: []string{
				"makepkg", "--syncdeps", "--install", "--noconfirm", "--needed",
				"--skippgpcheck", "--ignorearch",
			},
		},
		{
			name:   "signature flag ignored for other helpers",
			helper: yay,
			opts:   CommandOptions{SkipSignatureCheck: true},
			want:   []string{"yay", "-S", "--noconfirm", "--needed", "--cleanafter"},
		},
		{
			name:   "local source helper appends path",
			helper: pikaur,
			opts:   CommandOptions{LocalSource: "/tmp/ws/PKGBUILD", UpdateCache: true},
			want: []string{
				"pikaur", "-P", "--noconfirm", "--noedit", "--needed", "--install",
				"/tmp/ws/PKGBUILD", "-y",
			},
		},
		{
			name:   "local source build path has no path argument",
			helper: makepkg,
			opts:   CommandOptions{LocalSource: "/tmp/ws"},
			want:   []string{"makepkg", "--syncdeps", "--install", "--noconfirm", "--needed"},
		},
		{
			name:    "local source unsupported",
			helper:  yay,
			opts:    CommandOptions{LocalSource: "/tmp/ws/PKGBUILD"},
			wantErr: true,
		},
		{
			name:    "unterminated quote",
			helper:  yay,
			extra:   "--mflags 'oops",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCommand(tt.helper, tt.opts, tt.extra)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got argv %v", got)
				}
				if !IsKind(err, ErrorKindValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !equalArgs(got, tt.want) {
				t.Errorf("Expected argv %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBuildCommandLeavesTemplateIntact(t *testing.T) {
	r := DefaultRegistry()

	for _, h := range r.Helpers() {
		t.Run(h.ID(), func(t *testing.T) {
			base := h.BaseArgs()
			local := h.LocalSourceArgs()

			opts := CommandOptions{SkipSignatureCheck: true, IgnoreArch: true, AUROnly: true, UpdateCache: true}
			if h.SupportsLocalSource() {
				opts.LocalSource = "/tmp/ws/PKGBUILD"
			}

			first, err := BuildCommand(h, opts, "--devel --mflags '--nocheck'")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			first = append(first, "pkg-one")

			second, err := BuildCommand(h, opts, "--devel --mflags '--nocheck'")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !equalArgs(first[:len(first)-1], second) {
				t.Errorf("Expected identical argv, got %v and %v", first[:len(first)-1], second)
			}

			again, _ := r.Lookup(h.ID())
			if got := again.BaseArgs(); !equalArgs(got, base) {
				t.Errorf("Expected base template %v, got %v", base, got)
			}
			if got := again.LocalSourceArgs(); !equalArgs(got, local) {
				t.Errorf("Expected local source template %v, got %v", local, got)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "   ", want: nil},
		{in: "--devel --timeupdate", want: []string{"--devel", "--timeupdate"}},
		{in: `--mflags "--nocheck"`, want: []string{"--mflags", "--nocheck"}},
		{in: `a\ b c`, want: []string{"a b", "c"}},
		{in: "--builddir $HOME/build", want: []string{"--builddir", "$HOME/build"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SplitArgs(tt.in)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !equalArgs(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolvedPlanArgvIsFresh(t *testing.T) {
	yay, _ := DefaultRegistry().Lookup("yay")
	plan, err := NewPlan(yay, InstallRequest{Packages: []string{"a", "b"}, State: StatePresent})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first := plan.Argv("a")
	second := plan.Argv("b")

	if first[len(first)-1] != "a" {
		t.Errorf("Expected first argv to end with a, got %v", first)
	}
	if second[len(second)-1] != "b" {
		t.Errorf("Expected second argv to end with b, got %v", second)
	}
	if len(plan.Template) != 5 {
		t.Errorf("Expected template of 5 args, got %v", plan.Template)
	}
}

func TestNewPlanRemoval(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		helper string
		extra  string
		want   []string
	}{
		{helper: "yay", want: []string{"yay", "-R", "--noconfirm"}},
		{helper: "makepkg", want: []string{"pacman", "-R", "--noconfirm"}},
		{helper: "paru", extra: "--nosave", want: []string{"paru", "-R", "--noconfirm", "--nosave"}},
	}

	for _, tt := range tests {
		t.Run(tt.helper, func(t *testing.T) {
			h, _ := r.Lookup(tt.helper)
			plan, err := NewPlan(h, InstallRequest{Packages: []string{"x"}, State: StateAbsent, ExtraArgs: tt.extra})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !equalArgs(plan.Template, tt.want) {
				t.Errorf("Expected template %v, got %v", tt.want, plan.Template)
			}
		})
	}
}
