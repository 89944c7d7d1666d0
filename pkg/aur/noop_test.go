package aur

import "testing"

func TestInstallChanged(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   bool
	}{
		{name: "empty", stdout: "", want: false},
		{name: "already up to date", stdout: "warning: foo-1.0-1 is up-to-date -- skipping\n", want: false},
		{name: "nothing to do", stdout: " there is nothing to do\n", want: false},
		{name: "nothing to do folded", stdout: "Nothing To Do", want: false},
		{name: "installed", stdout: "installing foo...\n", want: true},
		{name: "marker case matters", stdout: "UP-TO-DATE -- SKIPPING", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InstallChanged(tt.stdout); got != tt.want {
				t.Errorf("Expected changed=%v for %q, got %v", tt.want, tt.stdout, got)
			}
		})
	}
}

func TestUpgradeChanged(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   bool
	}{
		{name: "empty", stdout: "", want: false},
		{name: "no updates", stdout: ":: Searching AUR for updates...\n -> No AUR updates found\n", want: false},
		{name: "nothing to do", stdout: " there is nothing to do", want: false},
		{name: "upgraded", stdout: "upgrading foo...\n", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpgradeChanged(tt.stdout); got != tt.want {
				t.Errorf("Expected changed=%v for %q, got %v", tt.want, tt.stdout, got)
			}
		})
	}
}
