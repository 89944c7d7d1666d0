package executor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

func TestLocalRun(t *testing.T) {
	l := NewLocal(zerolog.Nop())

	tests := []struct {
		name       string
		cmd        aur.Command
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "success",
			cmd:        aur.Command{Argv: []string{"sh", "-c", "echo hello"}},
			wantStdout: "hello\n",
		},
		{
			name:       "non-zero exit",
			cmd:        aur.Command{Argv: []string{"sh", "-c", "echo oops >&2; exit 3"}},
			wantExit:   3,
			wantStderr: "oops\n",
		},
		{
			name:       "environment overlay",
			cmd:        aur.Command{Argv: []string{"sh", "-c", `printf %s "$LC_ALL"`}, Env: map[string]string{"LC_ALL": "C"}},
			wantStdout: "C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := l.Run(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("Expected exit code %d, got %d", tt.wantExit, res.ExitCode)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("Expected stdout %q, got %q", tt.wantStdout, res.Stdout)
			}
			if res.Stderr != tt.wantStderr {
				t.Errorf("Expected stderr %q, got %q", tt.wantStderr, res.Stderr)
			}
		})
	}
}

func TestLocalRunWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(zerolog.Nop())

	res, err := l.Run(context.Background(), aur.Command{Argv: []string{"pwd"}, Dir: dir})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("Expected working directory %s, got %s", want, got)
	}
}

func TestLocalRunStartFailure(t *testing.T) {
	l := NewLocal(zerolog.Nop())

	if _, err := l.Run(context.Background(), aur.Command{Argv: []string{"froyo-aur-no-such-binary"}}); err == nil {
		t.Error("Expected error for a missing executable")
	}
	if _, err := l.Run(context.Background(), aur.Command{}); err == nil {
		t.Error("Expected error for an empty command")
	}
}

func TestLocalLookPath(t *testing.T) {
	l := NewLocal(zerolog.Nop())

	if _, err := l.LookPath("sh"); err != nil {
		t.Errorf("Expected sh on PATH, got %v", err)
	}
	if _, err := l.LookPath("froyo-aur-no-such-binary"); err == nil {
		t.Error("Expected missing helper not to be found")
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "LC_ALL=de_DE.UTF-8", "HOME=/home/u"}
	got := mergeEnv(base, map[string]string{"LC_ALL": "C", "LANGUAGE": "C"})

	want := []string{"PATH=/usr/bin", "HOME=/home/u", "LANGUAGE=C", "LC_ALL=C"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if same := mergeEnv(base, nil); len(same) != len(base) {
		t.Errorf("Expected base unchanged without overlay, got %v", same)
	}
}

func TestHost(t *testing.T) {
	h := Host(zerolog.Nop(), "/var/tmp")
	if h.Executor == nil || h.Paths == nil || h.Fs == nil {
		t.Fatalf("Expected a complete host, got %+v", h)
	}
	if h.TempDir != "/var/tmp" {
		t.Errorf("Expected temp dir /var/tmp, got %s", h.TempDir)
	}
}
