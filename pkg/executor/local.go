// Package executor runs engine commands on the local machine.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// Local executes commands as child processes of the current process.
type Local struct {
	logger  zerolog.Logger
	environ func() []string
}

// NewLocal creates a local executor.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		logger:  logger.With().Str("component", "executor").Logger(),
		environ: os.Environ,
	}
}

// Run starts cmd and waits for it. A non-zero exit is reported in the
// result; only start and wait failures are returned as errors.
func (l *Local) Run(ctx context.Context, cmd aur.Command) (*aur.ExecutionResult, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.New("command is required")
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(l.environ(), cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	l.logger.Debug().Strs("argv", cmd.Argv).Str("dir", cmd.Dir).Msg("Starting process")

	start := time.Now()
	err := c.Run()
	result := &aur.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Argv[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

// LookPath searches PATH for an executable.
func (l *Local) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Host returns an engine host backed by the local machine. An empty
// tempDir uses the platform default.
func Host(logger zerolog.Logger, tempDir string) aur.Host {
	local := NewLocal(logger)
	return aur.Host{
		Executor: local,
		Paths:    local,
		Fs:       afero.NewOsFs(),
		TempDir:  tempDir,
	}
}

// mergeEnv overlays extra onto base. Later values win; extra keys are
// appended in sorted order so the result is stable.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := extra[key]; override {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
