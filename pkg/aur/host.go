package aur

import (
	"context"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/openfroyo/froyo-aur/pkg/aurweb"
)

// Command is a single process invocation on the target host.
type Command struct {
	// Argv is the program and its arguments. Argv[0] is resolved via PATH.
	Argv []string

	// Dir is the working directory. Empty means the executor default.
	Dir string

	// Env holds variables added to the inherited environment.
	Env map[string]string
}

// ExecutionResult captures a completed process.
type ExecutionResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the process exited zero.
func (r *ExecutionResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Executor runs commands on a host. Run returns an error only when the
// process could not be started or waited on; a non-zero exit is reported
// through ExecutionResult.ExitCode.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// PathFinder locates executables on a host.
type PathFinder interface {
	LookPath(name string) (string, error)
}

// IndexClient queries the remote package index and downloads snapshots.
type IndexClient interface {
	Info(ctx context.Context, name string) (*aurweb.InfoResponse, error)
	Download(ctx context.Context, urlPath string) (io.ReadCloser, error)
}

// Host bundles the collaborators that act on a target machine.
type Host struct {
	// Executor runs helper and pacman commands.
	Executor Executor

	// Paths resolves helper executables for discovery and build prerequisites.
	Paths PathFinder

	// Fs is the host filesystem where workspaces are created.
	Fs afero.Fs

	// TempDir is the parent directory for workspaces. Empty uses the
	// platform default.
	TempDir string
}

// Admission decides whether a validated request may run.
type Admission interface {
	Admit(ctx context.Context, req InstallRequest, helper string) error
}

// Invocation is one engine execution, handed to a Recorder when it finishes.
type Invocation struct {
	ID          string
	Request     InstallRequest
	Check       bool
	Helper      string
	Outcome     *Outcome
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Recorder persists invocation history.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
}

// localeEnv forces English tool output so no-op markers match.
func localeEnv() map[string]string {
	return map[string]string{
		"LC_ALL":   "C",
		"LANGUAGE": "C",
	}
}
