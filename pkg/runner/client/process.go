package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ProcessTransport runs the runner as a local child process, optionally
// through a wrapper such as sudo. Upload and Cleanup are no-ops because
// the binary is already on the host.
type ProcessTransport struct {
	// Wrapper is prepended to the runner command line, e.g. ["sudo", "-n"].
	Wrapper []string
}

// Upload implements Transport.
func (t *ProcessTransport) Upload(context.Context, string, string) error { return nil }

// Cleanup implements Transport.
func (t *ProcessTransport) Cleanup(context.Context, string) error { return nil }

// Start implements Transport.
func (t *ProcessTransport) Start(ctx context.Context, path string, args []string) (io.WriteCloser, io.ReadCloser, error) {
	argv := append(append(append([]string{}, t.Wrapper...), path), args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return stdin, &waitCloser{ReadCloser: stdout, cmd: cmd}, nil
}

// waitCloser reaps the child when its stdout is closed.
type waitCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (w *waitCloser) Close() error {
	_ = w.ReadCloser.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("runner exited: %w", err)
	}
	return nil
}
