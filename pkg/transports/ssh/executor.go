package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"mvdan.cc/sh/v3/syntax"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// envName matches variable names that are safe to pass through env(1).
var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run executes cmd in a new session. A non-zero remote exit is reported
// in the result.
func (c *Client) Run(ctx context.Context, cmd aur.Command) (*aur.ExecutionResult, error) {
	line, err := remoteCommand(cmd)
	if err != nil {
		return nil, err
	}

	client, err := c.client()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logger.Debug().Str("command", line).Msg("Executing remote command")

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, &TransportError{Op: "exec", Err: ctx.Err()}
	case runErr = <-done:
	}

	result := &aur.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &TransportError{Op: "exec", Err: runErr}
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	return result, nil
}

// LookPath resolves name on the remote PATH with command -v.
func (c *Client) LookPath(name string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectionTimeout)
	defer cancel()

	res, err := c.Run(ctx, aur.Command{Argv: []string{"sh", "-c", `command -v "$1"`, "sh", name}})
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 || path == "" {
		return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return path, nil
}

// remoteCommand renders cmd as a POSIX shell command line.
func remoteCommand(cmd aur.Command) (string, error) {
	if len(cmd.Argv) == 0 {
		return "", errors.New("command is required")
	}

	var parts []string
	if cmd.Dir != "" {
		dir, err := syntax.Quote(cmd.Dir, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote directory: %w", err)
		}
		parts = append(parts, "cd", dir, "&&")
	}

	if len(cmd.Env) > 0 {
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			if !envName.MatchString(k) {
				return "", fmt.Errorf("invalid environment variable name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts = append(parts, "env")
		for _, k := range keys {
			v, err := syntax.Quote(cmd.Env[k], syntax.LangPOSIX)
			if err != nil {
				return "", fmt.Errorf("cannot quote %s: %w", k, err)
			}
			parts = append(parts, k+"="+v)
		}
	}

	args, err := quoteArgs(cmd.Argv)
	if err != nil {
		return "", err
	}
	return strings.Join(append(parts, args...), " "), nil
}

func quoteArgs(argv []string) ([]string, error) {
	out := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" {
			out[i] = "''"
			continue
		}
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return nil, fmt.Errorf("cannot quote argument %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}
