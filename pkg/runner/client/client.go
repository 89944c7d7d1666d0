// Package client drives an aur-runner from the controller side.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/runner/protocol"
)

// Transport uploads and starts the runner on a host.
type Transport interface {
	// Upload copies the runner binary to the host.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Start runs the runner and returns its stdin and stdout.
	Start(ctx context.Context, remotePath string, args []string) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Cleanup removes the runner binary from the host.
	Cleanup(ctx context.Context, remotePath string) error
}

// EventFunc receives runner progress events.
type EventFunc func(*protocol.EventMessage)

// Config contains client configuration options.
type Config struct {
	Transport Transport

	// RunnerPath is the local runner binary. Upload is skipped when empty
	// and RemotePath must already exist on the host.
	RunnerPath string

	// RemotePath is where the runner lives on the host.
	RemotePath string

	// Args are passed to the runner.
	Args []string

	StartupTimeout time.Duration

	// OnEvent receives progress events. Events are logged when nil.
	OnEvent EventFunc
}

// Client manages communication with one runner instance.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	ready   *protocol.ReadyMessage
	broken  error
	closed  bool
}

// NewClient creates a new runner client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = "/tmp/aur-runner"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "runner-client").Logger(),
	}, nil
}

// Start uploads the runner binary, starts it and waits for READY.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	if c.cfg.RunnerPath != "" {
		if err := c.cfg.Transport.Upload(ctx, c.cfg.RunnerPath, c.cfg.RemotePath); err != nil {
			return fmt.Errorf("failed to upload runner: %w", err)
		}
	}

	stdin, stdout, err := c.cfg.Transport.Start(ctx, c.cfg.RemotePath, c.cfg.Args)
	if err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	c.stdin = stdin
	c.stdout = stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	msg, err := c.next(readyCtx)
	if err != nil {
		return fmt.Errorf("failed to receive READY: %w", err)
	}
	if msg.Type != protocol.MessageTypeReady {
		return fmt.Errorf("expected READY, got %s", msg.Type)
	}

	var ready protocol.ReadyMessage
	if err := protocol.ParseParams(msg.Data, &ready); err != nil {
		return err
	}
	c.ready = &ready

	c.logger.Debug().
		Str("version", ready.Version).
		Strs("helpers", ready.Helpers).
		Msg("Runner ready")
	return nil
}

// Execute runs req on the host. It mirrors aur.Engine.Execute: ERROR
// responses come back as classified errors, together with the partial
// outcome when the runner sent one.
func (c *Client) Execute(ctx context.Context, req aur.InstallRequest, mode aur.Mode) (*aur.Outcome, error) {
	ct := protocol.CommandTypeEnsure
	if mode.Check {
		ct = protocol.CommandTypeCheck
	}

	cmd, err := protocol.NewCommand(ct, &protocol.EnsureParams{InstallRequest: req, Diff: mode.Diff})
	if err != nil {
		return nil, err
	}

	done, err := c.Send(ctx, cmd)
	if err != nil {
		var errMsg *protocol.ErrorMessage
		if errors.As(err, &errMsg) {
			return errMsg.Outcome, errMsg.Err()
		}
		return nil, err
	}
	return done.Outcome, nil
}

// Send sends a command and waits for its DONE. An ERROR response is
// returned as a *protocol.ErrorMessage.
func (c *Client) Send(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if c.broken != nil {
		return nil, fmt.Errorf("runner connection is unusable: %w", c.broken)
	}
	if c.encoder == nil {
		return nil, fmt.Errorf("client is not started")
	}

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	for {
		msg, err := c.next(ctx)
		if err != nil {
			c.broken = err
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			c.emit(&event)

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			if done.Outcome == nil {
				return nil, fmt.Errorf("runner sent DONE without an outcome")
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, &errMsg

		case protocol.MessageTypeExit:
			c.broken = fmt.Errorf("runner exited")
			return nil, fmt.Errorf("runner exited unexpectedly")

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// next reads one message, giving up when ctx is done. A read abandoned
// this way leaves the stream unusable.
func (c *Client) next(ctx context.Context) (*protocol.Message, error) {
	type result struct {
		msg *protocol.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := c.decoder.Decode()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		c.broken = ctx.Err()
		return nil, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}

func (c *Client) emit(evt *protocol.EventMessage) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(evt)
		return
	}
	e := c.logger.Debug()
	if evt.Level == "warn" {
		e = c.logger.Warn()
	}
	e.Str("command_id", evt.CommandID).Str("package", evt.Package).Msg(evt.Message)
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close closes stdin so the runner exits, then removes the binary if it
// did not delete itself.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
	}

	if c.stdout != nil && c.broken == nil {
		exitCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
		for {
			msg, err := c.next(exitCtx)
			if err != nil {
				break
			}
			if msg.Type == protocol.MessageTypeExit {
				var exit protocol.ExitMessage
				if err := protocol.ParseParams(msg.Data, &exit); err == nil {
					c.logger.Debug().
						Str("reason", exit.Reason).
						Int("commands", exit.CommandsTotal).
						Bool("self_deleted", exit.SelfDeleted).
						Msg("Runner exited")
				}
				break
			}
		}
		cancel()
	}

	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
		}
	}

	if c.cfg.RunnerPath != "" {
		if err := c.cfg.Transport.Cleanup(ctx, c.cfg.RemotePath); err != nil {
			c.logger.Debug().Err(err).Msg("Runner cleanup skipped")
		}
	}

	return errors.Join(errs...)
}
