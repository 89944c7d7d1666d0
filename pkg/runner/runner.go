// Package runner serves AUR install commands over the JSON-over-stdio
// protocol. The aur-runner binary wraps it around an engine acting on the
// local host.
package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/runner/handlers"
	"github.com/openfroyo/froyo-aur/pkg/runner/protocol"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// Exit reasons reported in EXIT.
const (
	ReasonStdinClosed = "stdin_closed"
	ReasonTTLExpired  = "ttl_expired"
	ReasonCanceled    = "canceled"
	ReasonError       = "error"
)

// Config configures a Runner.
type Config struct {
	// Version is reported in READY.
	Version string

	// TTL bounds the lifetime of the runner. Zero means no limit.
	TTL time.Duration

	// Helpers lists the helpers found on the host, reported in READY.
	Helpers []string

	// SelfDelete removes ExecPath before EXIT is sent.
	SelfDelete bool
	ExecPath   string

	// Events carries the engine's package transitions. When enabled, they
	// are streamed as EVENTs while a command runs.
	Events *telemetry.EventPublisher
}

// Runner reads CMD messages and answers each with EVENTs followed by one
// DONE or ERROR.
type Runner struct {
	cfg     Config
	handler *handlers.EnsureHandler
	logger  zerolog.Logger

	commandCount int
}

// New creates a runner executing commands on engine.
func New(engine handlers.Engine, cfg Config, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		handler: &handlers.EnsureHandler{Engine: engine, Events: cfg.Events},
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// Serve sends READY, processes commands until in is closed, the TTL
// expires or ctx is canceled, and finishes with EXIT. The returned
// message is the EXIT that was sent.
func (r *Runner) Serve(ctx context.Context, in io.Reader, out io.Writer) *protocol.ExitMessage {
	enc := protocol.NewEncoder(out)
	dec := protocol.NewDecoder(in)

	var cancel context.CancelFunc
	if r.cfg.TTL > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TTL)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := enc.EncodeReady(r.ready()); err != nil {
		r.logger.Error().Err(err).Msg("Failed to send READY")
		return r.exit(enc, ReasonError, 1)
	}

	// Decoding blocks on stdin, so it runs apart from the TTL and
	// cancellation checks.
	type decoded struct {
		cmd *protocol.CommandMessage
		err error
	}
	next := make(chan decoded)
	go func() {
		defer close(next)
		for {
			cmd, err := dec.DecodeCommand()
			select {
			case next <- decoded{cmd, err}:
			case <-ctx.Done():
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return r.exit(enc, ReasonTTLExpired, 0)
			}
			return r.exit(enc, ReasonCanceled, 0)

		case d, ok := <-next:
			if !ok || errors.Is(d.err, io.EOF) {
				return r.exit(enc, ReasonStdinClosed, 0)
			}
			if d.err != nil {
				var invalid *protocol.InvalidCommandError
				if errors.As(d.err, &invalid) {
					_ = enc.EncodeError(&protocol.ErrorMessage{
						CommandID: invalid.ID,
						Code:      "INVALID_COMMAND",
						Message:   invalid.Err.Error(),
					})
					continue
				}
				r.logger.Error().Err(d.err).Msg("Failed to read command")
				_ = enc.EncodeError(&protocol.ErrorMessage{Code: "PROTOCOL_ERROR", Message: d.err.Error()})
				return r.exit(enc, ReasonError, 1)
			}

			if err := r.process(ctx, enc, d.cmd); err != nil {
				r.logger.Error().Err(err).Msg("Failed to send response")
				return r.exit(enc, ReasonError, 1)
			}
		}
	}
}

func (r *Runner) ready() *protocol.ReadyMessage {
	ready := &protocol.ReadyMessage{
		Version:  r.cfg.Version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.CommandTypeEnsure): true,
			string(protocol.CommandTypeCheck):  true,
		},
		Helpers: r.cfg.Helpers,
	}
	if r.cfg.TTL > 0 {
		ready.Metadata = map[string]string{"ttl": r.cfg.TTL.String()}
	}
	return ready
}

// process runs one command. The returned error is a write failure on the
// protocol stream; command failures are reported to the controller.
func (r *Runner) process(ctx context.Context, enc *protocol.Encoder, cmd *protocol.CommandMessage) error {
	r.commandCount++
	logger := r.logger.With().Str("command_id", cmd.ID).Str("type", string(cmd.Type)).Logger()

	var params protocol.EnsureParams
	if err := protocol.ParseParams(cmd.Params, &params); err != nil {
		return enc.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "INVALID_PARAMS",
			Message:   err.Error(),
		})
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	eventCh := make(chan *protocol.EventMessage, 10)
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for evt := range eventCh {
			if err := enc.EncodeEvent(evt); err != nil {
				logger.Warn().Err(err).Msg("Failed to send event")
			}
		}
	}()

	start := time.Now()
	outcome, err := r.handler.Handle(cmdCtx, cmd, &params, eventCh)
	close(eventCh)
	<-eventsDone
	duration := time.Since(start)

	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("Command failed")
		return enc.EncodeError(protocol.ErrorFrom(cmd.ID, err, outcome))
	}

	logger.Info().
		Bool("changed", outcome.Changed).
		Bool("failed", outcome.Failed).
		Dur("duration", duration).
		Msg("Command completed")

	return enc.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Outcome:   outcome,
		Duration:  duration.Seconds(),
	})
}

func (r *Runner) exit(enc *protocol.Encoder, reason string, code int) *protocol.ExitMessage {
	msg := &protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      code,
		CommandsTotal: r.commandCount,
	}

	if r.cfg.SelfDelete && r.cfg.ExecPath != "" {
		if err := os.Remove(r.cfg.ExecPath); err == nil {
			msg.SelfDeleted = true
		} else {
			r.logger.Warn().Err(err).Str("path", r.cfg.ExecPath).Msg("Self-delete failed")
		}
	}

	if err := enc.EncodeExit(msg); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to send EXIT")
	}
	return msg
}
