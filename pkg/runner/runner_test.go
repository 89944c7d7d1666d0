package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/runner/protocol"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   []aur.Mode
	reqs    []aur.InstallRequest
	execute func(req aur.InstallRequest, mode aur.Mode) (*aur.Outcome, error)
}

func (f *fakeEngine) Execute(_ context.Context, req aur.InstallRequest, mode aur.Mode) (*aur.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mode)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(req, mode)
	}
	out := &aur.Outcome{Helper: "yay", Installed: []string{}, Updated: []string{}}
	for _, pkg := range req.Packages {
		out.Changed = true
		out.Installed = append(out.Installed, pkg)
		out.Packages = append(out.Packages, aur.PackageReport{Package: pkg, State: aur.PhaseSucceeded, Changed: true})
	}
	return out, nil
}

func commands(t *testing.T, cmds ...*protocol.CommandMessage) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	for _, cmd := range cmds {
		if err := enc.Encode(protocol.MessageTypeCommand, cmd); err != nil {
			t.Fatalf("failed to encode command: %v", err)
		}
	}
	return &buf
}

func newCommand(t *testing.T, ct protocol.CommandType, req aur.InstallRequest) *protocol.CommandMessage {
	t.Helper()
	cmd, err := protocol.NewCommand(ct, &protocol.EnsureParams{InstallRequest: req})
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	return cmd
}

func readAll(t *testing.T, r io.Reader) []*protocol.Message {
	t.Helper()
	dec := protocol.NewDecoder(r)
	var msgs []*protocol.Message
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func types(msgs []*protocol.Message) []protocol.MessageType {
	out := make([]protocol.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestServeEnsure(t *testing.T) {
	engine := &fakeEngine{}
	r := New(engine, Config{Version: "test", Helpers: []string{"yay"}}, zerolog.Nop())

	cmd := newCommand(t, protocol.CommandTypeEnsure, aur.InstallRequest{Packages: []string{"yay-bin"}})
	var out bytes.Buffer
	exit := r.Serve(context.Background(), commands(t, cmd), &out)

	if exit.Reason != ReasonStdinClosed || exit.ExitCode != 0 || exit.CommandsTotal != 1 {
		t.Errorf("unexpected exit: %+v", exit)
	}

	msgs := readAll(t, &out)
	want := []protocol.MessageType{
		protocol.MessageTypeReady,
		protocol.MessageTypeEvent,
		protocol.MessageTypeEvent,
		protocol.MessageTypeDone,
		protocol.MessageTypeExit,
	}
	got := types(msgs)
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, got[i], want[i])
		}
	}

	var ready protocol.ReadyMessage
	if err := protocol.ParseParams(msgs[0].Data, &ready); err != nil {
		t.Fatal(err)
	}
	if !ready.Caps["aur.ensure"] || !ready.Caps["aur.check"] || len(ready.Helpers) != 1 {
		t.Errorf("unexpected READY: %+v", ready)
	}

	var evt protocol.EventMessage
	if err := protocol.ParseParams(msgs[2].Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Package != "yay-bin" || evt.CommandID != cmd.ID {
		t.Errorf("unexpected package event: %+v", evt)
	}

	var done protocol.DoneMessage
	if err := protocol.ParseParams(msgs[3].Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.CommandID != cmd.ID || done.Outcome == nil || !done.Outcome.Changed {
		t.Errorf("unexpected DONE: %+v", done)
	}
	if len(done.Outcome.Installed) != 1 || done.Outcome.Installed[0] != "yay-bin" {
		t.Errorf("Installed = %v", done.Outcome.Installed)
	}

	if len(engine.calls) != 1 || engine.calls[0].Check {
		t.Errorf("engine calls = %+v", engine.calls)
	}
	if engine.reqs[0].State != aur.StatePresent || engine.reqs[0].Use != aur.HelperAuto {
		t.Errorf("request was not normalized: %+v", engine.reqs[0])
	}
}

// publishingEngine reports transitions the way the real engine does, on the
// invocation id carried by ctx.
type publishingEngine struct {
	events *telemetry.EventPublisher
	id     string
}

func (p *publishingEngine) Execute(ctx context.Context, req aur.InstallRequest, _ aur.Mode) (*aur.Outcome, error) {
	p.id = telemetry.InvocationID(ctx)
	pkg := req.Packages[0]

	_ = p.events.PublishPackageTransition(p.id, pkg, "pending", "attempting")
	_ = p.events.PublishPackageTransition("someone-else", pkg, "pending", "attempting")
	_ = p.events.PublishPackageTransition(p.id, "unrelated", "pending", "attempting")
	_ = p.events.PublishWorkspaceCreated(p.id, pkg, "/tmp/ws")
	_ = p.events.PublishPackageTransition(p.id, pkg, "attempting", "succeeded")

	return &aur.Outcome{
		Changed:   true,
		Helper:    "yay",
		Installed: []string{pkg},
		Updated:   []string{},
		Packages:  []aur.PackageReport{{Package: pkg, State: aur.PhaseSucceeded, Changed: true}},
	}, nil
}

func TestServeStreamsTransitions(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	engine := &publishingEngine{events: events}
	r := New(engine, Config{Events: events}, zerolog.Nop())

	cmd := newCommand(t, protocol.CommandTypeEnsure, aur.InstallRequest{Packages: []string{"yay-bin"}})
	var out bytes.Buffer
	r.Serve(context.Background(), commands(t, cmd), &out)

	if engine.id == "" {
		t.Fatal("engine ran without an invocation id")
	}

	var phases []string
	for _, msg := range readAll(t, &out) {
		if msg.Type != protocol.MessageTypeEvent {
			continue
		}
		var evt protocol.EventMessage
		if err := protocol.ParseParams(msg.Data, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.Package == "" {
			continue
		}
		if evt.Package != "yay-bin" || evt.CommandID != cmd.ID {
			t.Errorf("unexpected event: %+v", evt)
		}
		phases = append(phases, evt.Metadata["to"])
	}
	if len(phases) != 2 || phases[0] != "attempting" || phases[1] != "succeeded" {
		t.Errorf("forwarded phases = %v, want [attempting succeeded]", phases)
	}

	// The subscription ends with the command.
	_ = events.PublishPackageTransition(engine.id, "yay-bin", "succeeded", "failed")
}

func TestServeCheckMode(t *testing.T) {
	engine := &fakeEngine{}
	r := New(engine, Config{}, zerolog.Nop())

	cmd := newCommand(t, protocol.CommandTypeCheck, aur.InstallRequest{Upgrade: true, Use: "paru"})
	var out bytes.Buffer
	r.Serve(context.Background(), commands(t, cmd), &out)

	if len(engine.calls) != 1 || !engine.calls[0].Check {
		t.Fatalf("expected one check-mode call, got %+v", engine.calls)
	}
}

func TestServeErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome *aur.Outcome
		code    string
	}{
		{
			name: "validation",
			err:  aur.NewValidationError("parameters are mutually exclusive: name|upgrade"),
			code: aur.ErrCodeValidation,
		},
		{
			name: "policy",
			err:  aur.NewPolicyDeniedError("denied by policy: pacman is protected"),
			code: aur.ErrCodePolicyDenied,
		},
		{
			name:    "partial outcome",
			err:     aur.NewFetchError("failed to download snapshot", errors.New("timeout")),
			outcome: &aur.Outcome{Failed: true, RC: 1},
			code:    aur.ErrCodeFetch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{execute: func(aur.InstallRequest, aur.Mode) (*aur.Outcome, error) {
				return tt.outcome, tt.err
			}}
			r := New(engine, Config{}, zerolog.Nop())

			cmd := newCommand(t, protocol.CommandTypeEnsure, aur.InstallRequest{Packages: []string{"yay"}})
			var out bytes.Buffer
			exit := r.Serve(context.Background(), commands(t, cmd), &out)
			if exit.ExitCode != 0 {
				t.Errorf("command errors must not stop the runner: %+v", exit)
			}

			var errMsg *protocol.ErrorMessage
			for _, msg := range readAll(t, &out) {
				if msg.Type == protocol.MessageTypeError {
					errMsg = &protocol.ErrorMessage{}
					if err := protocol.ParseParams(msg.Data, errMsg); err != nil {
						t.Fatal(err)
					}
				}
				if msg.Type == protocol.MessageTypeDone {
					t.Error("unexpected DONE")
				}
			}
			if errMsg == nil {
				t.Fatal("expected an ERROR message")
			}
			if errMsg.Code != tt.code || errMsg.CommandID != cmd.ID {
				t.Errorf("unexpected ERROR: %+v", errMsg)
			}
			if (errMsg.Outcome != nil) != (tt.outcome != nil) {
				t.Errorf("outcome presence mismatch: %+v", errMsg.Outcome)
			}
		})
	}
}

func TestServeInvalidCommandContinues(t *testing.T) {
	engine := &fakeEngine{}
	r := New(engine, Config{}, zerolog.Nop())

	bad := &protocol.CommandMessage{ID: "bad", Type: protocol.CommandType("exec"), Timeout: 10, Params: []byte(`{}`)}
	good := newCommand(t, protocol.CommandTypeEnsure, aur.InstallRequest{Packages: []string{"yay"}})

	var out bytes.Buffer
	exit := r.Serve(context.Background(), commands(t, bad, good), &out)
	if exit.CommandsTotal != 1 {
		t.Errorf("CommandsTotal = %d, want 1", exit.CommandsTotal)
	}

	msgs := readAll(t, &out)
	var sawError, sawDone bool
	for _, msg := range msgs {
		switch msg.Type {
		case protocol.MessageTypeError:
			var e protocol.ErrorMessage
			_ = protocol.ParseParams(msg.Data, &e)
			sawError = e.CommandID == "bad" && e.Code == "INVALID_COMMAND"
		case protocol.MessageTypeDone:
			sawDone = true
		}
	}
	if !sawError || !sawDone {
		t.Errorf("expected ERROR for bad command and DONE for good one, got %v", types(msgs))
	}
}

func TestServeTTL(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := New(&fakeEngine{}, Config{TTL: 50 * time.Millisecond}, zerolog.Nop())

	var out bytes.Buffer
	exit := r.Serve(context.Background(), pr, &out)
	if exit.Reason != ReasonTTLExpired {
		t.Errorf("Reason = %s, want %s", exit.Reason, ReasonTTLExpired)
	}
}

func TestServeCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(&fakeEngine{}, Config{}, zerolog.Nop())
	var out bytes.Buffer
	if exit := r.Serve(ctx, pr, &out); exit.Reason != ReasonCanceled {
		t.Errorf("Reason = %s, want %s", exit.Reason, ReasonCanceled)
	}
}

func TestServeSelfDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aur-runner")
	if err := os.WriteFile(path, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := New(&fakeEngine{}, Config{SelfDelete: true, ExecPath: path}, zerolog.Nop())
	var out bytes.Buffer
	exit := r.Serve(context.Background(), &bytes.Buffer{}, &out)

	if !exit.SelfDeleted {
		t.Error("expected SelfDeleted")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("binary still present: %v", err)
	}
}

func TestServeBadParams(t *testing.T) {
	r := New(&fakeEngine{}, Config{}, zerolog.Nop())

	cmd := &protocol.CommandMessage{ID: "c1", Type: protocol.CommandTypeEnsure, Timeout: 10, Params: []byte(`{"name": 5}`)}
	var out bytes.Buffer
	r.Serve(context.Background(), commands(t, cmd), &out)

	for _, msg := range readAll(t, &out) {
		if msg.Type == protocol.MessageTypeError {
			var e protocol.ErrorMessage
			_ = protocol.ParseParams(msg.Data, &e)
			if e.Code != "INVALID_PARAMS" {
				t.Errorf("Code = %s, want INVALID_PARAMS", e.Code)
			}
			return
		}
	}
	t.Error("expected an ERROR message")
}
