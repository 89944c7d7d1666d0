package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

func TestMessageTypeValidate(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		wantErr bool
	}{
		{"valid READY", MessageTypeReady, false},
		{"valid CMD", MessageTypeCommand, false},
		{"valid EVENT", MessageTypeEvent, false},
		{"valid DONE", MessageTypeDone, false},
		{"valid ERROR", MessageTypeError, false},
		{"valid EXIT", MessageTypeExit, false},
		{"invalid type", MessageType("INVALID"), true},
		{"empty type", MessageType(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msgType.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("MessageType.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandTypeValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmdType CommandType
		wantErr bool
	}{
		{"valid aur.ensure", CommandTypeEnsure, false},
		{"valid aur.check", CommandTypeCheck, false},
		{"unsupported exec", CommandType("exec"), true},
		{"empty type", CommandType(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmdType.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("CommandType.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandMessageValidate(t *testing.T) {
	params := []byte(`{"name":["yay"]}`)

	tests := []struct {
		name    string
		cmd     *CommandMessage
		wantErr bool
	}{
		{
			name:    "valid command",
			cmd:     &CommandMessage{ID: "cmd-123", Type: CommandTypeEnsure, Timeout: 30, Params: params},
			wantErr: false,
		},
		{
			name:    "missing ID",
			cmd:     &CommandMessage{Type: CommandTypeEnsure, Timeout: 30, Params: params},
			wantErr: true,
		},
		{
			name:    "invalid type",
			cmd:     &CommandMessage{ID: "cmd-123", Type: CommandType("pkg.ensure"), Timeout: 30, Params: params},
			wantErr: true,
		},
		{
			name:    "zero timeout",
			cmd:     &CommandMessage{ID: "cmd-123", Type: CommandTypeCheck, Timeout: 0, Params: params},
			wantErr: true,
		},
		{
			name:    "empty params",
			cmd:     &CommandMessage{ID: "cmd-123", Type: CommandTypeEnsure, Timeout: 30, Params: []byte{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("CommandMessage.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     *EventMessage
		wantErr bool
	}{
		{
			name:    "valid event",
			evt:     &EventMessage{CommandID: "cmd-123", Level: "info", Message: "Installing", Package: "yay"},
			wantErr: false,
		},
		{
			name: "valid event with progress",
			evt: &EventMessage{
				CommandID: "cmd-123",
				Level:     "info",
				Message:   "Processing packages",
				Progress:  &ProgressInfo{Current: 1, Total: 3, Unit: "packages"},
			},
			wantErr: false,
		},
		{
			name:    "missing command ID",
			evt:     &EventMessage{Level: "info", Message: "Processing"},
			wantErr: true,
		},
		{
			name:    "invalid level",
			evt:     &EventMessage{CommandID: "cmd-123", Level: "fatal", Message: "Processing"},
			wantErr: true,
		},
		{
			name:    "empty level defaults to info",
			evt:     &EventMessage{CommandID: "cmd-123", Message: "Processing"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("EventMessage.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewCommand(t *testing.T) {
	params := &EnsureParams{InstallRequest: aur.InstallRequest{Packages: []string{"yay"}, Use: "makepkg"}, Diff: true}

	cmd, err := NewCommand(CommandTypeCheck, params)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if err := cmd.Validate(); err != nil {
		t.Errorf("new command is invalid: %v", err)
	}
	if cmd.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %d, want %d", cmd.Timeout, DefaultTimeout)
	}

	other, _ := NewCommand(CommandTypeCheck, params)
	if other.ID == cmd.ID {
		t.Error("command ids must be unique")
	}

	var decoded EnsureParams
	if err := json.Unmarshal(cmd.Params, &decoded); err != nil {
		t.Fatalf("params are not valid JSON: %v", err)
	}
	mode := decoded.Mode(cmd.Type)
	if !mode.Check || !mode.Diff {
		t.Errorf("Mode() = %+v, want check and diff", mode)
	}
	if decoded.Mode(CommandTypeEnsure).Check {
		t.Error("aur.ensure must not run in check mode")
	}
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		outcome   *aur.Outcome
		code      string
		pkg       string
		retryable bool
	}{
		{
			name: "validation",
			err:  aur.NewValidationError("'name' cannot be empty"),
			code: aur.ErrCodeValidation,
		},
		{
			name: "policy denial with details",
			err:  aur.NewPolicyDeniedError("denied by policy: glibc is protected").WithDetail("violations", []string{"protected-packages"}),
			code: aur.ErrCodePolicyDenied,
		},
		{
			name:    "not found keeps package and outcome",
			err:     aur.NewPackageNotFoundError("nosuchpkg", 0),
			outcome: &aur.Outcome{Failed: true},
			code:    aur.ErrCodePackageNotFound,
			pkg:     "nosuchpkg",
		},
		{
			name:      "fetch is retryable",
			err:       aur.NewFetchError("failed to download snapshot", fmt.Errorf("connection reset")),
			code:      aur.ErrCodeFetch,
			retryable: true,
		},
		{
			name: "unclassified",
			err:  fmt.Errorf("boom"),
			code: aur.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ErrorFrom("cmd-1", tt.err, tt.outcome)
			if msg.Code != tt.code {
				t.Errorf("Code = %s, want %s", msg.Code, tt.code)
			}
			if msg.Package != tt.pkg {
				t.Errorf("Package = %q, want %q", msg.Package, tt.pkg)
			}
			if msg.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", msg.Retryable, tt.retryable)
			}
			if msg.Outcome != tt.outcome {
				t.Errorf("Outcome not carried")
			}
			if msg.CommandID != "cmd-1" || msg.Message == "" {
				t.Errorf("unexpected message: %+v", msg)
			}
		})
	}

	denied := ErrorFrom("cmd-2", aur.NewPolicyDeniedError("denied").WithDetail("violations", []string{"a", "b"}), nil)
	if denied.Details["violations"] != `["a","b"]` {
		t.Errorf("Details = %v", denied.Details)
	}
}

func TestErrorMessageErr(t *testing.T) {
	msg := ErrorFrom("cmd-1", aur.NewPackageNotFoundError("nosuchpkg", 0), nil)

	err := msg.Err()
	if !aur.IsKind(err, aur.ErrorKindPackageNotFound) {
		t.Fatalf("kind = %s, want %s", aur.KindOf(err), aur.ErrorKindPackageNotFound)
	}
	var aerr *aur.Error
	if !errors.As(err, &aerr) || aerr.Package != "nosuchpkg" {
		t.Errorf("package not carried: %v", err)
	}

	other := (&ErrorMessage{Code: "INVALID_PARAMS", Message: "bad"}).Err()
	if aur.KindOf(other) != "" {
		t.Errorf("unexpected kind %s", aur.KindOf(other))
	}
}
