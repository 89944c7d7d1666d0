// Package protocol defines the JSON-over-stdio protocol spoken between a
// controller and the aur-runner on a managed host.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the runner is ready to receive commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the controller
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent indicates a progress event from the runner
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates the command produced an outcome
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates the command produced no outcome
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the runner is exiting
	MessageTypeExit MessageType = "EXIT"
)

// CommandType represents the type of command to execute.
type CommandType string

const (
	// CommandTypeEnsure converges packages to the requested state.
	CommandTypeEnsure CommandType = "aur.ensure"
	// CommandTypeCheck reports what aur.ensure would change.
	CommandTypeCheck CommandType = "aur.check"
)

// DefaultTimeout is used by NewCommand, in seconds. AUR builds are slow.
const DefaultTimeout = 3600

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the runner is ready to receive commands.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Caps     map[string]bool   `json:"capabilities"`
	Helpers  []string          `json:"helpers,omitempty"` // helpers found on PATH, preference order
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommandMessage contains a command to execute.
type CommandMessage struct {
	ID       string            `json:"id"`
	Type     CommandType       `json:"type"`
	Timeout  int               `json:"timeout"` // seconds
	Params   json.RawMessage   `json:"params"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventMessage contains progress information during command execution.
type EventMessage struct {
	CommandID string            `json:"command_id"`
	Level     string            `json:"level"` // info, warn, debug
	Message   string            `json:"message"`
	Package   string            `json:"package,omitempty"`
	Progress  *ProgressInfo     `json:"progress,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProgressInfo contains progress tracking information.
type ProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Unit    string `json:"unit"`
}

// DoneMessage carries the outcome of a command. A failed package command
// is still a DONE with Outcome.Failed set.
type DoneMessage struct {
	CommandID string            `json:"command_id"`
	Outcome   *aur.Outcome      `json:"outcome"`
	Duration  float64           `json:"duration"` // seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorMessage indicates a command failed without an outcome, or with a
// partial one.
type ErrorMessage struct {
	CommandID string            `json:"command_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Package   string            `json:"package,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Outcome   *aur.Outcome      `json:"outcome,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface so clients can return the message.
func (e *ErrorMessage) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("%s: %s (package=%s)", e.Code, e.Message, e.Package)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ExitMessage is sent before the runner terminates.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	SelfDeleted   bool   `json:"self_deleted"`
	CommandsTotal int    `json:"commands_total"`
}

// EnsureParams are the parameters of aur.ensure and aur.check. The request
// fields are inlined so a params object reads like a manifest entry.
type EnsureParams struct {
	aur.InstallRequest
	Diff bool `json:"diff,omitempty"`
}

// Mode returns the engine mode for a command of type ct.
func (p *EnsureParams) Mode(ct CommandType) aur.Mode {
	return aur.Mode{Check: ct == CommandTypeCheck, Diff: p.Diff}
}

// NewCommand builds a command with a fresh id and the default timeout.
func NewCommand(ct CommandType, params *EnsureParams) (*CommandMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &CommandMessage{
		ID:      uuid.NewString(),
		Type:    ct,
		Timeout: DefaultTimeout,
		Params:  raw,
	}, nil
}

// ErrorFrom converts an engine error into an ERROR message. Classified
// errors keep their kind as the code.
func ErrorFrom(commandID string, err error, outcome *aur.Outcome) *ErrorMessage {
	msg := &ErrorMessage{
		CommandID: commandID,
		Code:      aur.KindOf(err).Code(),
		Message:   err.Error(),
		Outcome:   outcome,
	}

	var aerr *aur.Error
	if errors.As(err, &aerr) {
		msg.Message = aerr.Message
		msg.Package = aerr.Package
		if aerr.Err != nil {
			msg.Message = fmt.Sprintf("%s: %v", aerr.Message, aerr.Err)
		}
		for k, v := range aerr.Details {
			if msg.Details == nil {
				msg.Details = make(map[string]string)
			}
			msg.Details[k] = detailString(v)
		}
		msg.Retryable = aerr.Kind == aur.ErrorKindFetch
	}
	return msg
}

// Err converts the message back into a classified engine error. Codes
// that do not belong to an engine error kind keep the code in the message.
func (e *ErrorMessage) Err() error {
	kind, ok := kindByCode[e.Code]
	if !ok {
		return fmt.Errorf("runner error %s: %s", e.Code, e.Message)
	}
	aerr := &aur.Error{Kind: kind, Message: e.Message, Package: e.Package}
	for k, v := range e.Details {
		aerr = aerr.WithDetail(k, v)
	}
	return aerr
}

var kindByCode = map[string]aur.ErrorKind{
	aur.ErrCodeValidation:        aur.ErrorKindValidation,
	aur.ErrCodePolicyDenied:      aur.ErrorKindPolicyDenied,
	aur.ErrCodeHelperUnavailable: aur.ErrorKindHelperUnavailable,
	aur.ErrCodePackageNotFound:   aur.ErrorKindPackageNotFound,
	aur.ErrCodeFetch:             aur.ErrorKindFetch,
	aur.ErrCodeCommand:           aur.ErrorKindCommand,
	aur.ErrCodeFilesystem:        aur.ErrorKindFilesystem,
}

func detailString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeEnsure, CommandTypeCheck:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(cmd.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.CommandID == "" {
		return fmt.Errorf("command ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	validLevels := map[string]bool{"info": true, "warn": true, "debug": true}
	if !validLevels[evt.Level] {
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
	return nil
}
