package aur

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure so callers can decide how to report it.
type ErrorKind string

const (
	// ErrorKindValidation indicates invalid input, raised before any side effect.
	// Examples: mutually exclusive fields, unknown helper, empty package list.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindPolicyDenied indicates an admission policy rejected the request.
	// Like validation errors it is raised before any side effect.
	ErrorKindPolicyDenied ErrorKind = "policy_denied"

	// ErrorKindHelperUnavailable indicates a build tool required by the build
	// path could not be located on the host.
	ErrorKindHelperUnavailable ErrorKind = "helper_unavailable"

	// ErrorKindPackageNotFound indicates the remote index returned zero or
	// more than one match for a package name.
	ErrorKindPackageNotFound ErrorKind = "package_not_found"

	// ErrorKindFetch indicates a transport or archive failure while fetching sources.
	ErrorKindFetch ErrorKind = "fetch"

	// ErrorKindCommand indicates a command could not be run or exited non-zero.
	ErrorKindCommand ErrorKind = "command"

	// ErrorKindFilesystem indicates a workspace creation, copy or extraction failure.
	ErrorKindFilesystem ErrorKind = "filesystem"
)

// Error codes reported on the runner protocol, one per kind.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeHelperUnavailable = "HELPER_UNAVAILABLE"
	ErrCodePackageNotFound   = "PACKAGE_NOT_FOUND"
	ErrCodeFetch             = "FETCH_FAILED"
	ErrCodeCommand           = "COMMAND_FAILED"
	ErrCodeFilesystem        = "FILESYSTEM_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Code returns the protocol error code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case ErrorKindValidation:
		return ErrCodeValidation
	case ErrorKindPolicyDenied:
		return ErrCodePolicyDenied
	case ErrorKindHelperUnavailable:
		return ErrCodeHelperUnavailable
	case ErrorKindPackageNotFound:
		return ErrCodePackageNotFound
	case ErrorKindFetch:
		return ErrCodeFetch
	case ErrorKindCommand:
		return ErrCodeCommand
	case ErrorKindFilesystem:
		return ErrCodeFilesystem
	default:
		return ErrCodeInternal
	}
}

// BeforeSideEffects reports whether errors of this kind are always raised
// before the engine touched the host.
func (k ErrorKind) BeforeSideEffects() bool {
	return k == ErrorKindValidation || k == ErrorKindPolicyDenied
}

// Error is a classified engine error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Package is the package being processed when the error occurred, if any.
	Package string `json:"package,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Package != "" {
		msg = fmt.Sprintf("%s (package=%s)", msg, e.Package)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, aur.ErrPackageNotFound) works on wrapped errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithPackage adds package context to an error.
func (e *Error) WithPackage(name string) *Error {
	e.Package = name
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation        = &Error{Kind: ErrorKindValidation}
	ErrPolicyDenied      = &Error{Kind: ErrorKindPolicyDenied}
	ErrHelperUnavailable = &Error{Kind: ErrorKindHelperUnavailable}
	ErrPackageNotFound   = &Error{Kind: ErrorKindPackageNotFound}
	ErrFetch             = &Error{Kind: ErrorKindFetch}
	ErrCommand           = &Error{Kind: ErrorKindCommand}
	ErrFilesystem        = &Error{Kind: ErrorKindFilesystem}
)

// NewValidationError creates a new validation error.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// NewPolicyDeniedError creates a new admission policy rejection.
func NewPolicyDeniedError(message string) *Error {
	return &Error{Kind: ErrorKindPolicyDenied, Message: message}
}

// NewHelperUnavailableError creates a new helper-unavailable error.
func NewHelperUnavailableError(tool string, err error) *Error {
	return &Error{
		Kind:    ErrorKindHelperUnavailable,
		Message: fmt.Sprintf("required build tool %q not found", tool),
		Err:     err,
	}
}

// NewPackageNotFoundError creates a new package-not-found error.
func NewPackageNotFoundError(name string, resultCount int) *Error {
	e := &Error{
		Kind:    ErrorKindPackageNotFound,
		Message: fmt.Sprintf("package %s not found", name),
		Package: name,
	}
	if resultCount > 1 {
		e.Message = fmt.Sprintf("package %s is ambiguous (%d matches)", name, resultCount)
	}
	return e.WithDetail("result_count", resultCount)
}

// NewFetchError creates a new fetch error.
func NewFetchError(message string, err error) *Error {
	return &Error{Kind: ErrorKindFetch, Message: message, Err: err}
}

// NewCommandError creates a new command error.
func NewCommandError(message string, err error) *Error {
	return &Error{Kind: ErrorKindCommand, Message: message, Err: err}
}

// NewFilesystemError creates a new filesystem error.
func NewFilesystemError(message string, err error) *Error {
	return &Error{Kind: ErrorKindFilesystem, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind returns true if err carries an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsValidation returns true if the error was raised before any side effect
// because the request itself was rejected.
func IsValidation(err error) bool {
	return KindOf(err).BeforeSideEffects()
}
