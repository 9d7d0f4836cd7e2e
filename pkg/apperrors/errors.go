// Package apperrors defines the error taxonomy shared by every layer of the
// engine and maps remote error payloads into it.
//
// Mapping order:
//  1. Strict decoding of the ARM error schema (RemoteError)
//  2. HTTP status classification (404, 409, 401/403)
//  3. A legacy substring classifier for a closed set of known messages
//
// Callers match kinds with errors.Is against the Err* sentinels.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation and exit codes.
type Kind int

const (
	// KindInternal is an unexpected remote shape or local bug.
	KindInternal Kind = iota
	// KindValidation is a local pre-flight failure.
	KindValidation
	// KindRequiredArgumentMissing is a flag required only in context.
	KindRequiredArgumentMissing
	// KindResourceNotFound is a remote 404.
	KindResourceNotFound
	// KindAlreadyExists is a create-time conflict.
	KindAlreadyExists
	// KindRemoteOperationFailed is a non-success LRO or remote error.
	KindRemoteOperationFailed
	// KindUnauthorized is a refused role assignment or request.
	KindUnauthorized
	// KindCancelled is cooperative cancellation.
	KindCancelled
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitRemote     = 2
	ExitCancelled  = 3
)

// Errors.
var (
	ErrInternal                = errors.New("internal error")
	ErrValidation              = errors.New("validation error")
	ErrRequiredArgumentMissing = errors.New("required argument missing")
	ErrNotFound                = errors.New("resource not found")
	ErrAlreadyExists           = errors.New("resource already exists")
	ErrRemoteOperationFailed   = errors.New("remote operation failed")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrCancelled               = errors.New("operation cancelled")
)

var kindSentinels = map[Kind]error{
	KindInternal:                ErrInternal,
	KindValidation:              ErrValidation,
	KindRequiredArgumentMissing: ErrRequiredArgumentMissing,
	KindResourceNotFound:        ErrNotFound,
	KindAlreadyExists:           ErrAlreadyExists,
	KindRemoteOperationFailed:   ErrRemoteOperationFailed,
	KindUnauthorized:            ErrUnauthorized,
	KindCancelled:               ErrCancelled,
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindRequiredArgumentMissing:
		return "RequiredArgumentMissing"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindRemoteOperationFailed:
		return "RemoteOperationFailed"
	case KindUnauthorized:
		return "Unauthorized"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Target     string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("(%s) %s", e.Code, e.Message)
	}
	if e.Target != "" {
		msg = fmt.Sprintf("%s [target: %s]", msg, e.Target)
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindValidation, KindRequiredArgumentMissing:
		return ExitValidation
	case KindCancelled:
		return ExitCancelled
	default:
		return ExitRemote
	}
}

// IsNotFound reports whether err is a ResourceNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Validation returns a ValidationError.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// RequiredArgument returns a RequiredArgumentMissing error.
func RequiredArgument(format string, args ...any) *Error {
	return &Error{Kind: KindRequiredArgumentMissing, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a ResourceNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindResourceNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists returns an AlreadyExists error.
func AlreadyExists(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// RemoteFailed returns a RemoteOperationFailed error with the server code.
func RemoteFailed(code, message string) *Error {
	return &Error{Kind: KindRemoteOperationFailed, Code: code, Message: message}
}

// Unauthorized returns an Unauthorized error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Internal returns an Internal error.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Cancelled wraps a context error.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Err: err}
}

// FromContext converts a context error into Cancelled and passes other
// errors through unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindCancelled {
			return err
		}
		return Cancelled(err)
	}
	return err
}

// MissingAsyncHeader is returned when an LRO response lacks the header
// that identifies its completion protocol.
func MissingAsyncHeader(which string) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "MissingAsyncHeader",
		Message: fmt.Sprintf("response is missing the %q header", which),
		Target:  which,
	}
}

// containsFold reports whether s contains substr ignoring case.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
