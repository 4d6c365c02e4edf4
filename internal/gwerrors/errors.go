// Package gwerrors defines the error taxonomy shared by every pipeline
// stage: configuration failures are fatal, external-call failures are
// handled locally, and a handful of conditions are surfaced to the caller
// as a terminal message.
package gwerrors

import "fmt"

// Kind classifies an error for propagation-policy decisions.
type Kind string

const (
	// KindConfiguration marks missing or invalid startup configuration. Fatal.
	KindConfiguration Kind = "configuration_error"

	// KindExternalCall marks a failed or timed-out LLM/retriever call.
	// Handled locally: the failing item/task is dropped, siblings proceed.
	KindExternalCall Kind = "external_call_failure"

	// KindAllBackendsFailed marks that every selected retrieval backend
	// failed for a single search. Surfaced to the caller as an error message.
	KindAllBackendsFailed Kind = "all_backends_failed"

	// KindToolHandler marks a tool handler failure. Caller falls back to
	// plain search unless plain search itself was the failing handler.
	KindToolHandler Kind = "tool_handler_error"

	// KindInvalidInput marks malformed or missing request parameters.
	// Surfaced before the pipeline starts.
	KindInvalidInput Kind = "invalid_input"

	// KindConnectionLost marks that the caller disconnected mid-stream.
	// Not an error condition: Send becomes a no-op, tasks drain normally.
	KindConnectionLost Kind = "connection_lost"
)

// Error is a typed, wrapped error carrying a Kind for dispatch by callers
// that need to decide propagation policy (e.g. "strict mode" in tests).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err is a gwerrors.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
