// Package fault defines the error taxonomy shared by the transcription
// engines, the orchestrator, and the HTTP layer.
//
// Every failure that can surface to a client is classified by a [Kind]. The
// kind determines the HTTP status code, whether the orchestrator may retry,
// and the machine-readable "kind" field of error responses. Internal causes
// stay wrapped inside the [Error] and are logged server-side only — they are
// never serialised to clients.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. Kinds are part of the wire contract: clients
// match on them, so values must stay stable.
type Kind string

const (
	// InvalidInput covers bad engine identifiers, empty uploads, and
	// unsupported content types. Never retried.
	InvalidInput Kind = "invalid_input"

	// PayloadTooLarge is an upload exceeding the configured size limit,
	// rejected before any decoding work.
	PayloadTooLarge Kind = "payload_too_large"

	// PreprocessingFailed is a media-tool conversion failure. Retry is the
	// client's decision.
	PreprocessingFailed Kind = "preprocessing_failed"

	// ModelLoadError means engine weights could not be retrieved or
	// allocated. The engine stays unloaded for subsequent attempts.
	ModelLoadError Kind = "model_load_error"

	// UnsupportedModelFormat means the configured model file is not in the
	// format the engine expects.
	UnsupportedModelFormat Kind = "unsupported_model_format"

	// InferenceError is a runtime failure mid-inference. The registry may
	// mark the engine for reload on next use.
	InferenceError Kind = "inference_error"

	// AuthenticationError is a bad or missing remote API credential.
	AuthenticationError Kind = "authentication_error"

	// RateLimited is a retryable remote throttling response.
	RateLimited Kind = "rate_limited"

	// RemoteUnavailable is a network or upstream service failure.
	RemoteUnavailable Kind = "remote_unavailable"

	// RemoteRejected means the remote endpoint returned a 4xx for input it
	// considered malformed.
	RemoteRejected Kind = "remote_rejected"

	// Timeout is a request that exceeded its deadline.
	Timeout Kind = "timeout"

	// Internal is the fallback for unclassified failures.
	Internal Kind = "internal"
)

// Retryable reports whether a failure of this kind may be retried
// automatically by the orchestrator. Only remote throttling qualifies; local
// engine failures are deterministic for a given input.
func (k Kind) Retryable() bool {
	return k == RateLimited
}

// HTTPStatus maps the kind to the status code used for error responses.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case PreprocessingFailed:
		return http.StatusUnprocessableEntity
	case AuthenticationError:
		return http.StatusBadGateway
	case RateLimited:
		return http.StatusTooManyRequests
	case RemoteUnavailable:
		return http.StatusBadGateway
	case RemoteRejected:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case ModelLoadError, UnsupportedModelFormat, InferenceError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. The Message is safe to return to clients;
// the wrapped cause is not and must only be logged.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates a classified error with a client-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Errorf creates a classified error with a formatted client-safe message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind with a client-safe message. The cause is
// available via [errors.Unwrap] for logging but is never serialised.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

// Error implements the error interface. The wrapped cause is included so
// server-side logs carry the full chain.
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the client-safe message without the wrapped cause.
func (e *Error) Message() string { return e.msg }

// KindOf extracts the [Kind] from an error chain. Context deadline expiry and
// cancellation map to [Timeout]; other unclassified errors map to [Internal].
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Internal
}

// MessageOf returns the client-safe message for an error chain. Unclassified
// errors produce a generic message so internal details never leak.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.msg
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "request deadline exceeded"
	}
	return "internal error"
}
