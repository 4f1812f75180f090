package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct fault", New(RateLimited, "slow down"), RateLimited},
		{"wrapped fault", fmt.Errorf("outer: %w", New(ModelLoadError, "no weights")), ModelLoadError},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"cancellation", context.Canceled, Timeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Timeout},
		{"plain error", errors.New("disk on fire"), Internal},
		{"nil-ish unclassified", errors.New(""), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestMessageOfNeverLeaksCause(t *testing.T) {
	cause := errors.New("open /etc/secrets/api-key: permission denied")
	err := Wrap(PreprocessingFailed, "audio conversion failed", cause)

	if got := MessageOf(err); got != "audio conversion failed" {
		t.Errorf("MessageOf = %q, want client-safe message only", got)
	}
	// The full chain stays available for logs.
	if got := err.Error(); got != "audio conversion failed: "+cause.Error() {
		t.Errorf("Error() = %q, want message plus cause", got)
	}
}

func TestMessageOfUnclassified(t *testing.T) {
	if got := MessageOf(errors.New("pq: connection refused")); got != "internal error" {
		t.Errorf("MessageOf = %q, want generic message", got)
	}
	if got := MessageOf(context.DeadlineExceeded); got != "request deadline exceeded" {
		t.Errorf("MessageOf(deadline) = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "something failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is does not reach the wrapped cause")
	}
	if New(Internal, "no cause").Unwrap() != nil {
		t.Error("Unwrap on causeless error should be nil")
	}
}

func TestRetryable(t *testing.T) {
	for _, k := range []Kind{
		InvalidInput, PayloadTooLarge, PreprocessingFailed, ModelLoadError,
		UnsupportedModelFormat, InferenceError, AuthenticationError,
		RemoteUnavailable, RemoteRejected, Timeout, Internal,
	} {
		if k.Retryable() {
			t.Errorf("%q is retryable, want not retryable", k)
		}
	}
	if !RateLimited.Retryable() {
		t.Error("rate_limited is not retryable, want retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{PreprocessingFailed, http.StatusUnprocessableEntity},
		{ModelLoadError, http.StatusInternalServerError},
		{UnsupportedModelFormat, http.StatusInternalServerError},
		{InferenceError, http.StatusInternalServerError},
		{AuthenticationError, http.StatusBadGateway},
		{RateLimited, http.StatusTooManyRequests},
		{RemoteUnavailable, http.StatusBadGateway},
		{RemoteRejected, http.StatusBadGateway},
		{Timeout, http.StatusGatewayTimeout},
		{Internal, http.StatusInternalServerError},
		{Kind("made-up"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%q.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(InvalidInput, "unknown engine %q", "nope")
	if err.Kind() != InvalidInput {
		t.Errorf("kind = %q", err.Kind())
	}
	if err.Message() != `unknown engine "nope"` {
		t.Errorf("message = %q", err.Message())
	}
}
