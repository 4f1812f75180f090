package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unreachable")

func failingCalls(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errUpstream })
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, ResetTimeout: time.Minute})

	failingCalls(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", cb.State())
	}

	failingCalls(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.State())
	}

	var called bool
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while breaker open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	failingCalls(cb, 2)
	cb.Execute(func() error { return nil })
	failingCalls(cb, 2)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", cb.State())
	}
}

func TestHalfOpenProbesAndCloses(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2})

	failingCalls(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after reset timeout, want half-open", cb.State())
	}

	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v after successful probes, want closed", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	failingCalls(cb, 1)
	time.Sleep(20 * time.Millisecond)

	cb.Execute(func() error { return errUpstream })
	if cb.State() != StateOpen {
		t.Errorf("state = %v after failed probe, want open", cb.State())
	}
}

func TestClassifyFiltersCountedErrors(t *testing.T) {
	counted := errors.New("counted")
	cb := New(Config{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Classify:     func(err error) bool { return errors.Is(err, counted) },
	})

	// Non-counted errors pass through untouched and never open the breaker.
	for i := 0; i < 10; i++ {
		if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("err = %v, want passthrough", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after non-counted errors", cb.State())
	}

	cb.Execute(func() error { return counted })
	cb.Execute(func() error { return counted })
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after counted errors", cb.State())
	}
}

func TestErrorReturnedUnchanged(t *testing.T) {
	cb := New(Config{})
	if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Errorf("err = %v, want original error", err)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestReset(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	failingCalls(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state = %v after Reset, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
