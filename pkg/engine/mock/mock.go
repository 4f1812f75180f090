// Package mock provides a scriptable engine.Engine for tests.
package mock

import (
	"context"
	"sync"

	"github.com/audiolith/transcriptd/pkg/engine"
)

// Engine is a test double implementing engine.Engine. Configure behaviour by
// setting the function fields; unset fields fall back to benign defaults.
// The zero value is usable.
type Engine struct {
	// TranscribeFunc handles Transcribe calls. Default: empty result.
	TranscribeFunc func(ctx context.Context, audio engine.NormalizedAudio, opts engine.Options) (engine.RawResult, error)

	// HealthyFunc handles Healthy calls. Default: true.
	HealthyFunc func(ctx context.Context) bool

	// ShutdownFunc handles Shutdown calls. Default: nil error.
	ShutdownFunc func() error

	mu              sync.Mutex
	transcribeCalls int
	shutdownCalls   int
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Transcribe(ctx context.Context, audio engine.NormalizedAudio, opts engine.Options) (engine.RawResult, error) {
	e.mu.Lock()
	e.transcribeCalls++
	e.mu.Unlock()
	if e.TranscribeFunc != nil {
		return e.TranscribeFunc(ctx, audio, opts)
	}
	return engine.RawResult{}, nil
}

func (e *Engine) Healthy(ctx context.Context) bool {
	if e.HealthyFunc != nil {
		return e.HealthyFunc(ctx)
	}
	return true
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	e.shutdownCalls++
	e.mu.Unlock()
	if e.ShutdownFunc != nil {
		return e.ShutdownFunc()
	}
	return nil
}

// TranscribeCalls returns how many times Transcribe was invoked.
func (e *Engine) TranscribeCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcribeCalls
}

// ShutdownCalls returns how many times Shutdown was invoked.
func (e *Engine) ShutdownCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdownCalls
}
