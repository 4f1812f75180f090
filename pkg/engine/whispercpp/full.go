// Package whispercpp provides the two in-process transcription engines, both
// backed by the whisper.cpp CGO bindings. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// [Full] loads a full-precision ggml model and transcribes the entire input.
// [Optimized] loads a quantized ggml model and applies an energy-based
// voice-activity filter so silent spans are never decoded; its segment
// boundaries therefore differ from Full's on the same input, by design.
//
// A model file is bound to one variant (model size) at load time. Requests
// hinting a different variant are served by the loaded variant; the
// substitution is reported through RawResult.Variant.
package whispercpp

import (
	"context"
	"fmt"
	"os"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

const defaultLanguage = "en"

// Compile-time assertion that Full satisfies engine.Engine.
var _ engine.Engine = (*Full)(nil)

// FullConfig configures the full-precision engine.
type FullConfig struct {
	// ModelPath is the ggml model file to load.
	ModelPath string

	// Variant names the model size the file contains (e.g. "base.en").
	// Reported in results and substitution metadata.
	Variant string

	// Language is the default transcription language. Defaults to "en".
	Language string

	// Threads is the whisper.cpp thread count per inference. Zero lets the
	// bindings pick.
	Threads int
}

// Full is the full-precision in-process engine. The model is loaded once in
// [NewFull] and held across requests for amortised reuse.
//
// Inference is serialised: whisper contexts created from a shared model must
// not run concurrently, so concurrent requests against this engine queue on
// an internal lock rather than corrupt model state.
type Full struct {
	model    whisperlib.Model
	variant  string
	language string
	threads  int

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewFull loads the full-precision model from cfg.ModelPath. The caller must
// call Shutdown when the engine is no longer needed.
func NewFull(cfg FullConfig) (*Full, error) {
	if cfg.ModelPath == "" {
		return nil, fault.New(fault.ModelLoadError, "model path is not configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fault.Wrap(fault.ModelLoadError,
			fmt.Sprintf("model %q is not available", cfg.Variant), err)
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fault.Wrap(fault.ModelLoadError, "failed to load model", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return &Full{
		model:    model,
		variant:  cfg.Variant,
		language: lang,
		threads:  cfg.Threads,
	}, nil
}

// Variant returns the model variant bound at load time.
func (f *Full) Variant() string { return f.variant }

// Transcribe implements engine.Engine. The whole call is compute-bound; the
// context is honoured cooperatively at encoder-window boundaries.
func (f *Full) Transcribe(ctx context.Context, audio engine.NormalizedAudio, opts engine.Options) (engine.RawResult, error) {
	samples, err := decodeWAV(audio.Path)
	if err != nil {
		return engine.RawResult{}, fault.Wrap(fault.Internal, "failed to read normalized audio", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = f.language
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.model == nil {
		return engine.RawResult{}, fault.New(fault.ModelLoadError, "engine has been shut down")
	}

	segments, err := infer(ctx, f.model, inferParams{
		language:    lang,
		threads:     f.threads,
		temperature: opts.Temperature,
		prompt:      opts.Prompt,
	}, samples)
	if err != nil {
		return engine.RawResult{}, err
	}

	return engine.RawResult{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: lang,
		Variant:  f.variant,
	}, nil
}

// Healthy implements engine.Engine.
func (f *Full) Healthy(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model != nil
}

// Shutdown releases the model. Safe to call more than once; subsequent
// Transcribe calls fail with a model-load fault.
func (f *Full) Shutdown() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.model != nil {
			f.closeErr = f.model.Close()
			f.model = nil
		}
	})
	return f.closeErr
}
