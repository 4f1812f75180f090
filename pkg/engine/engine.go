// Package engine defines the capability contract shared by all transcription
// backends.
//
// An engine consumes normalized audio (mono, 16 kHz, produced by the audio
// normalizer) and returns a raw, engine-shaped transcription result. Three
// implementations exist: a full-precision in-process whisper.cpp engine, a
// quantized in-process engine with voice-activity pre-filtering, and a remote
// engine calling an OpenAI-compatible inference API. The orchestrator treats
// them uniformly through the [Engine] interface; the result normalizer maps
// their [RawResult] values into the canonical response shape.
//
// In-process engines hold exclusive model state and serialise inference
// internally; callers may invoke Transcribe concurrently on any engine.
package engine

import "context"

// Format identifies the normalized-audio container an engine consumes.
type Format string

const (
	// FormatWAV is 16-bit PCM WAV, used by in-process engines that decode
	// samples directly into memory.
	FormatWAV Format = "wav"

	// FormatFLAC is lossless FLAC, used by network-bound engines to preserve
	// fidelity over the wire at a smaller payload size.
	FormatFLAC Format = "flac"
)

// NormalizedAudio is a handle to canonical audio on disk: mono, fixed sample
// rate, in the container the target engine requested. The file is exclusively
// owned by the request that created it and is deleted by the orchestrator
// when the request completes.
type NormalizedAudio struct {
	// Path is the filesystem location of the normalized file.
	Path string

	// Format is the container the file was normalized into.
	Format Format

	// SampleRate is the sample rate in Hz (16000 for all current profiles).
	SampleRate int

	// Duration is the audio length in seconds, read from the file header.
	Duration float64
}

// Options carries per-request decoding hints. All fields are optional; an
// engine substitutes its configured defaults for zero values.
type Options struct {
	// Variant is the requested model size/variant (e.g. "base.en", "small").
	// If the variant is not available the engine uses its configured default
	// and reports the substitution through RawResult.Variant.
	Variant string

	// Language is a BCP-47 language hint (e.g. "en").
	Language string

	// Temperature is the decoding temperature in [0, 1].
	Temperature float64

	// Prompt is optional context or vocabulary to bias decoding.
	Prompt string
}

// RawSegment is one time-stamped span of transcribed speech. Start and End
// are in seconds; segments are chronological and non-overlapping.
type RawSegment struct {
	Start float64
	End   float64
	Text  string
}

// RawResult is an engine-shaped transcription result before canonical
// normalization. Segment granularity, language detection, and timing detail
// vary by engine; the result normalizer reconciles them.
type RawResult struct {
	// Text is the full transcription.
	Text string

	// Segments are the time-stamped spans, chronological and non-overlapping.
	// Engines without segment-level output leave this nil.
	Segments []RawSegment

	// Language is the detected language code, or empty if the engine did not
	// detect one.
	Language string

	// Variant is the model variant that actually served the request. When it
	// differs from Options.Variant the orchestrator reports a substitution.
	Variant string
}

// Engine is the uniform transcription contract implemented by every backend.
//
// Transcribe must honour ctx cancellation on a best-effort basis: remote
// engines abort the network call, in-process engines check a cooperative flag
// at inference checkpoints. All implementations must be safe for concurrent
// use; engines with exclusive model state serialise inference internally.
type Engine interface {
	// Transcribe runs speech-to-text over the normalized audio. Failures are
	// classified fault errors (fault.ModelLoadError, fault.InferenceError,
	// fault.RateLimited, ...).
	Transcribe(ctx context.Context, audio NormalizedAudio, opts Options) (RawResult, error)

	// Healthy reports whether the engine can currently serve requests.
	Healthy(ctx context.Context) bool

	// Shutdown releases model or connection resources. Safe to call more
	// than once.
	Shutdown() error
}
