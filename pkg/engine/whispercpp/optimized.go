package whispercpp

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// ggmlMagic is the little-endian magic number at the start of every ggml
// model file.
const ggmlMagic = 0x67676d6c

// Compile-time assertion that Optimized satisfies engine.Engine.
var _ engine.Engine = (*Optimized)(nil)

// OptimizedConfig configures the quantized engine.
type OptimizedConfig struct {
	// ModelPath is the quantized ggml model file to load (e.g. a q5_1 or
	// q8_0 export).
	ModelPath string

	// Variant names the model size the file contains (e.g. "base.en-q5_1").
	Variant string

	// Language is the default transcription language. Defaults to "en".
	Language string

	// Threads is the whisper.cpp thread count per inference.
	Threads int

	// Accelerated selects the higher-precision compute path used when
	// acceleration hardware is present. On plain CPU the reduced-precision
	// path applies. Affects reporting only; whisper.cpp picks the kernel.
	Accelerated bool

	// VAD tunes the voice-activity pre-filter.
	VAD VADConfig
}

// Optimized is the quantized in-process engine. It differs from [Full] in two
// deliberate ways: the model file is a quantized ggml export (validated by
// magic number before load), and an energy-based voice-activity filter skips
// silent spans before decoding, shifting segment boundaries accordingly.
type Optimized struct {
	model       whisperlib.Model
	variant     string
	language    string
	threads     int
	accelerated bool
	vad         VADConfig

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewOptimized validates that cfg.ModelPath is a ggml file and loads it. The
// caller must call Shutdown when the engine is no longer needed.
func NewOptimized(cfg OptimizedConfig) (*Optimized, error) {
	if cfg.ModelPath == "" {
		return nil, fault.New(fault.ModelLoadError, "model path is not configured")
	}
	if err := checkGGML(cfg.ModelPath); err != nil {
		return nil, err
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fault.Wrap(fault.ModelLoadError, "failed to load model", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return &Optimized{
		model:       model,
		variant:     cfg.Variant,
		language:    lang,
		threads:     cfg.Threads,
		accelerated: cfg.Accelerated,
		vad:         cfg.VAD,
	}, nil
}

// checkGGML verifies the ggml magic number so a misconfigured path (an ONNX
// export, a raw checkpoint) fails fast with a distinct fault kind instead of
// a confusing allocation error inside the bindings.
func checkGGML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fault.Wrap(fault.ModelLoadError, "model is not available", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return fault.Wrap(fault.UnsupportedModelFormat, "model file is not readable", err)
	}
	if binary.LittleEndian.Uint32(magic[:]) != ggmlMagic {
		return fault.Errorf(fault.UnsupportedModelFormat,
			"model %q is not a ggml file", path)
	}
	return nil
}

// Variant returns the model variant bound at load time.
func (o *Optimized) Variant() string { return o.variant }

// Precision describes the active compute path, for model listings.
func (o *Optimized) Precision() string {
	if o.accelerated {
		return "float16"
	}
	return "int8"
}

// Transcribe implements engine.Engine. Silent spans are skipped before
// decoding; a fully silent input returns an empty result without touching
// the model. Cancellation is honoured between speech regions as well as at
// encoder-window boundaries inside each region.
func (o *Optimized) Transcribe(ctx context.Context, audio engine.NormalizedAudio, opts engine.Options) (engine.RawResult, error) {
	samples, err := decodeWAV(audio.Path)
	if err != nil {
		return engine.RawResult{}, fault.Wrap(fault.Internal, "failed to read normalized audio", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = o.language
	}

	regions := detectSpeech(samples, audio.SampleRate, o.vad)
	if len(regions) == 0 {
		return engine.RawResult{Language: lang, Variant: o.variant}, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.model == nil {
		return engine.RawResult{}, fault.New(fault.ModelLoadError, "engine has been shut down")
	}

	var segments []engine.RawSegment
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return engine.RawResult{}, fault.Wrap(fault.Timeout, "transcription cancelled", err)
		}
		segs, err := infer(ctx, o.model, inferParams{
			language:    lang,
			threads:     o.threads,
			temperature: opts.Temperature,
			prompt:      opts.Prompt,
			offset:      float64(r.Start) / float64(audio.SampleRate),
		}, samples[r.Start:r.End])
		if err != nil {
			return engine.RawResult{}, err
		}
		segments = append(segments, segs...)
	}

	return engine.RawResult{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: lang,
		Variant:  o.variant,
	}, nil
}

// Healthy implements engine.Engine.
func (o *Optimized) Healthy(_ context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model != nil
}

// Shutdown releases the model. Safe to call more than once.
func (o *Optimized) Shutdown() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.model != nil {
			o.closeErr = o.model.Close()
			o.model = nil
		}
	})
	return o.closeErr
}
