// Package remote provides the network-bound transcription engine, backed by
// an OpenAI-compatible audio transcription API (Groq by default).
//
// Unlike the in-process engines it holds no model state, so concurrent calls
// are inherently safe; the only shared state is the HTTP client's connection
// pool. Failures are classified into the fault taxonomy from the upstream
// status code so the orchestrator can decide what is retryable.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// defaultTimeout bounds a single upstream call. This is deliberately distinct
// from the local engines' compute budget: a remote call that has not answered
// in this window is better failed and retried than waited on.
const defaultTimeout = 60 * time.Second

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// config holds optional configuration for the engine.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL points the engine at a different OpenAI-compatible endpoint
// (e.g. "https://api.groq.com/openai/v1").
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the default transcription language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout overrides the per-request upstream timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Engine implements engine.Engine against a remote transcription API.
type Engine struct {
	client   oai.Client
	model    string
	language string
}

// New constructs a remote Engine. apiKey and model must be non-empty; a
// missing key is reported as an authentication fault so the request that
// triggered the lazy load gets the correct error kind.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fault.New(fault.AuthenticationError, "remote API credential is not configured")
	}
	if model == "" {
		return nil, fmt.Errorf("remote: model must not be empty")
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
		option.WithMaxRetries(0), // retry policy belongs to the orchestrator
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Engine{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements engine.Engine. The normalized FLAC file is streamed
// to the upstream API; cancelling ctx aborts the network call.
func (e *Engine) Transcribe(ctx context.Context, audio engine.NormalizedAudio, opts engine.Options) (engine.RawResult, error) {
	f, err := os.Open(audio.Path)
	if err != nil {
		return engine.RawResult{}, fault.Wrap(fault.Internal, "failed to read normalized audio", err)
	}
	defer f.Close()

	lang := opts.Language
	if lang == "" {
		lang = e.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(f, "audio."+string(audio.Format), contentType(audio.Format)),
		Model: oai.AudioModel(e.model),
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if opts.Prompt != "" {
		params.Prompt = oai.String(opts.Prompt)
	}
	if opts.Temperature > 0 {
		params.Temperature = oai.Float(opts.Temperature)
	}

	res, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return engine.RawResult{}, classify(ctx, err)
	}

	// The simple JSON response format carries text only; segment-level
	// detail comes from the local engines.
	return engine.RawResult{
		Text:     res.Text,
		Language: lang,
		Variant:  e.model,
	}, nil
}

// Healthy implements engine.Engine. The engine holds no connection state, so
// readiness reduces to having a configured client.
func (e *Engine) Healthy(_ context.Context) bool { return e.model != "" }

// Shutdown implements engine.Engine. There is nothing to release; idle
// upstream connections are closed by the HTTP client's pool.
func (e *Engine) Shutdown() error { return nil }

// classify maps an upstream failure onto the fault taxonomy.
func classify(ctx context.Context, err error) error {
	// The engine enforces its own per-call deadline through the HTTP client,
	// so a lapsed timeout can surface while the caller's context is still
	// live. Those client errors wrap context.DeadlineExceeded.
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, "remote transcription timed out", err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return fault.Wrap(fault.AuthenticationError, "remote API rejected the credential", err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return fault.Wrap(fault.RateLimited, "remote API rate limit reached", err)
		case apierr.StatusCode >= 400 && apierr.StatusCode < 500:
			return fault.Wrap(fault.RemoteRejected, "remote API rejected the audio", err)
		default:
			return fault.Wrap(fault.RemoteUnavailable, "remote API request failed", err)
		}
	}

	// No typed API error means the request never completed: DNS failure,
	// connection reset, client-side timeout.
	return fault.Wrap(fault.RemoteUnavailable, "remote API is unreachable", err)
}

func contentType(f engine.Format) string {
	switch f {
	case engine.FormatFLAC:
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
