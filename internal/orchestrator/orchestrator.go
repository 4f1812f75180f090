// Package orchestrator coordinates a transcription request across the
// pipeline stages: upload validation and audio normalization, engine
// acquisition, inference, and result shaping. It owns the request state
// machine, the wall-clock stage timings reported to clients, the request
// deadline, and the resilience policy around flaky engines (rate-limit
// retries, per-engine circuit breakers, reload-on-inference-failure).
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/audiolith/transcriptd/internal/normalize"
	"github.com/audiolith/transcriptd/internal/observe"
	"github.com/audiolith/transcriptd/internal/registry"
	"github.com/audiolith/transcriptd/internal/resilience"
	"github.com/audiolith/transcriptd/internal/result"
	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// Stage identifies where in the pipeline a request currently is.
type Stage string

const (
	StageReceived          Stage = "received"
	StageNormalizing       Stage = "normalizing"
	StageDispatching       Stage = "dispatching"
	StageTranscribing      Stage = "transcribing"
	StageNormalizingResult Stage = "normalizing_result"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

const (
	// maxRateLimitRetries bounds how many times a rate-limited call is
	// retried before the failure is surfaced.
	maxRateLimitRetries = 3

	// retryBackoffBase is the first retry delay; each subsequent retry
	// doubles it.
	retryBackoffBase = 500 * time.Millisecond
)

// Request is one transcription job as handed over by the HTTP layer.
type Request struct {
	// Upload is the raw client audio.
	Upload normalize.Upload

	// Engine is the engine identifier the client selected.
	Engine string

	// Options carries per-request inference hints.
	Options engine.Options
}

// Orchestrator runs transcription requests through the pipeline. Safe for
// concurrent use.
type Orchestrator struct {
	normalizer *normalize.Normalizer
	registry   *registry.Registry
	metrics    *observe.Metrics

	timeout         time.Duration
	defaultLanguage string

	// sleep is swappable so retry tests run without real delays.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithTimeout bounds each request from upload to response. Zero disables the
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithDefaultLanguage sets the language reported when an engine detects none.
func WithDefaultLanguage(lang string) Option {
	return func(o *Orchestrator) { o.defaultLanguage = lang }
}

// WithMetrics replaces the package-default metrics instance, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over the given normalizer and engine registry.
func New(n *normalize.Normalizer, r *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		normalizer:      n,
		registry:        r,
		defaultLanguage: "en",
		sleep:           sleepCtx,
		breakers:        make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Transcribe runs one request through the full pipeline and returns the
// canonical transcription. Every returned error carries a [fault.Kind];
// intermediate files are removed before return regardless of outcome.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (result.Transcription, error) {
	start := time.Now()
	log := observe.Logger(ctx).With("engine", req.Engine)

	o.metrics.ActiveRequests.Add(ctx, 1)
	defer o.metrics.ActiveRequests.Add(ctx, -1)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	stage := StageReceived
	fail := func(err error) (result.Transcription, error) {
		failedIn := stage
		stage = StageFailed
		kind := fault.KindOf(err)
		o.metrics.RecordFault(ctx, req.Engine, string(kind))
		o.metrics.RecordRequest(ctx, req.Engine, "error")
		log.Error("transcription failed",
			"stage", string(failedIn),
			"kind", string(kind),
			"duration", time.Since(start),
			"error", err)
		return result.Transcription{}, err
	}

	// Engine identity is validated before any work: an unknown engine is a
	// hard client error, never substituted.
	entry, err := o.registry.Lookup(req.Engine)
	if err != nil {
		return fail(err)
	}

	stage = StageNormalizing
	preStart := time.Now()
	normalized, cleanup, err := o.normalizer.Normalize(ctx, req.Upload, entry.Format)
	if err != nil {
		return fail(err)
	}
	defer cleanup()
	preDur := time.Since(preStart)
	o.metrics.PreprocessDuration.Record(ctx, preDur.Seconds())

	stage = StageDispatching
	eng, err := o.registry.GetOrLoad(ctx, req.Engine)
	if err != nil {
		return fail(err)
	}

	stage = StageTranscribing
	infStart := time.Now()
	raw, err := o.transcribeWithRetry(ctx, req.Engine, eng, normalized, req.Options, log)
	infDur := time.Since(infStart)
	if err != nil {
		if fault.KindOf(err) == fault.InferenceError {
			// An inference failure can mean corrupted model state; drop the
			// handle so the next request loads fresh weights.
			o.registry.MarkForReload(req.Engine)
		}
		return fail(err)
	}
	o.metrics.InferenceDuration.Record(ctx, infDur.Seconds(),
		metric.WithAttributes(attribute.String("engine", req.Engine)))

	stage = StageNormalizingResult
	total := time.Since(start)
	res := result.Normalize(raw, req.Engine, result.Timings{
		Total:         total,
		Preprocessing: preDur,
		Inference:     infDur,
	}, o.defaultLanguage)

	// A variant hint the engine could not honour is reported as a
	// substitution, never silently dropped.
	if req.Options.Variant != "" && raw.Variant != "" && raw.Variant != req.Options.Variant {
		res.RequestedVariant = req.Options.Variant
	}

	stage = StageComplete
	o.metrics.RequestDuration.Record(ctx, total.Seconds(),
		metric.WithAttributes(attribute.String("engine", req.Engine)))
	o.metrics.RecordRequest(ctx, req.Engine, "ok")
	log.Info("transcription complete",
		"stage", string(stage),
		"duration", total,
		"audio_duration", normalized.Duration,
		"segments", len(res.Segments))

	return res, nil
}

// transcribeWithRetry invokes the engine through its circuit breaker,
// retrying rate-limited calls with exponential backoff. A rate limit that
// survives all retries is reported as upstream unavailability.
func (o *Orchestrator) transcribeWithRetry(
	ctx context.Context,
	id string,
	eng engine.Engine,
	audio engine.NormalizedAudio,
	opts engine.Options,
	log *slog.Logger,
) (engine.RawResult, error) {
	cb := o.breaker(id)

	var raw engine.RawResult
	backoff := retryBackoffBase
	for attempt := 0; ; attempt++ {
		err := cb.Execute(func() error {
			var inner error
			raw, inner = eng.Transcribe(ctx, audio, opts)
			return inner
		})
		if err == nil {
			return raw, nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return engine.RawResult{}, fault.Wrap(fault.RemoteUnavailable,
				"transcription engine temporarily unavailable", err)
		}
		if fault.KindOf(err) != fault.RateLimited {
			return engine.RawResult{}, err
		}
		if attempt >= maxRateLimitRetries {
			return engine.RawResult{}, fault.Wrap(fault.RemoteUnavailable,
				"transcription engine temporarily unavailable", err)
		}

		o.metrics.Retries.Add(ctx, 1)
		log.Warn("rate limited, retrying",
			"attempt", attempt+1,
			"backoff", backoff)
		if serr := o.sleep(ctx, backoff); serr != nil {
			return engine.RawResult{}, fault.Wrap(fault.Timeout,
				"request deadline exceeded while backing off", serr)
		}
		backoff *= 2
	}
}

// breaker returns the circuit breaker for id, creating it on first use.
// Only infrastructure faults count against the breaker: request-scoped
// rejections (rate limits, bad input, auth) say nothing about availability.
func (o *Orchestrator) breaker(id string) *resilience.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[id]; ok {
		return cb
	}
	cb := resilience.New(resilience.Config{
		Name: id,
		Classify: func(err error) bool {
			return fault.KindOf(err) == fault.RemoteUnavailable
		},
	})
	o.breakers[id] = cb
	return cb
}

// BreakerState reports the circuit breaker state for an engine, for
// diagnostics. Returns closed for engines that have never been called.
func (o *Orchestrator) BreakerState(id string) resilience.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[id]; ok {
		return cb.State()
	}
	return resilience.StateClosed
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
