// Package observe provides application-wide observability primitives for
// transcriptd: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all transcriptd
// metrics.
const meterName = "github.com/audiolith/transcriptd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per request stage ---

	// PreprocessDuration tracks audio normalization latency (media-tool
	// conversion plus duration probing).
	PreprocessDuration metric.Float64Histogram

	// InferenceDuration tracks engine transcription latency. Use with
	// attribute.String("engine", ...).
	InferenceDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end transcription request latency. Use
	// with attribute.String("engine", ...).
	RequestDuration metric.Float64Histogram

	// EngineLoadDuration tracks how long lazy engine loads take. Use with
	// attribute.String("engine", ...).
	EngineLoadDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts transcription requests. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	Requests metric.Int64Counter

	// Faults counts classified failures. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("kind", ...)
	Faults metric.Int64Counter

	// Retries counts rate-limit retry attempts against the remote engine.
	Retries metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks transcription requests currently in flight.
	ActiveRequests metric.Int64UpDownCounter

	// LoadedEngines tracks the number of live engine handles.
	LoadedEngines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription workloads: preprocessing lands in the sub-second buckets,
// inference on long uploads can take tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PreprocessDuration, err = m.Float64Histogram("transcriptd.preprocess.duration",
		metric.WithDescription("Latency of audio normalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("transcriptd.inference.duration",
		metric.WithDescription("Latency of engine transcription by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("transcriptd.request.duration",
		metric.WithDescription("End-to-end transcription request latency by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineLoadDuration, err = m.Float64Histogram("transcriptd.engine_load.duration",
		metric.WithDescription("Latency of lazy engine loads by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Requests, err = m.Int64Counter("transcriptd.requests",
		metric.WithDescription("Total transcription requests by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("transcriptd.faults",
		metric.WithDescription("Total classified failures by engine and fault kind."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("transcriptd.retries",
		metric.WithDescription("Total rate-limit retry attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("transcriptd.active_requests",
		metric.WithDescription("Transcription requests currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.LoadedEngines, err = m.Int64UpDownCounter("transcriptd.loaded_engines",
		metric.WithDescription("Number of live engine handles."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("transcriptd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRequest records a completed transcription request with the standard
// attribute set.
func (m *Metrics) RecordRequest(ctx context.Context, engine, status string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}

// RecordFault records a classified failure with the standard attribute set.
func (m *Metrics) RecordFault(ctx context.Context, engine, kind string) {
	m.Faults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}
