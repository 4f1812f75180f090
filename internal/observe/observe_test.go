package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.PreprocessDuration == nil || m.InferenceDuration == nil ||
		m.RequestDuration == nil || m.EngineLoadDuration == nil {
		t.Error("histogram instrument missing")
	}
	if m.Requests == nil || m.Faults == nil || m.Retries == nil {
		t.Error("counter instrument missing")
	}
	if m.ActiveRequests == nil || m.LoadedEngines == nil {
		t.Error("gauge instrument missing")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("http histogram missing")
	}

	// Recording must not panic on noop instruments.
	ctx := context.Background()
	m.RecordRequest(ctx, "local-full", "ok")
	m.RecordFault(ctx, "remote-api", "rate_limited")
	m.ActiveRequests.Add(ctx, 1)
	m.ActiveRequests.Add(ctx, -1)
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	got := CorrelationID(ctx)
	if got == "" {
		t.Fatal("CorrelationID empty with active span")
	}
	if got != span.SpanContext().TraceID().String() {
		t.Errorf("CorrelationID = %q, want trace id", got)
	}
}

func TestLoggerWithoutSpan(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil")
	}
}

func TestMiddlewarePassesThrough(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	var sawRequest bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequest = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Middleware(m)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	if !sawRequest {
		t.Fatal("inner handler not reached")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hi")) // implicit 200
	})
	rec := httptest.NewRecorder()
	Middleware(m)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestInitProviderShutdown(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "transcriptd-test",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
