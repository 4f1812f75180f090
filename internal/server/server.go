// Package server exposes the transcription pipeline over HTTP: service info,
// model listing, multipart transcription uploads, metrics, health probes, and
// remote shutdown. Handlers translate between the wire format and the
// orchestrator; no transcription logic lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolith/transcriptd/internal/health"
	"github.com/audiolith/transcriptd/internal/normalize"
	"github.com/audiolith/transcriptd/internal/observe"
	"github.com/audiolith/transcriptd/internal/orchestrator"
	"github.com/audiolith/transcriptd/internal/registry"
	"github.com/audiolith/transcriptd/internal/result"
	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// Version is the service version reported by the root endpoint. Overridden
// at build time via -ldflags.
var Version = "dev"

// Transcriber runs one transcription request end to end. Implemented by
// [orchestrator.Orchestrator]; an interface so handler tests can script it.
type Transcriber interface {
	Transcribe(ctx context.Context, req orchestrator.Request) (result.Transcription, error)
}

// Config wires the server's collaborators and policy knobs.
type Config struct {
	// Orchestrator runs transcription requests.
	Orchestrator Transcriber

	// Registry serves the model listing.
	Registry *registry.Registry

	// Health serves the liveness and readiness probes. Optional.
	Health *health.Handler

	// Metrics instruments HTTP handling. Nil means the package default.
	Metrics *observe.Metrics

	// MaxUploadBytes caps the multipart request body size.
	MaxUploadBytes int64

	// DefaultEngine is used when a request omits the model field.
	DefaultEngine string

	// CORSOrigins lists origins allowed in CORS responses; "*" allows any.
	// Empty disables CORS headers entirely.
	CORSOrigins []string

	// MetricsEnabled exposes GET /metrics when true.
	MetricsEnabled bool

	// Shutdown is invoked (once, asynchronously) when POST /shutdown is
	// accepted. Optional; without it the endpoint returns 404.
	Shutdown func()
}

// Server is the HTTP surface of transcriptd.
type Server struct {
	cfg          Config
	mux          *http.ServeMux
	handler      http.Handler
	shutdownOnce sync.Once
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /", s.handleRoot)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	if cfg.Shutdown != nil {
		s.mux.HandleFunc("POST /shutdown", s.handleShutdown)
	}
	if cfg.MetricsEnabled {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}

	h := observe.Middleware(cfg.Metrics)(s.mux)
	if len(cfg.CORSOrigins) > 0 {
		h = corsMiddleware(cfg.CORSOrigins)(h)
	}
	s.handler = h
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// handleRoot reports service identity and readiness at a glance.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// ServeMux routes any unregistered path here; only the true root is a
	// valid endpoint.
	if r.URL.Path != "/" {
		writeError(w, fault.Errorf(fault.InvalidInput, "unknown endpoint %q", r.URL.Path), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "transcriptd",
		"version": Version,
		"status":  "ok",
		"message": "transcription service is running",
	})
}

// handleModels lists registered engines without loading any of them.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.cfg.Registry.Models(),
	})
}

// handleTranscribe accepts a multipart upload and runs it through the
// pipeline. Form fields: file (required), model, language, variant,
// temperature, prompt.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log := observe.Logger(r.Context()).With("request_id", requestID)
	w.Header().Set("X-Request-ID", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes + formOverhead); err != nil {
		writeFault(w, log, multipartFault(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeFault(w, log, fault.New(fault.InvalidInput, "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeFault(w, log, fault.Wrap(fault.Internal, "failed to read upload", err))
		return
	}

	req := orchestrator.Request{
		Upload: normalize.Upload{
			Data:         data,
			Filename:     header.Filename,
			ContentType:  header.Header.Get("Content-Type"),
			DeclaredSize: header.Size,
		},
		Engine: r.FormValue("model"),
		Options: engine.Options{
			Variant:  r.FormValue("variant"),
			Language: r.FormValue("language"),
			Prompt:   r.FormValue("prompt"),
		},
	}
	if req.Engine == "" {
		req.Engine = s.cfg.DefaultEngine
	}
	if v := r.FormValue("temperature"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil || temp < 0 || temp > 1 {
			writeFault(w, log, fault.Errorf(fault.InvalidInput, "temperature %q must be a number in [0, 1]", v))
			return
		}
		req.Options.Temperature = temp
	}

	log.Info("transcription request",
		"engine", req.Engine,
		"filename", header.Filename,
		"size", header.Size)

	res, err := s.cfg.Orchestrator.Transcribe(r.Context(), req)
	if err != nil {
		writeFault(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleShutdown acknowledges immediately and triggers graceful shutdown in
// the background so the acknowledgement can still be delivered.
func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "shutting down",
	})
	s.shutdownOnce.Do(func() {
		slog.Info("shutdown requested via API")
		go s.cfg.Shutdown()
	})
}

// formOverhead is slop added to the body limit so multipart framing around a
// maximum-size file does not spuriously trip the limit.
const formOverhead = 1 << 20

// multipartFault maps multipart parse failures onto the fault taxonomy.
func multipartFault(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fault.Wrap(fault.PayloadTooLarge, "upload exceeds the size limit", err)
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return fault.Wrap(fault.InvalidInput, "request must be multipart/form-data", err)
	}
	return fault.Wrap(fault.InvalidInput, "malformed multipart request", err)
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeFault logs err and writes the client-safe error response derived from
// its fault kind.
func writeFault(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := fault.KindOf(err)
	status := kind.HTTPStatus()
	if status >= 500 {
		log.Error("request failed", "kind", string(kind), "error", err)
	} else {
		log.Warn("request rejected", "kind", string(kind), "error", err)
	}
	writeJSON(w, status, errorBody{Error: fault.MessageOf(err), Kind: string(kind)})
}

// writeError writes an error response with an explicit status override.
func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, errorBody{Error: fault.MessageOf(err), Kind: string(fault.KindOf(err))})
}

// writeJSON encodes v with the standard JSON content type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers for the allowed origins and answers
// preflight requests.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAny := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
				// Not a cross-origin request.
			case allowAny:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
