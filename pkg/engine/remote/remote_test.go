package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

func TestNewRequiresCredential(t *testing.T) {
	_, err := New("", "whisper-large-v3")
	if err == nil {
		t.Fatal("New succeeded without an API key")
	}
	if kind := fault.KindOf(err); kind != fault.AuthenticationError {
		t.Errorf("fault kind = %q, want %q", kind, fault.AuthenticationError)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("New succeeded without a model")
	}
}

func TestNewWithOptions(t *testing.T) {
	e, err := New("sk-test", "whisper-large-v3",
		WithBaseURL("https://api.groq.com/openai/v1"),
		WithLanguage("sv"),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.language != "sv" {
		t.Errorf("language = %q, want sv", e.language)
	}
	if !e.Healthy(context.Background()) {
		t.Error("Healthy = false for configured engine")
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestClassify(t *testing.T) {
	bg := context.Background()
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"unauthorized", &oai.Error{StatusCode: http.StatusUnauthorized}, fault.AuthenticationError},
		{"forbidden", &oai.Error{StatusCode: http.StatusForbidden}, fault.AuthenticationError},
		{"rate limited", &oai.Error{StatusCode: http.StatusTooManyRequests}, fault.RateLimited},
		{"bad request", &oai.Error{StatusCode: http.StatusBadRequest}, fault.RemoteRejected},
		{"unprocessable", &oai.Error{StatusCode: http.StatusUnprocessableEntity}, fault.RemoteRejected},
		{"server error", &oai.Error{StatusCode: http.StatusInternalServerError}, fault.RemoteUnavailable},
		{"bad gateway", &oai.Error{StatusCode: http.StatusBadGateway}, fault.RemoteUnavailable},
		{"network failure", errors.New("dial tcp: connection refused"), fault.RemoteUnavailable},
		{"client timeout", &url.Error{Op: "Post", URL: "https://api.groq.com/openai/v1/audio/transcriptions", Err: context.DeadlineExceeded}, fault.Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(bg, tt.err)
			if kind := fault.KindOf(got); kind != tt.want {
				t.Errorf("fault kind = %q, want %q", kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("original error not preserved in chain")
			}
		})
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := classify(ctx, errors.New("request aborted"))
	if kind := fault.KindOf(got); kind != fault.Timeout {
		t.Errorf("fault kind = %q, want %q", kind, fault.Timeout)
	}
}

func TestTranscribeEngineTimeout(t *testing.T) {
	// An upstream that never answers within the engine's own deadline must
	// surface as a timeout, not as an unavailable remote: the caller's
	// context is still live when the HTTP client gives up.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	path := filepath.Join(t.TempDir(), "audio.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := New("sk-test", "whisper-large-v3",
		WithBaseURL(srv.URL),
		WithTimeout(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = e.Transcribe(context.Background(), engine.NormalizedAudio{
		Path:   path,
		Format: engine.FormatFLAC,
	}, engine.Options{})
	if err == nil {
		t.Fatal("Transcribe succeeded against a stalled upstream")
	}
	if kind := fault.KindOf(err); kind != fault.Timeout {
		t.Errorf("fault kind = %q, want %q (err: %v)", kind, fault.Timeout, err)
	}
}

func TestTranscribeMissingAudioFile(t *testing.T) {
	e, err := New("sk-test", "whisper-large-v3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = e.Transcribe(context.Background(), engine.NormalizedAudio{
		Path:   "/nonexistent/audio.flac",
		Format: engine.FormatFLAC,
	}, engine.Options{})
	if err == nil {
		t.Fatal("Transcribe succeeded with a missing file")
	}
	if kind := fault.KindOf(err); kind != fault.Internal {
		t.Errorf("fault kind = %q, want %q", kind, fault.Internal)
	}
}

func TestContentType(t *testing.T) {
	if got := contentType(engine.FormatFLAC); got != "audio/flac" {
		t.Errorf("flac content type = %q", got)
	}
	if got := contentType(engine.FormatWAV); got != "audio/wav" {
		t.Errorf("wav content type = %q", got)
	}
}
