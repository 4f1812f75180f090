// Package result maps engine-shaped raw transcription output into the one
// canonical response shape returned to clients, reconciling the engines'
// differing segment granularity, timing units, and language reporting.
package result

import (
	"math"
	"time"

	"github.com/audiolith/transcriptd/pkg/engine"
)

// Segment is one canonical time-stamped span. IDs are assigned by position
// (0-based, sequential, chronological) regardless of anything the engine
// reported.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Performance is the stage-latency breakdown in integer milliseconds
// (rounded, not truncated). OverheadMs is the residual of the total after
// the measured stages, clamped at zero so measurement noise can never
// produce a negative value.
type Performance struct {
	PreprocessingMs  int64 `json:"preprocessing_ms"`
	ModelInferenceMs int64 `json:"model_inference_ms"`
	OverheadMs       int64 `json:"overhead_ms"`
	TotalMs          int64 `json:"total_ms"`
}

// Transcription is the canonical response returned to clients.
type Transcription struct {
	Text           string    `json:"text"`
	Segments       []Segment `json:"segments"`
	Language       string    `json:"language"`
	ProcessingTime float64   `json:"processing_time"`

	// Model is the engine that served the request; Variant is the model
	// variant it was loaded with. RequestedVariant is set only when the
	// request hinted a variant that was substituted.
	Model            string `json:"model"`
	Variant          string `json:"variant,omitempty"`
	RequestedVariant string `json:"requested_variant,omitempty"`

	Performance *Performance `json:"performance,omitempty"`
}

// Timings carries the orchestrator's wall-clock checkpoints.
type Timings struct {
	Total         time.Duration
	Preprocessing time.Duration
	Inference     time.Duration
}

// Normalize converts raw engine output plus stage timings into the canonical
// shape. Segments are renumbered from 0 in chronological order and are never
// filtered or mutated beyond renumbering; if the engine detected no language,
// defaultLanguage fills the field so it is never absent.
func Normalize(raw engine.RawResult, engineID string, t Timings, defaultLanguage string) Transcription {
	segments := make([]Segment, len(raw.Segments))
	for i, s := range raw.Segments {
		segments[i] = Segment{ID: i, Start: s.Start, End: s.End, Text: s.Text}
	}

	language := raw.Language
	if language == "" {
		language = defaultLanguage
	}

	perf := &Performance{
		PreprocessingMs:  roundMs(t.Preprocessing),
		ModelInferenceMs: roundMs(t.Inference),
		TotalMs:          roundMs(t.Total),
	}
	perf.OverheadMs = perf.TotalMs - perf.PreprocessingMs - perf.ModelInferenceMs
	if perf.OverheadMs < 0 {
		perf.OverheadMs = 0
	}

	return Transcription{
		Text:           raw.Text,
		Segments:       segments,
		Language:       language,
		ProcessingTime: t.Total.Seconds(),
		Model:          engineID,
		Variant:        raw.Variant,
		Performance:    perf,
	}
}

// roundMs converts a duration to whole milliseconds, rounding half away from
// zero.
func roundMs(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}
