package whispercpp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// inferParams configures a single whisper.cpp inference pass.
type inferParams struct {
	language    string
	threads     int
	temperature float64
	prompt      string

	// offset is added to every segment timestamp, in seconds. Used by the
	// optimized engine to restore absolute times after silence skipping.
	offset float64
}

// infer runs one whisper.cpp inference pass over mono 16 kHz float32 samples
// and returns the resulting segments in chronological order.
//
// Each pass creates a fresh whisper context from the shared model; contexts
// are not safe for concurrent use, so callers must hold the engine's
// inference lock. Cancellation is cooperative: the encoder-begin callback
// rejects the next encoder window once ctx is done, so an in-flight window
// always runs to completion.
func infer(ctx context.Context, model whisperlib.Model, p inferParams, samples []float32) ([]engine.RawSegment, error) {
	wctx, err := model.NewContext()
	if err != nil {
		return nil, fault.Wrap(fault.InferenceError, "transcription failed", err)
	}

	if p.language != "" {
		if err := wctx.SetLanguage(p.language); err != nil {
			slog.Warn("whispercpp: failed to set language, using model default",
				"language", p.language, "error", err)
		}
	}
	if p.threads > 0 {
		wctx.SetThreads(uint(p.threads))
	}
	if p.temperature > 0 {
		wctx.SetTemperature(float32(p.temperature))
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}

	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.Timeout, "transcription cancelled", ctx.Err())
		}
		return nil, fault.Wrap(fault.InferenceError, "transcription failed", err)
	}
	if ctx.Err() != nil {
		return nil, fault.Wrap(fault.Timeout, "transcription cancelled", ctx.Err())
	}

	var segments []engine.RawSegment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.InferenceError, "transcription failed", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, engine.RawSegment{
			Start: seg.Start.Seconds() + p.offset,
			End:   seg.End.Seconds() + p.offset,
			Text:  text,
		})
	}
	return segments, nil
}

// joinSegments concatenates segment texts into the full transcription.
func joinSegments(segments []engine.RawSegment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
