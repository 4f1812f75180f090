package normalize

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// Profile is the target conversion profile handed to the media tool.
type Profile struct {
	SampleRate int
	Channels   int
	Format     engine.Format
}

// Converter is the narrow contract for the external media conversion tool.
// Implementations convert the file at inputPath into outputPath according to
// the profile, or fail with a classified fault. The core never embeds codec
// logic; everything container- or codec-specific lives behind this interface.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string, p Profile) error
}

// FFmpeg shells out to the ffmpeg binary. It is stateless and safe for
// concurrent use.
type FFmpeg struct {
	bin string
}

var _ Converter = (*FFmpeg)(nil)

// NewFFmpeg creates a Converter that invokes "ffmpeg" from PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{bin: "ffmpeg"}
}

// Convert implements Converter. ffmpeg's stderr is captured into the wrapped
// error for server-side logs; the client-visible message stays generic.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string, p Profile) error {
	args := []string{
		"-i", inputPath,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-map", "0:a",
		"-c:a", codecFor(p.Format),
		outputPath,
		"-y",
		"-loglevel", "error",
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fault.Wrap(fault.Timeout, "audio conversion cancelled", ctx.Err())
		}
		return fault.Wrap(fault.PreprocessingFailed, "audio conversion failed",
			fmt.Errorf("%s: %w: %s", f.bin, err, truncate(stderr.String(), 512)))
	}
	return nil
}

// Available reports whether the ffmpeg binary can be found. Used by the
// readiness probe.
func (f *FFmpeg) Available() error {
	_, err := exec.LookPath(f.bin)
	if err != nil {
		return fmt.Errorf("media tool %q not found: %w", f.bin, err)
	}
	return nil
}

func codecFor(format engine.Format) string {
	switch format {
	case engine.FormatFLAC:
		return "flac"
	default:
		return "pcm_s16le"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
