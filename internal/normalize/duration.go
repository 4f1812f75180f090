package normalize

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"

	"github.com/audiolith/transcriptd/pkg/engine"
)

// probeDuration reads the audio duration in seconds from the file's own
// header metadata.
func probeDuration(path string, format engine.Format) (float64, error) {
	switch format {
	case engine.FormatFLAC:
		return flacDuration(path)
	default:
		return wavDuration(path)
	}
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("normalize: open %q: %w", path, err)
	}
	defer f.Close()

	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("normalize: read wav header: %w", err)
	}
	return d.Seconds(), nil
}

func flacDuration(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, fmt.Errorf("normalize: read flac header: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return 0, fmt.Errorf("normalize: flac stream info missing")
	}
	return float64(info.NSamples) / float64(info.SampleRate), nil
}
