package whispercpp

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// decodeWAV reads a mono 16-bit PCM WAV file and returns float32 samples
// normalised to the range [-1.0, 1.0], as whisper.cpp expects.
func decodeWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: decode wav: %w", err)
	}

	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// rms computes the root-mean-square energy of a sample window on the
// normalised [-1.0, 1.0] scale.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
