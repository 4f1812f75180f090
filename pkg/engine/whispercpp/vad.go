package whispercpp

// Voice-activity detection for the optimized engine. Uploads routinely carry
// long silent stretches (meeting recordings, dictation pauses); skipping them
// before decoding cuts inference time roughly in proportion to the silence.
// The trade-off is that segment boundaries shift relative to the full engine,
// which is intentional.

// VADConfig tunes the energy-based voice-activity detector.
type VADConfig struct {
	// RMSThreshold is the root-mean-square energy (on the normalised
	// [-1.0, 1.0] sample scale) below which a frame counts as silent.
	// Defaults to 0.0092, which corresponds to near-silence for speech
	// recorded at normal levels.
	RMSThreshold float64

	// FrameMs is the analysis window length in milliseconds. Defaults to 30.
	FrameMs int

	// MinSilenceMs is the minimum silent gap that splits two speech regions.
	// Shorter gaps are absorbed into the surrounding speech. Defaults to 500.
	MinSilenceMs int

	// PadMs is the amount of audio kept on each side of a detected speech
	// region so word onsets are not clipped. Defaults to 120.
	PadMs int
}

func (c VADConfig) withDefaults() VADConfig {
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = 0.0092
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 30
	}
	if c.MinSilenceMs <= 0 {
		c.MinSilenceMs = 500
	}
	if c.PadMs <= 0 {
		c.PadMs = 120
	}
	return c
}

// speechRegion is a half-open sample range [Start, End) containing speech.
type speechRegion struct {
	Start int
	End   int
}

// detectSpeech splits mono samples into speech regions using frame-level RMS
// energy. Silent gaps shorter than MinSilenceMs do not split a region. The
// returned regions are chronological, non-overlapping, and padded by PadMs on
// each side (clamped to the sample range). A fully silent input yields nil.
func detectSpeech(samples []float32, sampleRate int, cfg VADConfig) []speechRegion {
	cfg = cfg.withDefaults()

	frameLen := sampleRate * cfg.FrameMs / 1000
	if frameLen <= 0 || len(samples) == 0 {
		return nil
	}
	gapFrames := cfg.MinSilenceMs / cfg.FrameMs
	if gapFrames < 1 {
		gapFrames = 1
	}
	pad := sampleRate * cfg.PadMs / 1000

	var (
		regions      []speechRegion
		inSpeech     bool
		regionStart  int
		silentFrames int
	)

	flush := func(end int) {
		start := regionStart - pad
		if start < 0 {
			start = 0
		}
		end += pad
		if end > len(samples) {
			end = len(samples)
		}
		// Merge with the previous region when padding makes them touch.
		if n := len(regions); n > 0 && start <= regions[n-1].End {
			regions[n-1].End = end
			return
		}
		regions = append(regions, speechRegion{Start: start, End: end})
	}

	for off := 0; off < len(samples); off += frameLen {
		end := off + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		voiced := rms(samples[off:end]) >= cfg.RMSThreshold

		switch {
		case voiced && !inSpeech:
			inSpeech = true
			regionStart = off
			silentFrames = 0
		case voiced:
			silentFrames = 0
		case inSpeech:
			silentFrames++
			if silentFrames >= gapFrames {
				flush(off - (silentFrames-1)*frameLen)
				inSpeech = false
			}
		}
	}
	if inSpeech {
		flush(len(samples))
	}
	return regions
}
