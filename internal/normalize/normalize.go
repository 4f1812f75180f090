// Package normalize turns arbitrary uploaded audio into the canonical form
// the engines consume: mono, 16 kHz, in the container the target engine
// requested (16-bit PCM WAV for in-process engines, FLAC for network-bound
// ones). Codec and container handling is delegated entirely to an external
// media tool behind the [Converter] interface; this package owns validation,
// scoped temporary files, and duration probing.
//
// Validation failures (size, emptiness, content type) are reported before the
// media tool is ever invoked, so a rejected upload creates no temporary
// files.
package normalize

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// targetSampleRate is the canonical sample rate. All current engines expect
// 16 kHz input.
const targetSampleRate = 16000

// allowedExtensions lists the upload filename extensions accepted for
// conversion.
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
	".webm": true,
}

// Upload is the raw client-supplied audio as received by the HTTP layer. It
// exists only for the duration of one request.
type Upload struct {
	// Data is the fully buffered upload body.
	Data []byte

	// Filename is the client-declared original filename.
	Filename string

	// ContentType is the client-declared MIME type. May be empty.
	ContentType string

	// DeclaredSize is the client-declared size in bytes, or -1 when unknown.
	// An unknown size is checked after buffering instead.
	DeclaredSize int64
}

// Normalizer validates uploads and produces normalized audio files.
type Normalizer struct {
	conv     Converter
	maxBytes int64
	tempDir  string
}

// Option is a functional option for Normalizer.
type Option func(*Normalizer)

// WithTempDir places scoped temporary directories under dir instead of the
// system default.
func WithTempDir(dir string) Option {
	return func(n *Normalizer) { n.tempDir = dir }
}

// New creates a Normalizer that rejects uploads larger than maxBytes and
// converts accepted ones through conv.
func New(conv Converter, maxBytes int64, opts ...Option) *Normalizer {
	n := &Normalizer{conv: conv, maxBytes: maxBytes}
	for _, o := range opts {
		o(n)
	}
	return n
}

// MaxBytes returns the configured upload size limit.
func (n *Normalizer) MaxBytes() int64 { return n.maxBytes }

// Normalize validates up and converts it into the canonical profile for
// format. On success it returns the normalized audio handle and a cleanup
// function that removes every file this call created; the caller must invoke
// cleanup on all exit paths. On failure nothing is left on disk and cleanup
// is nil.
func (n *Normalizer) Normalize(ctx context.Context, up Upload, format engine.Format) (engine.NormalizedAudio, func(), error) {
	if err := n.validate(up); err != nil {
		return engine.NormalizedAudio{}, nil, err
	}

	dir, err := os.MkdirTemp(n.tempDir, "transcriptd-")
	if err != nil {
		return engine.NormalizedAudio{}, nil, fault.Wrap(fault.Internal, "failed to allocate scratch space", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("normalize: failed to remove scratch dir", "dir", dir, "error", err)
		}
	}

	inputPath := filepath.Join(dir, "upload"+strings.ToLower(filepath.Ext(up.Filename)))
	if err := os.WriteFile(inputPath, up.Data, 0o600); err != nil {
		cleanup()
		return engine.NormalizedAudio{}, nil, fault.Wrap(fault.Internal, "failed to stage upload", err)
	}

	outputPath := filepath.Join(dir, "normalized."+string(format))
	profile := Profile{SampleRate: targetSampleRate, Channels: 1, Format: format}
	if err := n.conv.Convert(ctx, inputPath, outputPath, profile); err != nil {
		cleanup()
		return engine.NormalizedAudio{}, nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		cleanup()
		return engine.NormalizedAudio{}, nil, fault.New(fault.PreprocessingFailed, "audio conversion produced no output")
	}

	// Duration comes from the produced file's own header, never from
	// anything the client declared.
	duration, err := probeDuration(outputPath, format)
	if err != nil {
		cleanup()
		return engine.NormalizedAudio{}, nil, fault.Wrap(fault.PreprocessingFailed, "normalized audio is unreadable", err)
	}

	return engine.NormalizedAudio{
		Path:       outputPath,
		Format:     format,
		SampleRate: targetSampleRate,
		Duration:   duration,
	}, cleanup, nil
}

// validate applies the size and type checks that must pass before any
// decoding work happens.
func (n *Normalizer) validate(up Upload) error {
	if up.DeclaredSize > n.maxBytes {
		return fault.Errorf(fault.PayloadTooLarge,
			"upload exceeds the %d MB limit", n.maxBytes/(1024*1024))
	}
	if len(up.Data) == 0 {
		return fault.New(fault.InvalidInput, "upload is empty")
	}
	if int64(len(up.Data)) > n.maxBytes {
		return fault.Errorf(fault.PayloadTooLarge,
			"upload exceeds the %d MB limit", n.maxBytes/(1024*1024))
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !allowedExtensions[ext] {
		return fault.Errorf(fault.InvalidInput,
			"unsupported audio format %q (supported: mp3, wav, m4a, flac, ogg, aac, webm)", ext)
	}
	if ct := up.ContentType; ct != "" && !audioContentType(ct) {
		return fault.Errorf(fault.InvalidInput, "unsupported content type %q", ct)
	}
	return nil
}

// audioContentType reports whether a declared MIME type plausibly carries
// audio. Browsers send video/webm for microphone captures and generic
// octet-stream for drag-and-drop uploads, so both are accepted; the media
// tool is the final arbiter.
func audioContentType(ct string) bool {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "audio/"):
		return true
	case ct == "video/webm", ct == "application/octet-stream":
		return true
	}
	return false
}
