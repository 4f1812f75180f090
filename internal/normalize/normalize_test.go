package normalize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// wavBytes builds a minimal 16 kHz mono 16-bit PCM WAV file with the given
// number of silent samples.
func wavBytes(samples int) []byte {
	data := make([]byte, samples*2)
	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(16000))
	binary.Write(buf, binary.LittleEndian, uint32(16000*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

// fakeConverter writes canned output bytes instead of invoking a media tool.
type fakeConverter struct {
	output []byte
	err    error
	last   Profile
}

func (c *fakeConverter) Convert(_ context.Context, _, out string, p Profile) error {
	c.last = p
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(out, c.output, 0o600)
}

func upload(name string, data []byte) Upload {
	return Upload{Data: data, Filename: name, ContentType: "audio/wav", DeclaredSize: -1}
}

func TestNormalizeSuccess(t *testing.T) {
	conv := &fakeConverter{output: wavBytes(16000)}
	n := New(conv, 1<<20, WithTempDir(t.TempDir()))

	na, cleanup, err := n.Normalize(context.Background(), upload("clip.mp3", []byte("fake mp3")), engine.FormatWAV)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	defer cleanup()

	if na.Format != engine.FormatWAV {
		t.Errorf("format = %q, want wav", na.Format)
	}
	if na.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", na.SampleRate)
	}
	if na.Duration < 0.99 || na.Duration > 1.01 {
		t.Errorf("duration = %v, want ~1s", na.Duration)
	}
	if _, err := os.Stat(na.Path); err != nil {
		t.Errorf("normalized file missing: %v", err)
	}
	if conv.last.SampleRate != 16000 || conv.last.Channels != 1 {
		t.Errorf("conversion profile = %+v, want 16kHz mono", conv.last)
	}
}

func TestNormalizeCleanupRemovesFiles(t *testing.T) {
	tempRoot := t.TempDir()
	conv := &fakeConverter{output: wavBytes(160)}
	n := New(conv, 1<<20, WithTempDir(tempRoot))

	na, cleanup, err := n.Normalize(context.Background(), upload("clip.wav", []byte("x")), engine.FormatWAV)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	cleanup()

	if _, err := os.Stat(na.Path); !os.IsNotExist(err) {
		t.Errorf("normalized file still exists after cleanup")
	}
	entries, _ := os.ReadDir(tempRoot)
	if len(entries) != 0 {
		t.Errorf("%d entries left in temp root", len(entries))
	}
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name string
		up   Upload
		want fault.Kind
	}{
		{
			name: "empty upload",
			up:   Upload{Data: nil, Filename: "a.wav", DeclaredSize: -1},
			want: fault.InvalidInput,
		},
		{
			name: "declared size over limit",
			up:   Upload{Data: []byte("x"), Filename: "a.wav", DeclaredSize: 2 << 20},
			want: fault.PayloadTooLarge,
		},
		{
			name: "actual size over limit",
			up:   Upload{Data: bytes.Repeat([]byte("x"), 2<<20), Filename: "a.wav", DeclaredSize: -1},
			want: fault.PayloadTooLarge,
		},
		{
			name: "unsupported extension",
			up:   Upload{Data: []byte("x"), Filename: "document.pdf", DeclaredSize: -1},
			want: fault.InvalidInput,
		},
		{
			name: "no extension",
			up:   Upload{Data: []byte("x"), Filename: "clip", DeclaredSize: -1},
			want: fault.InvalidInput,
		},
		{
			name: "non-audio content type",
			up:   Upload{Data: []byte("x"), Filename: "a.wav", ContentType: "text/html", DeclaredSize: -1},
			want: fault.InvalidInput,
		},
	}

	conv := &fakeConverter{output: wavBytes(160)}
	n := New(conv, 1<<20, WithTempDir(t.TempDir()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cleanup, err := n.Normalize(context.Background(), tt.up, engine.FormatWAV)
			if err == nil {
				cleanup()
				t.Fatal("Normalize accepted invalid upload")
			}
			if kind := fault.KindOf(err); kind != tt.want {
				t.Errorf("fault kind = %q, want %q", kind, tt.want)
			}
		})
	}
}

func TestNormalizeAcceptedContentTypes(t *testing.T) {
	conv := &fakeConverter{output: wavBytes(160)}
	n := New(conv, 1<<20, WithTempDir(t.TempDir()))

	for _, ct := range []string{
		"audio/mpeg",
		"audio/webm;codecs=opus",
		"video/webm",
		"application/octet-stream",
		"", // content type is optional
	} {
		up := Upload{Data: []byte("x"), Filename: "clip.webm", ContentType: ct, DeclaredSize: -1}
		_, cleanup, err := n.Normalize(context.Background(), up, engine.FormatWAV)
		if err != nil {
			t.Errorf("content type %q rejected: %v", ct, err)
			continue
		}
		cleanup()
	}
}

func TestNormalizeExtensionCaseInsensitive(t *testing.T) {
	conv := &fakeConverter{output: wavBytes(160)}
	n := New(conv, 1<<20, WithTempDir(t.TempDir()))

	_, cleanup, err := n.Normalize(context.Background(), upload("CLIP.MP3", []byte("x")), engine.FormatWAV)
	if err != nil {
		t.Fatalf("uppercase extension rejected: %v", err)
	}
	cleanup()
}

func TestNormalizeConverterFailure(t *testing.T) {
	tempRoot := t.TempDir()
	convErr := fault.New(fault.PreprocessingFailed, "could not decode audio")
	n := New(&fakeConverter{err: convErr}, 1<<20, WithTempDir(tempRoot))

	_, _, err := n.Normalize(context.Background(), upload("clip.wav", []byte("x")), engine.FormatWAV)
	if !errors.Is(err, convErr) {
		t.Fatalf("err = %v, want converter error", err)
	}

	entries, _ := os.ReadDir(tempRoot)
	if len(entries) != 0 {
		t.Errorf("%d entries left on disk after failed conversion", len(entries))
	}
}

func TestNormalizeEmptyOutput(t *testing.T) {
	n := New(&fakeConverter{output: nil}, 1<<20, WithTempDir(t.TempDir()))

	_, _, err := n.Normalize(context.Background(), upload("clip.wav", []byte("x")), engine.FormatWAV)
	if err == nil {
		t.Fatal("Normalize accepted empty conversion output")
	}
	if kind := fault.KindOf(err); kind != fault.PreprocessingFailed {
		t.Errorf("fault kind = %q, want %q", kind, fault.PreprocessingFailed)
	}
}

func TestNormalizeUnreadableOutput(t *testing.T) {
	n := New(&fakeConverter{output: []byte("not a wav file at all")}, 1<<20, WithTempDir(t.TempDir()))

	_, _, err := n.Normalize(context.Background(), upload("clip.wav", []byte("x")), engine.FormatWAV)
	if err == nil {
		t.Fatal("Normalize accepted unreadable output")
	}
	if kind := fault.KindOf(err); kind != fault.PreprocessingFailed {
		t.Errorf("fault kind = %q, want %q", kind, fault.PreprocessingFailed)
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	f := &FFmpeg{bin: "transcriptd-test-no-such-binary"}

	if err := f.Available(); err == nil {
		t.Error("Available() = nil for missing binary")
	}

	err := f.Convert(context.Background(), "in.wav", "out.wav", Profile{SampleRate: 16000, Channels: 1, Format: engine.FormatWAV})
	if err == nil {
		t.Fatal("Convert succeeded without the binary")
	}
	if kind := fault.KindOf(err); kind != fault.PreprocessingFailed {
		t.Errorf("fault kind = %q, want %q", kind, fault.PreprocessingFailed)
	}
}
