package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/antoniostano/aitalker/internal/audio"
)

type fakeEngine struct {
	out []byte
	err error
}

func (f *fakeEngine) synthesize(_ context.Context, _ synthRequest) ([]byte, error) {
	return f.out, f.err
}

func toneWAV(t *testing.T, sampleRate int, duration float64) []byte {
	t.Helper()
	n := int(float64(sampleRate) * duration)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 9000 * math.Sin(2*math.Pi*330*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	wav, err := audio.EncodeWAV(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	return wav
}

func TestValidateRequestBounds(t *testing.T) {
	cases := []struct {
		text   string
		speed  float64
		format string
		ok     bool
	}{
		{"hello", 1.0, "mp3", true},
		{"hello", 0.5, "wav", true},
		{"hello", 2.0, "ogg", true},
		{"hello", 0.49, "mp3", false},
		{"hello", 2.01, "mp3", false},
		{"   ", 1.0, "mp3", false},
		{"hello", 1.0, "flac", false},
		{"hello", 1.0, "", false},
	}
	for _, c := range cases {
		err := ValidateRequest(c.text, c.speed, c.format)
		if c.ok && err != nil {
			t.Fatalf("ValidateRequest(%q, %v, %q) error = %v, want nil", c.text, c.speed, c.format, err)
		}
		if !c.ok {
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("ValidateRequest(%q, %v, %q) error = %v, want ErrInvalidInput", c.text, c.speed, c.format, err)
			}
		}
	}
}

func TestModelForLanguage(t *testing.T) {
	if got := ModelForLanguage("en"); got != englishModel {
		t.Fatalf("ModelForLanguage(en) = %q", got)
	}
	if got := ModelForLanguage("EN "); got != englishModel {
		t.Fatalf("ModelForLanguage normalization failed: %q", got)
	}
	for _, lang := range []string{"es", "fr", "de", "ja", ""} {
		if got := ModelForLanguage(lang); got != multilingualModel {
			t.Fatalf("ModelForLanguage(%q) = %q, want multilingual", lang, got)
		}
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"mp3": "audio/mpeg",
		"ogg": "audio/ogg",
		"wav": "audio/wav",
	}
	for format, want := range cases {
		if got := ContentType(format); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestSynthesizeWAVPostProcessing(t *testing.T) {
	s := &LocalSynthesizer{engine: &fakeEngine{out: toneWAV(t, 22050, 0.5)}}

	for _, speed := range []float64{0.5, 1.0, 1.5, 2.0} {
		out, contentType, err := s.Synthesize(context.Background(), "hello world", "en", speed, "wav")
		if err != nil {
			t.Fatalf("Synthesize(speed=%v) error = %v", speed, err)
		}
		if len(out) == 0 {
			t.Fatalf("Synthesize(speed=%v) returned empty audio", speed)
		}
		if contentType != "audio/wav" {
			t.Fatalf("content type = %q, want audio/wav", contentType)
		}

		clip, err := audio.DecodeWAV(out)
		if err != nil {
			t.Fatalf("output is not valid WAV: %v", err)
		}
		wantFrames := int(float64(22050/2) / speed)
		gotFrames := len(clip.PCM) / 2
		if gotFrames < wantFrames-4 || gotFrames > wantFrames+4 {
			t.Fatalf("speed %v frames = %d, want ~%d", speed, gotFrames, wantFrames)
		}
	}
}

func TestSynthesizeFallsBackOnBadNativeAudio(t *testing.T) {
	native := []byte("not a wav stream at all")
	s := &LocalSynthesizer{engine: &fakeEngine{out: native}}

	out, contentType, err := s.Synthesize(context.Background(), "hello", "en", 1.0, "mp3")
	if err != nil {
		t.Fatalf("Synthesize() error = %v, fallback should swallow post-processing failures", err)
	}
	if string(out) != string(native) {
		t.Fatalf("fallback should return the unprocessed native bytes")
	}
	if contentType != "audio/wav" {
		t.Fatalf("fallback content type = %q, want audio/wav", contentType)
	}
}

func TestSynthesizeEngineFailure(t *testing.T) {
	s := &LocalSynthesizer{engine: &fakeEngine{err: fmt.Errorf("model crashed")}}

	_, _, err := s.Synthesize(context.Background(), "hello", "en", 1.0, "wav")
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("error should carry engine detail, got %q", err)
	}
}

func TestSynthesizeRejectsInvalidInputBeforeEngine(t *testing.T) {
	s := &LocalSynthesizer{engine: &fakeEngine{err: fmt.Errorf("engine must not be called")}}

	if _, _, err := s.Synthesize(context.Background(), "hello", "en", 0.25, "wav"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("out-of-range speed error = %v, want ErrInvalidInput", err)
	}
	if _, _, err := s.Synthesize(context.Background(), "", "en", 1.0, "wav"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty text error = %v, want ErrInvalidInput", err)
	}
}
