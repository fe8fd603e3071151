package tts

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/antoniostano/aitalker/internal/audio"
)

// LocalConfig configures the local python synthesis worker.
type LocalConfig struct {
	Python       string
	WorkerScript string
	FFmpegPath   string
}

type speechEngine interface {
	synthesize(ctx context.Context, req synthRequest) ([]byte, error)
}

// LocalSynthesizer drives the local synthesis worker and post-processes
// its native WAV output: speed adjustment, loudness normalization, mild
// dynamic-range compression, container encoding.
type LocalSynthesizer struct {
	engine speechEngine
	closer func() error
	ffmpeg string
}

func NewLocalSynthesizer(cfg LocalConfig) (*LocalSynthesizer, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		// Prefer a local venv if present.
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	if py == "" {
		return nil, fmt.Errorf("python for the synthesis worker not set and python3 not found on PATH")
	}

	script := strings.TrimSpace(cfg.WorkerScript)
	if script == "" {
		script = "scripts/tts_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("synthesis worker script not found: %s", script)
	}

	worker, err := startSynthWorker(py, script)
	if err != nil {
		return nil, err
	}

	return &LocalSynthesizer{engine: worker, closer: worker.Close, ffmpeg: cfg.FFmpegPath}, nil
}

func (s *LocalSynthesizer) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// Synthesize generates speech for text and returns encoded audio bytes
// plus their content type. Post-processing failures fall back to the
// unprocessed native bytes rather than failing the call.
func (s *LocalSynthesizer) Synthesize(ctx context.Context, text, language string, speed float64, format string) ([]byte, string, error) {
	if err := ValidateRequest(text, speed, format); err != nil {
		return nil, "", err
	}

	raw, err := s.engine.synthesize(ctx, synthRequest{
		Text:     text,
		Model:    ModelForLanguage(language),
		Language: language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	processed, contentType, err := postProcess(ctx, raw, speed, format, s.ffmpeg)
	if err != nil {
		// Deliberate best-effort policy: a post-processing failure must not
		// fail the call. Serve the engine's native output instead.
		log.Printf("tts post-processing failed, returning native audio: %v", err)
		return raw, ContentType(FormatWAV), nil
	}
	return processed, contentType, nil
}

// postProcess applies the speed/loudness/compression chain and encodes
// the requested container. The speed step resamples the frame rate by the
// speed factor and restores the nominal rate, which shifts perceived
// pitch along with the speed.
func postProcess(ctx context.Context, nativeWAV []byte, speed float64, format, ffmpegPath string) ([]byte, string, error) {
	clip, err := audio.DecodeWAV(nativeWAV)
	if err != nil {
		return nil, "", fmt.Errorf("decode native audio: %w", err)
	}

	if speed != 1.0 {
		clip, err = audio.ApplySpeed(clip, speed)
		if err != nil {
			return nil, "", fmt.Errorf("apply speed: %w", err)
		}
	}
	clip, err = audio.Normalize(clip)
	if err != nil {
		return nil, "", fmt.Errorf("normalize: %w", err)
	}
	clip, err = audio.CompressDynamicRange(clip)
	if err != nil {
		return nil, "", fmt.Errorf("compress: %w", err)
	}

	wav, err := audio.EncodeWAV(clip.PCM, clip.SampleRate, clip.Channels)
	if err != nil {
		return nil, "", fmt.Errorf("encode wav: %w", err)
	}

	format = strings.ToLower(format)
	if format == FormatWAV {
		return wav, ContentType(FormatWAV), nil
	}

	encoded, err := encodeWithFFmpeg(ctx, ffmpegPath, wav, format)
	if err != nil {
		return nil, "", err
	}
	return encoded, ContentType(format), nil
}
