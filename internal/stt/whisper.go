package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// WhisperConfig configures the local whisper.cpp CLI engine.
type WhisperConfig struct {
	CLI       string
	ModelPath string
	Language  string
	Threads   int
}

// Whisper transcribes audio clips by invoking the whisper.cpp CLI.
type Whisper struct {
	cliPath   string
	modelPath string
	language  string
	threads   int
}

func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	cli := strings.TrimSpace(cfg.CLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}

	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model not found: %s", modelPath)
	}

	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en"
	}

	threads := cfg.Threads
	if threads < 0 {
		return nil, fmt.Errorf("whisper threads must be >= 0")
	}
	if threads == 0 {
		threads = 4
		if n := runtime.NumCPU(); n > 0 {
			threads = n
		}
		if threads > 8 {
			threads = 8
		}
		if threads < 2 {
			threads = 2
		}
	}

	return &Whisper{
		cliPath:   cliPath,
		modelPath: modelPath,
		language:  language,
		threads:   threads,
	}, nil
}

// Transcribe writes the clip to a privately owned temporary location, runs
// the CLI against it with plain-text output and timestamps suppressed, and
// returns the trimmed transcript. Exactly one temporary location is created
// and removed per call.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}

	tmpDir, err := os.MkdirTemp("", "aitalker-stt-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer os.RemoveAll(tmpDir)

	clipPath := filepath.Join(tmpDir, "clip"+clipExt(filenameHint))
	if err := os.WriteFile(clipPath, audio, 0o600); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", clipPath,
		"-l", w.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}

	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp can be extremely chatty; keep errors readable.
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrTranscriptionFailed, detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: engine produced no output", ErrTranscriptionFailed)
		}
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
