package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// stubCLI writes a shell script that mimics whisper-cli: it finds the -of
// prefix argument and writes the given transcript to <prefix>.txt.
func stubCLI(t *testing.T, transcript string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not supported on windows")
	}
	script := filepath.Join(t.TempDir(), "whisper-cli")
	body := fmt.Sprintf(`#!/bin/sh
prefix=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then prefix="$2"; shift; fi
  shift
done
if [ %d -ne 0 ]; then
  echo "engine blew up" >&2
  exit %d
fi
printf '%%s' %q > "$prefix.txt"
`, exitCode, exitCode, transcript)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return script
}

func stubModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestWhisperTranscribe(t *testing.T) {
	w, err := NewWhisper(WhisperConfig{
		CLI:       stubCLI(t, "hello there", 0),
		ModelPath: stubModel(t),
	})
	if err != nil {
		t.Fatalf("NewWhisper() error = %v", err)
	}

	text, err := w.Transcribe(context.Background(), []byte("fake audio"), "clip.wav")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q, want %q", text, "hello there")
	}
}

func TestWhisperEmptyTranscriptIsNoSpeech(t *testing.T) {
	w, err := NewWhisper(WhisperConfig{
		CLI:       stubCLI(t, "   ", 0),
		ModelPath: stubModel(t),
	})
	if err != nil {
		t.Fatalf("NewWhisper() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), []byte("fake audio"), "clip.wav")
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Transcribe() error = %v, want ErrNoSpeech", err)
	}
}

func TestWhisperEngineFailure(t *testing.T) {
	w, err := NewWhisper(WhisperConfig{
		CLI:       stubCLI(t, "", 3),
		ModelPath: stubModel(t),
	})
	if err != nil {
		t.Fatalf("NewWhisper() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), []byte("fake audio"), "clip.wav")
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscriptionFailed", err)
	}
	if !strings.Contains(err.Error(), "engine blew up") {
		t.Fatalf("error should embed engine diagnostics, got %q", err)
	}
}

func TestWhisperEmptyPayloadIsNoSpeech(t *testing.T) {
	w, err := NewWhisper(WhisperConfig{
		CLI:       stubCLI(t, "ignored", 0),
		ModelPath: stubModel(t),
	})
	if err != nil {
		t.Fatalf("NewWhisper() error = %v", err)
	}
	if _, err := w.Transcribe(context.Background(), nil, ""); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Transcribe(nil) error = %v, want ErrNoSpeech", err)
	}
}

func TestNewWhisperRequiresModel(t *testing.T) {
	_, err := NewWhisper(WhisperConfig{
		CLI:       stubCLI(t, "", 0),
		ModelPath: filepath.Join(t.TempDir(), "missing.bin"),
	})
	if err == nil {
		t.Fatalf("NewWhisper() with missing model expected error")
	}
}

func TestClipExt(t *testing.T) {
	cases := map[string]string{
		"clip.mp3":         ".mp3",
		"CLIP.WAV":         ".wav",
		"voice.webm":       ".webm",
		"../../etc/passwd": ".wav",
		"no-extension":     ".wav",
		"weird.exe":        ".wav",
		"nested/path.flac": ".flac",
		"":                 ".wav",
	}
	for hint, want := range cases {
		if got := clipExt(hint); got != want {
			t.Fatalf("clipExt(%q) = %q, want %q", hint, got, want)
		}
	}
}
