// Package stt wraps external speech-to-text engines behind the
// Transcriber contract. Engines receive a temporary audio file owned by
// the adapter; the file is removed on every exit path.
package stt

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrNoSpeech reports an empty transcript. Callers must treat this as
	// "no speech detected", not as an engine failure.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrTranscriptionFailed reports an engine error or missing output.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Transcriber converts an audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error)
}

var allowedClipExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".webm": true,
	".m4a":  true,
	".flac": true,
}

// clipExt derives a safe file extension from the uploaded filename.
// Unknown or missing extensions fall back to .wav.
func clipExt(filenameHint string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filenameHint)))
	if allowedClipExts[ext] {
		return ext
	}
	return ".wav"
}
