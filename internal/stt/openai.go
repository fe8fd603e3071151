package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAITranscriber sends clips to the OpenAI transcription API.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, model string) (*OpenAITranscriber, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}

	// The API client wants a file path; keep the same scoped temp-file
	// discipline as the local engine.
	tmpDir, err := os.MkdirTemp("", "aitalker-stt-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer os.RemoveAll(tmpDir)

	clipPath := filepath.Join(tmpDir, "clip"+clipExt(filenameHint))
	if err := os.WriteFile(clipPath, audio, 0o600); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: clipPath,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
