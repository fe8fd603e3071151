package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAISynthesizer generates speech through the OpenAI audio API. Speed
// and container are handled engine-side, so no local post-processing runs.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

func NewOpenAISynthesizer(apiKey, model, voice string) (*OpenAISynthesizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	m := openai.SpeechModel(strings.TrimSpace(model))
	if m == "" {
		m = openai.TTSModel1
	}
	v := openai.SpeechVoice(strings.TrimSpace(voice))
	if v == "" {
		v = openai.VoiceAlloy
	}
	return &OpenAISynthesizer{
		client: openai.NewClient(apiKey),
		model:  m,
		voice:  v,
	}, nil
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, language string, speed float64, format string) ([]byte, string, error) {
	if err := ValidateRequest(text, speed, format); err != nil {
		return nil, "", err
	}
	_ = language // voice selection is fixed per synthesizer; the API models are multilingual

	var responseFormat openai.SpeechResponseFormat
	switch strings.ToLower(format) {
	case FormatMP3:
		responseFormat = openai.SpeechResponseFormatMp3
	case FormatWAV:
		responseFormat = openai.SpeechResponseFormatWav
	case FormatOGG:
		// Opus ships in an Ogg container.
		responseFormat = openai.SpeechResponseFormatOpus
	}

	res, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: responseFormat,
		Speed:          speed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer res.Close()

	data, err := io.ReadAll(res)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read audio: %v", ErrSynthesisFailed, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: engine returned no audio", ErrSynthesisFailed)
	}
	return data, ContentType(format), nil
}
