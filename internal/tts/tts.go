// Package tts wraps external speech-synthesis engines behind the
// Synthesizer contract and applies speed/format post-processing to the
// raw synthesized audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput reports a malformed or out-of-range request.
	ErrInvalidInput = errors.New("invalid synthesis input")
	// ErrSynthesisFailed reports a failed model invocation. Post-processing
	// failures never produce this; they fall back to the raw engine output.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0

	FormatMP3 = "mp3"
	FormatWAV = "wav"
	FormatOGG = "ogg"
)

// Synthesizer converts text to encoded audio, returning the bytes and
// their content type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string, speed float64, format string) ([]byte, string, error)
}

// ContentType maps an output format to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}

// ValidateRequest checks the text, speed and format constraints shared by
// all engines. Boundary speeds 0.5 and 2.0 are accepted.
func ValidateRequest(text string, speed float64, format string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: voice speed %v outside [%v, %v]", ErrInvalidInput, speed, MinSpeed, MaxSpeed)
	}
	switch strings.ToLower(format) {
	case FormatMP3, FormatWAV, FormatOGG:
		return nil
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, format)
	}
}

const (
	englishModel      = "tts_models/en/ljspeech/vits"
	multilingualModel = "tts_models/multilingual/multi-dataset/xtts_v2"
)

// ModelForLanguage selects the synthesis model: a dedicated high-quality
// English model, or the general multilingual model for everything else.
// Pure function of the language code.
func ModelForLanguage(language string) string {
	if strings.ToLower(strings.TrimSpace(language)) == "en" {
		return englishModel
	}
	return multilingualModel
}
