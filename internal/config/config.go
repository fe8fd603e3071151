package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the spoken-conversation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// EngineProvider selects the adapter family: "local" runs whisper.cpp,
	// Ollama and the python synthesis worker; "openai" uses the hosted APIs.
	EngineProvider string

	WhisperCLI       string
	WhisperModelPath string
	WhisperLanguage  string
	WhisperThreads   int

	OllamaURL   string
	OllamaModel string

	TTSPython       string
	TTSWorkerScript string
	FFmpegPath      string

	OpenAIAPIKey    string
	OpenAISTTModel  string
	OpenAIChatModel string
	OpenAITTSModel  string
	OpenAITTSVoice  string

	DatabaseURL string

	// Per-stage budgets for external engine calls.
	TranscribeTimeout time.Duration
	QueryTimeout      time.Duration
	SynthesizeTimeout time.Duration
	PersistTimeout    time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "aitalker"),
		AllowAnyOrigin:   false,
		EngineProvider:   envOrDefault("ENGINE_PROVIDER", "local"),
		WhisperCLI:       envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath: envOrDefault("WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		WhisperLanguage:  envOrDefault("WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		WhisperThreads:  0,
		OllamaURL:       envOrDefault("OLLAMA_URL", "http://127.0.0.1:11434"),
		OllamaModel:     envOrDefault("OLLAMA_MODEL", "phi"),
		TTSPython:       envOrDefault("TTS_PYTHON", ""),
		TTSWorkerScript: envOrDefault("TTS_WORKER_SCRIPT", "scripts/tts_worker.py"),
		FFmpegPath:      envOrDefault("FFMPEG_PATH", "ffmpeg"),
		OpenAIAPIKey:    envTrimmed("OPENAI_API_KEY"),
		OpenAISTTModel:  envOrDefault("OPENAI_STT_MODEL", ""),
		OpenAIChatModel: envOrDefault("OPENAI_CHAT_MODEL", ""),
		OpenAITTSModel:  envOrDefault("OPENAI_TTS_MODEL", ""),
		OpenAITTSVoice:  envOrDefault("OPENAI_TTS_VOICE", ""),
		DatabaseURL:     envTrimmed("DATABASE_URL"),

		ShutdownTimeout:   15 * time.Second,
		TranscribeTimeout: 60 * time.Second,
		QueryTimeout:      120 * time.Second,
		SynthesizeTimeout: 120 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeTimeout, err = durationFromEnv("APP_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QueryTimeout, err = durationFromEnv("APP_QUERY_TIMEOUT", cfg.QueryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesizeTimeout, err = durationFromEnv("APP_SYNTHESIZE_TIMEOUT", cfg.SynthesizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistTimeout, err = durationFromEnv("APP_PERSIST_TIMEOUT", cfg.PersistTimeout)
	if err != nil {
		return Config{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.EngineProvider))
	if provider == "" {
		provider = "local"
	}
	cfg.EngineProvider = provider
	if provider != "local" && provider != "openai" {
		return Config{}, fmt.Errorf("ENGINE_PROVIDER must be local or openai, got %q", provider)
	}
	if provider == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required when ENGINE_PROVIDER=openai")
	}
	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	for _, budget := range []struct {
		name string
		d    time.Duration
	}{
		{"APP_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout},
		{"APP_QUERY_TIMEOUT", cfg.QueryTimeout},
		{"APP_SYNTHESIZE_TIMEOUT", cfg.SynthesizeTimeout},
		{"APP_PERSIST_TIMEOUT", cfg.PersistTimeout},
	} {
		if budget.d <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", budget.name)
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
