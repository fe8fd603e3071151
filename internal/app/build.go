// Package app wires configuration into a runnable service: store, engine
// adapters, orchestrator and HTTP server, built once at startup.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/aitalker/internal/config"
	"github.com/antoniostano/aitalker/internal/httpapi"
	"github.com/antoniostano/aitalker/internal/llm"
	"github.com/antoniostano/aitalker/internal/observability"
	"github.com/antoniostano/aitalker/internal/store"
	"github.com/antoniostano/aitalker/internal/stt"
	"github.com/antoniostano/aitalker/internal/tts"
	"github.com/antoniostano/aitalker/internal/turn"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *turn.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pool, local synthesis worker).
	Cleanup func() error
}

type engines struct {
	transcriber stt.Transcriber
	model       llm.Client
	synth       tts.Synthesizer
	cleanup     func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	eng, err := resolveEngines(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orchestrator := turn.NewOrchestrator(
		st,
		st,
		eng.transcriber,
		eng.model,
		eng.synth,
		metrics,
		turn.Budgets{
			Transcribe: cfg.TranscribeTimeout,
			Query:      cfg.QueryTimeout,
			Synthesize: cfg.SynthesizeTimeout,
			Persist:    cfg.PersistTimeout,
		},
	)

	api := httpapi.New(st, orchestrator, eng.transcriber, eng.synth, metrics, cfg.AllowAnyOrigin)

	cleanup := func() error {
		var errs []string
		if eng.cleanup != nil {
			if err := eng.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

func resolveEngines(cfg config.Config) (engines, error) {
	switch cfg.EngineProvider {
	case "openai":
		transcriber, err := stt.NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAISTTModel)
		if err != nil {
			return engines{}, fmt.Errorf("openai transcriber init failed: %w", err)
		}
		model, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
		if err != nil {
			return engines{}, fmt.Errorf("openai chat client init failed: %w", err)
		}
		synth, err := tts.NewOpenAISynthesizer(cfg.OpenAIAPIKey, cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
		if err != nil {
			return engines{}, fmt.Errorf("openai synthesizer init failed: %w", err)
		}
		return engines{transcriber: transcriber, model: model, synth: synth}, nil

	case "local":
		transcriber, err := stt.NewWhisper(stt.WhisperConfig{
			CLI:       cfg.WhisperCLI,
			ModelPath: cfg.WhisperModelPath,
			Language:  cfg.WhisperLanguage,
			Threads:   cfg.WhisperThreads,
		})
		if err != nil {
			return engines{}, fmt.Errorf("whisper init failed: %w", err)
		}
		model := llm.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		synth, err := tts.NewLocalSynthesizer(tts.LocalConfig{
			Python:       cfg.TTSPython,
			WorkerScript: cfg.TTSWorkerScript,
			FFmpegPath:   cfg.FFmpegPath,
		})
		if err != nil {
			return engines{}, fmt.Errorf("local synthesizer init failed: %w", err)
		}
		return engines{transcriber: transcriber, model: model, synth: synth, cleanup: synth.Close}, nil

	default:
		return engines{}, fmt.Errorf("unknown engine provider %q", cfg.EngineProvider)
	}
}
