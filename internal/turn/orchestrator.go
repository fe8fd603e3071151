// Package turn sequences one conversational exchange: transcription,
// model query, speech synthesis, best-effort persistence, streamed reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/aitalker/internal/llm"
	"github.com/antoniostano/aitalker/internal/observability"
	"github.com/antoniostano/aitalker/internal/store"
	"github.com/antoniostano/aitalker/internal/stt"
	"github.com/antoniostano/aitalker/internal/tts"
)

// Stage identifies where the pipeline currently is, or where it failed.
type Stage string

const (
	StageReceived     Stage = "received"
	StageTranscribing Stage = "transcribing"
	StageQuerying     Stage = "querying"
	StageSynthesizing Stage = "synthesizing"
	StagePersisting   Stage = "persisting"
	StageCompleted    Stage = "completed"
)

var (
	// ErrTimeout reports that an external engine exceeded its stage budget.
	ErrTimeout = errors.New("external call timed out")
	// ErrEmptyCompletion reports a model that answered with nothing.
	ErrEmptyCompletion = errors.New("model returned an empty completion")
)

// StageError is the terminal failure state: which stage failed and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Budgets bounds each external call so a stalled engine fails the turn
// as a timeout rather than hanging the request.
type Budgets struct {
	Transcribe time.Duration
	Query      time.Duration
	Synthesize time.Duration
	Persist    time.Duration
}

func (b Budgets) withDefaults() Budgets {
	if b.Transcribe <= 0 {
		b.Transcribe = 60 * time.Second
	}
	if b.Query <= 0 {
		b.Query = 120 * time.Second
	}
	if b.Synthesize <= 0 {
		b.Synthesize = 120 * time.Second
	}
	if b.Persist <= 0 {
		b.Persist = 10 * time.Second
	}
	return b
}

// Request carries one uploaded clip and its turn parameters. It exists
// only for the duration of a single Run.
type Request struct {
	SessionID  string
	Audio      []byte
	Filename   string
	Language   string
	VoiceSpeed float64
	Format     string
	Model      string
}

// Result is the completed turn: the synthesized reply plus bookkeeping.
type Result struct {
	SessionID   string
	TurnID      string
	Prompt      string
	Reply       string
	Audio       []byte
	ContentType string
}

// Orchestrator drives the adapters in sequence. All dependencies are
// injected once at startup; the orchestrator itself is stateless and safe
// for concurrent turns.
type Orchestrator struct {
	sessions    store.SessionStore
	turns       store.ConversationStore
	transcriber stt.Transcriber
	model       llm.Client
	synth       tts.Synthesizer
	metrics     *observability.Metrics
	budgets     Budgets
}

func NewOrchestrator(
	sessions store.SessionStore,
	turns store.ConversationStore,
	transcriber stt.Transcriber,
	model llm.Client,
	synth tts.Synthesizer,
	metrics *observability.Metrics,
	budgets Budgets,
) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		turns:       turns,
		transcriber: transcriber,
		model:       model,
		synth:       synth,
		metrics:     metrics,
		budgets:     budgets.withDefaults(),
	}
}

// Run executes the full pipeline for one turn.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	o.metrics.ActiveTurns.Inc()
	defer o.metrics.ActiveTurns.Dec()

	if req.Language = strings.TrimSpace(req.Language); req.Language == "" {
		req.Language = "en"
	}
	if req.Format = strings.TrimSpace(req.Format); req.Format == "" {
		req.Format = tts.FormatMP3
	}

	// Received: validate the session before any engine runs. The clip
	// stays in memory; each engine adapter owns its own scoped temp file.
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, _, err := o.sessions.Ensure(ctx, sessionID); err != nil {
		return nil, o.fail(StageReceived, err)
	}

	// Transcribing.
	start := time.Now()
	prompt, err := o.call(ctx, o.budgets.Transcribe, func(ctx context.Context) (string, error) {
		return o.transcriber.Transcribe(ctx, req.Audio, req.Filename)
	})
	o.metrics.ObserveStage(string(StageTranscribing), time.Since(start))
	if err != nil {
		return nil, o.fail(StageTranscribing, err)
	}

	// Querying.
	start = time.Now()
	reply, err := o.call(ctx, o.budgets.Query, func(ctx context.Context) (string, error) {
		return o.model.Query(ctx, prompt, req.Model)
	})
	o.metrics.ObserveStage(string(StageQuerying), time.Since(start))
	if err != nil {
		return nil, o.fail(StageQuerying, err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, o.fail(StageQuerying, ErrEmptyCompletion)
	}

	// Synthesizing.
	start = time.Now()
	var contentType string
	audio, contentType, err := o.synthesize(ctx, reply, req)
	o.metrics.ObserveStage(string(StageSynthesizing), time.Since(start))
	if err != nil {
		return nil, o.fail(StageSynthesizing, err)
	}

	// Persisting: best-effort. A storage failure must not withhold the
	// synthesized audio from the caller.
	start = time.Now()
	turnID := o.persist(ctx, store.Turn{
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  reply,
		Word:      strconv.Itoa(len(strings.Fields(reply))),
		Language:  req.Language,
	})
	o.metrics.ObserveStage(string(StagePersisting), time.Since(start))

	o.metrics.TurnsTotal.WithLabelValues("completed").Inc()
	return &Result{
		SessionID:   sessionID,
		TurnID:      turnID,
		Prompt:      prompt,
		Reply:       reply,
		Audio:       audio,
		ContentType: contentType,
	}, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string, req Request) ([]byte, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.budgets.Synthesize)
	defer cancel()
	audio, contentType, err := o.synth.Synthesize(callCtx, text, req.Language, req.VoiceSpeed, req.Format)
	if err != nil {
		return nil, "", mapExpiry(ctx, err)
	}
	return audio, contentType, nil
}

func (o *Orchestrator) persist(ctx context.Context, turn store.Turn) string {
	callCtx, cancel := context.WithTimeout(ctx, o.budgets.Persist)
	defer cancel()
	id, err := o.turns.Append(callCtx, turn)
	if err != nil {
		o.metrics.PersistFailures.Inc()
		log.Printf("turn persistence failed (session %s): %v", turn.SessionID, err)
		return ""
	}
	return id
}

// call runs fn under the stage budget and maps budget expiry to ErrTimeout.
func (o *Orchestrator) call(ctx context.Context, budget time.Duration, fn func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	out, err := fn(callCtx)
	if err != nil {
		return "", mapExpiry(ctx, err)
	}
	return out, nil
}

// mapExpiry distinguishes a stage-budget expiry from caller cancellation:
// the former becomes ErrTimeout, the latter propagates unchanged.
func mapExpiry(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (o *Orchestrator) fail(stage Stage, err error) error {
	o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
	o.metrics.TurnFailures.WithLabelValues(string(stage)).Inc()
	return &StageError{Stage: stage, Err: err}
}
