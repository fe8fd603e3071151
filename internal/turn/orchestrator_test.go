package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/aitalker/internal/observability"
	"github.com/antoniostano/aitalker/internal/store"
	"github.com/antoniostano/aitalker/internal/stt"
	"github.com/antoniostano/aitalker/internal/tts"
)

type fakeSessions struct {
	mu      sync.Mutex
	ensured []string
	err     error
}

func (f *fakeSessions) Ensure(ctx context.Context, id string) (store.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.Session{}, false, f.err
	}
	f.ensured = append(f.ensured, id)
	return store.Session{ID: id, CreatedAt: time.Now(), LastAccessed: time.Now()}, true, nil
}

func (f *fakeSessions) Get(ctx context.Context, id string) (store.Session, error) {
	return store.Session{ID: id}, nil
}

type fakeTurns struct {
	mu       sync.Mutex
	appended []store.Turn
	err      error
}

func (f *fakeTurns) Append(ctx context.Context, t store.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.appended = append(f.appended, t)
	return "turn-1", nil
}

func (f *fakeTurns) BySession(ctx context.Context, sessionID string, limit int) ([]store.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Turn(nil), f.appended...), nil
}

type fakeTranscriber struct {
	text     string
	err      error
	delay    time.Duration
	gotAudio []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	f.gotAudio = audio
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeModel struct {
	reply string
	err   error
	model string
}

func (f *fakeModel) Query(ctx context.Context, prompt, model string) (string, error) {
	f.model = model
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSynth struct {
	audio    []byte
	err      error
	gotSpeed float64
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, language string, speed float64, format string) ([]byte, string, error) {
	f.gotSpeed = speed
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, tts.ContentType(format), nil
}

func newTestOrchestrator(t *testing.T, namespace string, sessions *fakeSessions, turns *fakeTurns, tr *fakeTranscriber, m *fakeModel, s *fakeSynth) *Orchestrator {
	t.Helper()
	return NewOrchestrator(sessions, turns, tr, m, s, observability.NewMetrics(namespace), Budgets{})
}

func TestRunHappyPath(t *testing.T) {
	sessions := &fakeSessions{}
	turns := &fakeTurns{}
	tr := &fakeTranscriber{text: "what time is it"}
	o := newTestOrchestrator(t, "turntest_happy", sessions, turns,
		tr,
		&fakeModel{reply: "It is noon."},
		&fakeSynth{audio: []byte("mp3-bytes")})

	res, err := o.Run(context.Background(), Request{
		SessionID: "sess-1",
		Audio:     []byte("riff"),
		Filename:  "clip.wav",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SessionID != "sess-1" {
		t.Fatalf("session = %q", res.SessionID)
	}
	if res.Prompt != "what time is it" || res.Reply != "It is noon." {
		t.Fatalf("prompt/reply = %q / %q", res.Prompt, res.Reply)
	}
	if res.TurnID != "turn-1" {
		t.Fatalf("turn id = %q", res.TurnID)
	}
	if res.ContentType != "audio/mpeg" {
		t.Fatalf("content type = %q, want default mp3", res.ContentType)
	}
	if len(turns.appended) != 1 {
		t.Fatalf("appended %d turns", len(turns.appended))
	}
	got := turns.appended[0]
	if got.Word != "3" {
		t.Fatalf("word count = %q, want 3", got.Word)
	}
	if got.Language != "en" {
		t.Fatalf("language = %q, want default en", got.Language)
	}
	if string(tr.gotAudio) != "riff" {
		t.Fatalf("transcriber audio = %q, want the uploaded bytes unchanged", tr.gotAudio)
	}
}

func TestRunDoesNotRewriteVoiceSpeed(t *testing.T) {
	synth := &fakeSynth{audio: []byte("a")}
	o := newTestOrchestrator(t, "turntest_speed", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi"},
		&fakeModel{reply: "hello"},
		synth)

	// A zero speed must reach the synthesizer as-is so its validation can
	// reject it; only the HTTP layer decides what "absent" means.
	if _, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if synth.gotSpeed != 0 {
		t.Fatalf("speed = %v, want 0 passed through", synth.gotSpeed)
	}

	if _, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff"), VoiceSpeed: 1.5}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if synth.gotSpeed != 1.5 {
		t.Fatalf("speed = %v, want 1.5", synth.gotSpeed)
	}
}

func TestRunGeneratesSessionID(t *testing.T) {
	sessions := &fakeSessions{}
	o := newTestOrchestrator(t, "turntest_genid", sessions, &fakeTurns{},
		&fakeTranscriber{text: "hi"},
		&fakeModel{reply: "hello"},
		&fakeSynth{audio: []byte("a")})

	res, err := o.Run(context.Background(), Request{Audio: []byte("riff")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if len(sessions.ensured) != 1 || sessions.ensured[0] != res.SessionID {
		t.Fatalf("ensured = %v", sessions.ensured)
	}
}

func TestRunTranscriptionFailure(t *testing.T) {
	o := newTestOrchestrator(t, "turntest_sttfail", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{err: stt.ErrNoSpeech},
		&fakeModel{reply: "unused"},
		&fakeSynth{audio: []byte("a")})

	_, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")})
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Stage != StageTranscribing {
		t.Fatalf("stage = %s", se.Stage)
	}
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestRunEmptyCompletionFails(t *testing.T) {
	o := newTestOrchestrator(t, "turntest_empty", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi"},
		&fakeModel{reply: "   \n"},
		&fakeSynth{audio: []byte("a")})

	_, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageQuerying {
		t.Fatalf("expected querying failure, got %v", err)
	}
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("cause = %v", err)
	}
}

func TestRunSynthesisFailure(t *testing.T) {
	o := newTestOrchestrator(t, "turntest_ttsfail", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi"},
		&fakeModel{reply: "hello"},
		&fakeSynth{err: tts.ErrSynthesisFailed})

	_, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageSynthesizing {
		t.Fatalf("expected synthesizing failure, got %v", err)
	}
}

func TestRunPersistenceFailureStillServes(t *testing.T) {
	turns := &fakeTurns{err: store.ErrUnavailable}
	o := newTestOrchestrator(t, "turntest_persist", &fakeSessions{}, turns,
		&fakeTranscriber{text: "hi"},
		&fakeModel{reply: "hello there"},
		&fakeSynth{audio: []byte("audio")})

	res, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")})
	if err != nil {
		t.Fatalf("storage failure must not fail the turn: %v", err)
	}
	if res.TurnID != "" {
		t.Fatalf("turn id = %q, want empty when persistence failed", res.TurnID)
	}
	if string(res.Audio) != "audio" {
		t.Fatalf("audio not served: %q", res.Audio)
	}
}

func TestRunStageBudgetMapsToTimeout(t *testing.T) {
	o := NewOrchestrator(&fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi", delay: 200 * time.Millisecond},
		&fakeModel{reply: "hello"},
		&fakeSynth{audio: []byte("a")},
		observability.NewMetrics("turntest_budget"),
		Budgets{Transcribe: 20 * time.Millisecond})

	_, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff")})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageTranscribing {
		t.Fatalf("expected transcribing failure, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunCallerCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(t, "turntest_cancel", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi", delay: time.Second},
		&fakeModel{reply: "hello"},
		&fakeSynth{audio: []byte("a")})

	_, err := o.Run(ctx, Request{SessionID: "s", Audio: []byte("riff")})
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("caller cancellation misreported as timeout: %v", err)
	}
}

func TestRunPassesModelThrough(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	o := newTestOrchestrator(t, "turntest_model", &fakeSessions{}, &fakeTurns{},
		&fakeTranscriber{text: "hi"}, model, &fakeSynth{audio: []byte("a")})

	if _, err := o.Run(context.Background(), Request{SessionID: "s", Audio: []byte("riff"), Model: "mistral"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if model.model != "mistral" {
		t.Fatalf("model = %q", model.model)
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{Stage: StageQuerying, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("Unwrap broken")
	}
	if !strings.Contains(err.Error(), "querying") {
		t.Fatalf("message missing stage: %q", err.Error())
	}
}
