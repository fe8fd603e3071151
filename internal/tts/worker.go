package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// synthWorker is a long-lived python synthesis process speaking a
// JSON-lines request/response protocol over stdin/stdout. Requests are
// single-flight: the protocol cannot interleave, so calls serialize on mu.
type synthWorker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
}

type synthRequest struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type synthResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

func startSynthWorker(pythonPath, scriptPath string) (*synthWorker, error) {
	cmd := exec.Command(pythonPath, "-u", scriptPath)
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &synthWorker{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	// Fire a cheap warmup request so model-load errors surface early.
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	if _, err := w.synthesize(ctx, synthRequest{
		Text:     "warmup",
		Model:    englishModel,
		Language: "en",
	}); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("synthesis worker failed to start: %s", msg)
	}

	return w, nil
}

// synthesize sends one request and decodes exactly one response. The
// returned bytes are WAV at the model's native sample characteristics.
func (w *synthWorker) synthesize(_ context.Context, req synthRequest) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("synthesis worker closed")
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := w.stdin.Write(b); err != nil {
		return nil, err
	}

	var resp synthResponse
	if err := w.dec.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("synthesis worker out-of-sync (got %q, expected %q)", resp.ID, req.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown synthesis error"
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if strings.TrimSpace(resp.AudioBase64) == "" {
		return nil, fmt.Errorf("synthesis worker returned no audio")
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio_base64: %w", err)
	}
	return audio, nil
}

func (w *synthWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin := w.stdin
	cmd := w.cmd
	w.stdin = nil
	w.cmd = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
