package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllamaQuery(t *testing.T) {
	var gotModel string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		if req.Stream {
			t.Errorf("stream = true, want false")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: " Paris. "},
		})
	}))
	defer ts.Close()

	c := NewOllama(ts.URL, "phi")
	text, err := c.Query(context.Background(), "What is the capital of France?", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if text != "Paris." {
		t.Fatalf("text = %q, want %q", text, "Paris.")
	}
	if gotModel != "phi" {
		t.Fatalf("model = %q, want default %q", gotModel, "phi")
	}
}

func TestOllamaUnreachable(t *testing.T) {
	c := NewOllama("http://127.0.0.1:1", "phi")
	_, err := c.Query(context.Background(), "hi", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Query() error = %v, want ErrUnavailable", err)
	}
}

func TestOllamaRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "ok"},
		})
	}))
	defer ts.Close()

	c := NewOllama(ts.URL, "phi")
	text, err := c.Query(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if text != "ok" {
		t.Fatalf("text = %q, want ok", text)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestOllamaDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewOllama(ts.URL, "phi")
	if _, err := c.Query(context.Background(), "hi", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Query() error = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaEngineErrorField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Error: "model not loaded"})
	}))
	defer ts.Close()

	c := NewOllama(ts.URL, "phi")
	if _, err := c.Query(context.Background(), "hi", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Query() error = %v, want ErrUnavailable", err)
	}
}

func TestOllamaContextDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects client disconnect and
		// cancels the request context; otherwise Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	c := NewOllama(ts.URL, "phi")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, "hi", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Query() error = %v, want DeadlineExceeded", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second
	if got := backoff(0, base, limit); got != base {
		t.Fatalf("backoff(0) = %v, want %v", got, base)
	}
	if got := backoff(10, base, limit); got != limit {
		t.Fatalf("backoff(10) = %v, want cap %v", got, limit)
	}
}
