package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "phi"

	ollamaAttempts    = 2
	ollamaBackoffBase = 250 * time.Millisecond
	ollamaBackoffCap  = 2 * time.Second
)

// Ollama queries a local Ollama server over its chat API.
type Ollama struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewOllama(baseURL, defaultModel string) *Ollama {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		defaultModel = defaultOllamaModel
	}
	return &Ollama{
		baseURL:      baseURL,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (o *Ollama) Query(ctx context.Context, prompt, model string) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = o.defaultModel
	}

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}

	var lastErr error
	for attempt := 0; attempt < ollamaAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt, ollamaBackoffBase, ollamaBackoffCap)):
			}
		}

		text, retryable, err := o.queryOnce(ctx, payload)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (o *Ollama) queryOnce(ctx context.Context, payload []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", true, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 4<<10 {
			detail = detail[:4<<10]
		}
		return "", retryableStatus(res.StatusCode),
			fmt.Errorf("%w: ollama http status %d: %s", ErrUnavailable, res.StatusCode, detail)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.Error != "" {
		return "", false, fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}
	return strings.TrimSpace(out.Message.Content), false, nil
}
