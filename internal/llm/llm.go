// Package llm wraps external language-model engines behind the Client
// contract: a synchronous single-turn prompt/completion exchange. No
// conversation history is sent unless the caller folds it into the prompt.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the model engine cannot be reached or errored.
var ErrUnavailable = errors.New("model unavailable")

// Client sends a prompt to a language model and returns its completion.
// An empty model selects the engine's configured default. An empty
// completion is not an adapter error; callers decide what it means.
type Client interface {
	Query(ctx context.Context, prompt, model string) (string, error)
}
