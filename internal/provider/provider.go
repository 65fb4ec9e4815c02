package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
	ErrMissingAPIKey   = errors.New("provider api key is required")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text. An empty vector
	// for non-empty input is reported as ErrInvalidResponse.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer generates text completions from a prompt.
type Completer interface {
	// Complete returns a text completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// EmbedderConfig selects the embedding backend. The API key is supplied per
// call to Factory.Embedder because every user brings their own.
type EmbedderConfig struct {
	Type  string
	Model string
	URL   string
}

// CompleterConfig selects the completion backend.
type CompleterConfig struct {
	Type      string
	Model     string
	URL       string
	MaxTokens int
}

// Factory builds embedders and completers bound to a user's API key.
type Factory struct {
	embedding EmbedderConfig
	llm       CompleterConfig
	timeout   time.Duration
}

// NewFactory creates a Factory. timeout bounds every HTTP call made by the
// built clients.
func NewFactory(embedding EmbedderConfig, llm CompleterConfig, timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if llm.MaxTokens <= 0 {
		llm.MaxTokens = defaultMaxTokens
	}
	return &Factory{embedding: embedding, llm: llm, timeout: timeout}
}

// Embedder returns an Embedder authenticated with apiKey.
func (f *Factory) Embedder(apiKey string) (Embedder, error) {
	switch f.embedding.Type {
	case "openai":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewOpenAIEmbedder(apiKey, f.embedding.Model), nil
	case "gemini":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		e := NewGeminiEmbedder(apiKey, f.embedding.Model)
		e.client.Timeout = f.timeout
		if f.embedding.URL != "" {
			e.baseURL = f.embedding.URL
		}
		return e, nil
	case "ollama":
		e := NewOllamaEmbedder(f.embedding.URL, f.embedding.Model)
		e.client.Timeout = f.timeout
		return e, nil
	}
	return nil, fmt.Errorf("unsupported embedding provider type: %q", f.embedding.Type)
}

// Completer returns a Completer authenticated with apiKey.
func (f *Factory) Completer(apiKey string) (Completer, error) {
	switch f.llm.Type {
	case "openai":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		c := NewOpenAICompleter(apiKey, f.llm.Model)
		c.maxTokens = f.llm.MaxTokens
		return c, nil
	case "anthropic":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		c := NewAnthropicCompleter(apiKey, f.llm.Model, option.WithRequestTimeout(f.timeout))
		c.maxTokens = int64(f.llm.MaxTokens)
		return c, nil
	case "gemini":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		c := NewGeminiCompleter(apiKey, f.llm.Model)
		c.client.Timeout = f.timeout
		c.maxTokens = f.llm.MaxTokens
		if f.llm.URL != "" {
			c.baseURL = f.llm.URL
		}
		return c, nil
	case "ollama":
		c := NewOllamaCompleter(f.llm.URL, f.llm.Model)
		c.client.Timeout = f.timeout
		c.maxTokens = f.llm.MaxTokens
		return c, nil
	}
	return nil, fmt.Errorf("unsupported LLM provider type: %q", f.llm.Type)
}

// classifyStatus maps an HTTP status from a provider onto the sentinel
// errors. It returns nil for 2xx.
func classifyStatus(name string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		return fmt.Errorf("%w: %s returned 429", ErrRateLimit, name)
	case status == 408 || status == 504:
		return fmt.Errorf("%w: %s returned HTTP %d", ErrTimeout, name, status)
	}
	return fmt.Errorf("%s returned status %d: %s", name, status, string(body))
}
