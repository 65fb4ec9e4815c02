package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaModel      = "llama3.1:8b"
	defaultOllamaEmbedModel = "nomic-embed-text"
	defaultOllamaURL        = "http://localhost:11434"
)

// ollama is the shared HTTP side of the local Ollama backends. No API key is
// involved.
type ollama struct {
	url    string
	model  string
	client *http.Client
}

func newOllama(url, model, fallback string) ollama {
	if url == "" {
		url = defaultOllamaURL
	}
	if model == "" {
		model = fallback
	}
	return ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o ollama) post(ctx context.Context, path string, in, out any) error {
	return postJSON(ctx, o.client, "ollama", o.url+path, in, out)
}

// OllamaEmbedder embeds text with a local model such as nomic-embed-text
// (768 dims) or mxbai-embed-large (1024 dims).
type OllamaEmbedder struct {
	ollama
}

// NewOllamaEmbedder creates an embedder; empty url and model use the local
// defaults.
func NewOllamaEmbedder(url, model string) *OllamaEmbedder {
	return &OllamaEmbedder{newOllama(url, model, defaultOllamaEmbedModel)}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	var resp ollamaEmbedResponse
	if err := e.post(ctx, "/api/embed", ollamaEmbedRequest{Model: e.model, Input: []string{text}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embedding", ErrInvalidResponse)
	}
	return resp.Embeddings[0], nil
}

// OllamaCompleter answers prompts with a local chat model.
type OllamaCompleter struct {
	ollama
	maxTokens int
}

// NewOllamaCompleter creates a completer; empty url and model use the local
// defaults.
func NewOllamaCompleter(url, model string) *OllamaCompleter {
	return &OllamaCompleter{ollama: newOllama(url, model, defaultOllamaModel), maxTokens: defaultMaxTokens}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func (c *OllamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model:    c.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
	}
	if c.maxTokens > 0 {
		req.Options = map[string]any{"num_predict": c.maxTokens}
	}

	var resp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama: %s", resp.Error)
	}
	return resp.Message.Content, nil
}
