package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// newTestClient creates an openai.Client that points at the given test server.
func newTestClient(serverURL string) *openai.Client {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = serverURL
	return openai.NewClientWithConfig(cfg)
}

func serveJSON(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAIEmbedder_Models(t *testing.T) {
	tests := []struct {
		in   string
		want openai.EmbeddingModel
	}{
		{"text-embedding-3-small", openai.SmallEmbedding3},
		{"text-embedding-3-large", openai.LargeEmbedding3},
		{"unknown-model", openai.SmallEmbedding3},
		{"", openai.SmallEmbedding3},
	}
	for _, tt := range tests {
		e := NewOpenAIEmbedder("test-api-key", tt.in)
		if e.client == nil {
			t.Fatal("expected non-nil client")
		}
		if e.model != tt.want {
			t.Errorf("model %q: expected %q, got %q", tt.in, tt.want, e.model)
		}
	}
}

func TestOpenAIEmbed_ValidResponse(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	})

	embedder := newOpenAIEmbedderWithClient(newTestClient(srv.URL), "text-embedding-3-small")
	vec, err := embedder.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-element vector, got %d elements", len(vec))
	}
}

func TestOpenAIEmbed_EmptyDataResponse(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, openai.EmbeddingResponse{Data: []openai.Embedding{}})

	embedder := newOpenAIEmbedderWithClient(newTestClient(srv.URL), "text-embedding-3-small")
	_, err := embedder.Embed(context.Background(), "test text")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got: %v", err)
	}
}

func TestOpenAIEmbed_EmptyVector(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{}}},
	})

	embedder := newOpenAIEmbedderWithClient(newTestClient(srv.URL), "")
	_, err := embedder.Embed(context.Background(), "test text")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got: %v", err)
	}
}

func TestOpenAIEmbed_EmptyText(t *testing.T) {
	embedder := NewOpenAIEmbedder("test-key", "text-embedding-3-small")

	for _, in := range []string{"", "   "} {
		if _, err := embedder.Embed(context.Background(), in); err == nil {
			t.Errorf("expected error for %q, got nil", in)
		}
	}
}

func TestOpenAIEmbed_RateLimited(t *testing.T) {
	srv := serveJSON(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "slow down", "type": "rate_limit"},
	})

	embedder := newOpenAIEmbedderWithClient(newTestClient(srv.URL), "")
	_, err := embedder.Embed(context.Background(), "test text")
	if !errors.Is(err, ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got: %v", err)
	}
}

func TestOpenAIComplete_ValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.MaxTokens != defaultMaxTokens {
			t.Errorf("expected max tokens %d, got %d", defaultMaxTokens, req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "Hello, world!"}},
			},
		})
	}))
	defer srv.Close()

	completer := newOpenAICompleterWithClient(newTestClient(srv.URL), "gpt-4o-mini")
	result, err := completer.Complete(context.Background(), "test prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello, world!" {
		t.Errorf("expected 'Hello, world!', got %q", result)
	}
}

func TestOpenAIComplete_EmptyChoicesResponse(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{}})

	completer := newOpenAICompleterWithClient(newTestClient(srv.URL), "gpt-4o-mini")
	_, err := completer.Complete(context.Background(), "test prompt")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got: %v", err)
	}
}

func TestOpenAIComplete_ServerError(t *testing.T) {
	srv := serveJSON(t, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{"message": "internal server error", "type": "server_error"},
	})

	completer := newOpenAICompleterWithClient(newTestClient(srv.URL), "gpt-4o-mini")
	_, err := completer.Complete(context.Background(), "test prompt")
	if err == nil {
		t.Fatal("expected error for server error response, got nil")
	}
	if errors.Is(err, ErrRateLimit) {
		t.Error("server error should not be a rate limit")
	}
}

func TestNewOpenAICompleter_DefaultModel(t *testing.T) {
	c := NewOpenAICompleter("test-key", "")
	if c.model != defaultOpenAIModel {
		t.Errorf("expected default model %q, got %q", defaultOpenAIModel, c.model)
	}
	if c.client == nil {
		t.Error("client should not be nil")
	}
}
