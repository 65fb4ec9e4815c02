package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiURL        = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel      = "gemini-2.0-flash"
	defaultGeminiEmbedModel = "text-embedding-004"
)

// GeminiEmbedder implements the Embedder interface using the Gemini API.
type GeminiEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiEmbedder creates a GeminiEmbedder. If model is empty it defaults
// to text-embedding-004.
func NewGeminiEmbedder(apiKey, model string) *GeminiEmbedder {
	if model == "" {
		model = defaultGeminiEmbedModel
	}
	return &GeminiEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultGeminiURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns a vector embedding for the given text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	var resp geminiEmbedResponse
	err := postJSON(ctx, g.client, "gemini", geminiURL(g.baseURL, g.model, "embedContent", g.apiKey),
		geminiEmbedRequest{
			Model:   "models/" + g.model,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned from gemini", ErrInvalidResponse)
	}
	return resp.Embedding.Values, nil
}

// GeminiCompleter implements the Completer interface using the Gemini API.
type GeminiCompleter struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// NewGeminiCompleter creates a GeminiCompleter. If model is empty it
// defaults to gemini-2.0-flash.
func NewGeminiCompleter(apiKey, model string) *GeminiCompleter {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiCompleter{
		apiKey:    apiKey,
		model:     model,
		baseURL:   defaultGeminiURL,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends a prompt to Gemini and returns the concatenated text parts
// of the first candidate.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var resp geminiResponse
	err := postJSON(ctx, g.client, "gemini", geminiURL(g.baseURL, g.model, "generateContent", g.apiKey),
		geminiRequest{
			Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
			GenerationConfig: &geminiGenConfig{MaxOutputTokens: g.maxTokens},
		}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in gemini response", ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func geminiURL(base, model, method, apiKey string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", strings.TrimRight(base, "/"), model, method, url.QueryEscape(apiKey))
}
