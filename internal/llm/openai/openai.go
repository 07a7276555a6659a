package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/efebarandurmaz/pokedex/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the model the Pokédex catalog was embedded with.
	DefaultModel = "text-embedding-ada-002"
)

// Client implements llm.Provider for OpenAI-compatible embedding APIs
// (OpenAI, Ollama, vLLM, Together, ...).
type Client struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithName overrides the provider name reported by Name.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithDimensions requests reduced output dimensions (text-embedding-3 models).
func WithDimensions(n int) Option {
	return func(c *Client) { c.dimensions = n }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates an OpenAI-compatible embedding provider.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		name:    "openai",
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Model returns the embedding model in use.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": c.model,
		"input": texts,
	}
	if c.dimensions > 0 {
		body["dimensions"] = c.dimensions
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.StatusError{Provider: c.name, Code: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%s embed: decoding response: %w", c.name, err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: got %d embeddings for %d inputs", c.name, len(result.Data), len(texts))
	}

	// The API may return items out of order; index is authoritative.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("%s embed: bad response index %d", c.name, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

var _ llm.Provider = (*Client)(nil)
