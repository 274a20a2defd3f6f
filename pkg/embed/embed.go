// Package embed provides embedding providers for vector search.
//
// The engine consumes a single capability: turn text into a fixed-length
// float vector. Two HTTP providers are shipped:
//
//   - Ollama: local open-source models (mxbai-embed-large, nomic-embed-text)
//   - OpenAI: cloud API (text-embedding-3-small, text-embedding-3-large)
//
// The executor injects an Embedder into queries that use Embed(...) or
// hybrid search; provider failures surface as *Error without touching
// storage.
//
// Example:
//
//	embedder := embed.NewOllama(embed.DefaultOllamaConfig())
//	vec, err := embedder.Embed(ctx, "graph database")
//	if err != nil {
//		return err
//	}
//	fmt.Println(len(vec)) // 1024 for mxbai-embed-large
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder generates vector embeddings from text. Implementations must be
// safe for concurrent use; the executor calls them from many queries.
type Embedder interface {
	// Embed generates the embedding for one text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions returns the embedding width. Must match the target
	// vector label's declared dimension.
	Dimensions() int
}

// Error is an embedding provider failure. The executor maps it to the
// EmbeddingFailed query error.
type Error struct {
	Provider string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embed: %s: %s", e.Provider, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds provider configuration.
type Config struct {
	APIURL     string        // e.g. http://localhost:11434
	APIPath    string        // e.g. /api/embeddings
	APIKey     string        // OpenAI only
	Model      string        // e.g. mxbai-embed-large
	Dimensions int           // expected vector width, validated per call
	Timeout    time.Duration // HTTP request timeout
}

// DefaultOllamaConfig targets a local Ollama with mxbai-embed-large.
func DefaultOllamaConfig() *Config {
	return &Config{
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig targets text-embedding-3-small.
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// Ollama is the local-model provider.
type Ollama struct {
	config *Config
	client *http.Client
}

var _ Embedder = (*Ollama)(nil)

// NewOllama builds an Ollama provider; nil config uses the defaults.
func NewOllama(config *Config) *Ollama {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &Ollama{config: config, client: &http.Client{Timeout: config.Timeout}}
}

// Dimensions returns the configured embedding width.
func (o *Ollama) Dimensions() int { return o.config.Dimensions }

// Embed calls the Ollama embeddings endpoint.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model":  o.config.Model,
		"prompt": text,
	})
	if err != nil {
		return nil, &Error{Provider: "ollama", Detail: "marshal request", Err: err}
	}

	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := postJSON(ctx, o.client, o.config.APIURL+o.config.APIPath, "", body, &resp); err != nil {
		return nil, &Error{Provider: "ollama", Detail: err.Error(), Err: err}
	}
	if err := o.validate(resp.Embedding); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

func (o *Ollama) validate(vec []float64) error {
	if len(vec) == 0 {
		return &Error{Provider: "ollama", Detail: "empty embedding in response"}
	}
	if o.config.Dimensions > 0 && len(vec) != o.config.Dimensions {
		return &Error{Provider: "ollama",
			Detail: fmt.Sprintf("expected %d dimensions, got %d", o.config.Dimensions, len(vec))}
	}
	return nil
}

// OpenAI is the cloud provider.
type OpenAI struct {
	config *Config
	client *http.Client
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI builds an OpenAI provider.
func NewOpenAI(config *Config) *OpenAI {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	return &OpenAI{config: config, client: &http.Client{Timeout: config.Timeout}}
}

// Dimensions returns the configured embedding width.
func (o *OpenAI) Dimensions() int { return o.config.Dimensions }

// Embed calls the OpenAI embeddings endpoint.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.config.Model,
		"input": text,
	})
	if err != nil {
		return nil, &Error{Provider: "openai", Detail: "marshal request", Err: err}
	}

	var resp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, o.client, o.config.APIURL+o.config.APIPath, o.config.APIKey, body, &resp); err != nil {
		return nil, &Error{Provider: "openai", Detail: err.Error(), Err: err}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &Error{Provider: "openai", Detail: "empty embedding in response"}
	}
	vec := resp.Data[0].Embedding
	if o.config.Dimensions > 0 && len(vec) != o.config.Dimensions {
		return nil, &Error{Provider: "openai",
			Detail: fmt.Sprintf("expected %d dimensions, got %d", o.config.Dimensions, len(vec))}
	}
	return vec, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Static is a deterministic in-process embedder for tests and offline
// development: it hashes tokens into a fixed-width bag-of-words vector, so
// equal texts embed equally and token overlap yields cosine similarity.
type Static struct {
	Dim int
}

var _ Embedder = (*Static)(nil)

// NewStatic builds a Static embedder of the given width.
func NewStatic(dim int) *Static { return &Static{Dim: dim} }

// Dimensions returns the vector width.
func (s *Static) Dimensions() int { return s.Dim }

// Embed hashes each whitespace token into a bucket.
func (s *Static) Embed(_ context.Context, text string) ([]float64, error) {
	if s.Dim <= 0 {
		return nil, &Error{Provider: "static", Detail: "dimension not set"}
	}
	vec := make([]float64, s.Dim)
	start := -1
	bucket := func(tok string) {
		h := uint32(2166136261)
		for i := 0; i < len(tok); i++ {
			h ^= uint32(tok[i] | 0x20) // case-insensitive
			h *= 16777619
		}
		vec[h%uint32(s.Dim)]++
	}
	for i := 0; i <= len(text); i++ {
		atEnd := i == len(text)
		isSpace := !atEnd && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n')
		if atEnd || isSpace {
			if start >= 0 {
				bucket(text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return vec, nil
}
