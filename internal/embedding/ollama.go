package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaModel is the embedding model that produces 384-dimensional vectors.
	DefaultOllamaModel = "all-minilm:l6-v2"

	// DefaultOllamaDimension is the dimension for all-minilm:l6-v2.
	DefaultOllamaDimension = 384
)

// OllamaClient implements Embedder using an Ollama server.
type OllamaClient struct {
	client    *api.Client
	model     string
	dimension int
}

// Compile-time check that OllamaClient implements Embedder.
var _ Embedder = (*OllamaClient)(nil)

// NewOllamaClient creates a new Ollama embedding client.
// An empty host falls back to the OLLAMA_HOST environment variable.
// Empty model and zero dimension select the all-minilm defaults.
func NewOllamaClient(host, model string, expectedDimension int) (*OllamaClient, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	if expectedDimension == 0 {
		expectedDimension = DefaultOllamaDimension
	}

	var client *api.Client
	if host == "" {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
	} else {
		base, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host: %w", err)
		}
		client = api.NewClient(base, &http.Client{Timeout: 2 * time.Minute})
	}

	return &OllamaClient{
		client:    client,
		model:     model,
		dimension: expectedDimension,
	}, nil
}

// Model returns the configured embedding model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// Dimension returns the expected embedding dimension.
func (c *OllamaClient) Dimension() int {
	return c.dimension
}

// Embed generates an embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, text, 1)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := c.embed(ctx, texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	return vecs, nil
}

// embed sends input (a string or []string) and checks count and dimension.
// Long issue descriptions are truncated server-side to the model context.
func (c *OllamaClient) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	truncate := true
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model:    c.model,
		Input:    input,
		Truncate: &truncate,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), want)
	}
	for i, emb := range resp.Embeddings {
		if len(emb) != c.dimension {
			return nil, fmt.Errorf("%w: vector %d has %d, want %d (model %s)",
				ErrDimensionMismatch, i, len(emb), c.dimension, c.model)
		}
	}
	return resp.Embeddings, nil
}
