// Package embedding provides text embedding generation with multiple backend support.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/raphaelgruber/insightdeck/internal/config"
)

// ErrDimensionMismatch means the model returned vectors of a different size
// than the index was created with.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Embedder defines the interface for text embedding providers.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the HNSW index dimension when the remote index is used.
	Dimension() int
}

// New creates the configured embedder wrapped in a query cache.
func New(cfg config.Config) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.EmbedProvider {
	case config.ProviderOllama, "":
		inner, err = NewOllamaClient(cfg.OllamaHost, cfg.EmbedModel, cfg.EmbedDimension)
	case config.ProviderOpenAI:
		inner, err = NewLangchainEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(inner, DefaultCacheTTL), nil
}

// Cosine returns the cosine similarity of two vectors, or 0 when they differ
// in length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
