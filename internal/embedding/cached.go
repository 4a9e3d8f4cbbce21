package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCacheTTL bounds how long a query embedding is reused.
const DefaultCacheTTL = time.Hour

// Cached memoizes single-text embeddings. Insight kinds reuse the same
// retrieval queries every run, so most lookups after the first run hit.
// Batch calls pass through uncached.
type Cached struct {
	inner Embedder
	cache *cache.Cache
}

var _ Embedder = (*Cached)(nil)

// NewCached wraps inner with an in-memory TTL cache.
func NewCached(inner Embedder, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Model() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached vector when available.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.cache.Get(k); ok {
		return v.([]float32), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(k, vec)
	return vec, nil
}

// EmbedBatch delegates to the wrapped embedder.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// Model returns the wrapped model name.
func (c *Cached) Model() string { return c.inner.Model() }

// Dimension returns the wrapped dimension.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Len reports the number of cached vectors.
func (c *Cached) Len() int { return c.cache.ItemCount() }
