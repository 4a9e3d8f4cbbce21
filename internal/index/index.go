// Package index stores processed records as embedded documents and answers
// semantic queries over them.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/raphaelgruber/insightdeck/internal/embedding"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/raphaelgruber/insightdeck/internal/models"
)

// DefaultBatchSize is the number of documents embedded and upserted together.
const DefaultBatchSize = 50

// DefaultLimit is used when a query asks for zero results.
const DefaultLimit = 10

// ErrUnknownCollection is returned for a collection outside models.Collections.
var ErrUnknownCollection = errors.New("unknown collection")

// Store persists documents with their embeddings.
type Store interface {
	Upsert(ctx context.Context, collection string, docs []models.Document) error
	// Search returns up to limit documents ordered by similarity to embedding,
	// or by key when embedding is nil.
	Search(ctx context.Context, collection string, embedding []float32, filters models.Filters, limit int) ([]models.Document, error)
	Count(ctx context.Context, collection string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Query is a semantic lookup against one collection.
type Query struct {
	Text       string         `json:"text"`
	Collection string         `json:"collection,omitempty"`
	Filters    models.Filters `json:"filters"`
	Limit      int            `json:"limit,omitempty"`
}

// ImportResult summarizes an Import call.
type ImportResult struct {
	Indexed  int      `json:"indexed"`
	Failed   int      `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

// Index combines a Store with the Embedder that fills it.
type Index struct {
	store     Store
	embedder  embedding.Embedder
	batchSize int
	metrics   metrics.Recorder
	logger    *slog.Logger

	retries   int
	retryWait time.Duration
}

// New creates an Index. A batchSize of 0 uses DefaultBatchSize.
func New(store Store, embedder embedding.Embedder, batchSize int, logger *slog.Logger) *Index {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		metrics:   metrics.Nop{},
		logger:    logger.With("component", "index"),
		retries:   3,
		retryWait: 500 * time.Millisecond,
	}
}

// SetRetry sets how often a failed batch is retried and the first delay.
func (x *Index) SetRetry(retries int, wait time.Duration) {
	x.retries = max(retries, 0)
	if wait > 0 {
		x.retryWait = wait
	}
}

// SetRecorder sends embedding timings and collection sizes to r.
func (x *Index) SetRecorder(r metrics.Recorder) {
	x.metrics = r
}

// Import embeds and upserts docs in batches keyed by collection and ID.
// A failed batch is recorded and the remaining batches continue; Import
// only returns an error when the store is unreachable or nothing was written.
func (x *Index) Import(ctx context.Context, docs []models.Document) (ImportResult, error) {
	var res ImportResult
	if len(docs) == 0 {
		return res, nil
	}
	if err := x.store.Ping(ctx); err != nil {
		return res, fmt.Errorf("index store unreachable: %w", err)
	}

	start := time.Now()
	byCollection := make(map[string][]models.Document)
	for _, d := range docs {
		if !slices.Contains(models.Collections, d.Collection) {
			res.Failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", d.Key, ErrUnknownCollection))
			continue
		}
		byCollection[d.Collection] = append(byCollection[d.Collection], d)
	}

	for _, collection := range models.Collections {
		group := byCollection[collection]
		for i := 0; i < len(group); i += x.batchSize {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			batch := group[i:min(i+x.batchSize, len(group))]
			if err := x.importBatch(ctx, collection, batch); err != nil {
				res.Failed += len(batch)
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("%s batch %d-%d: %v", collection, i, i+len(batch)-1, err))
				x.logger.Warn("batch failed", "collection", collection, "offset", i, "size", len(batch), "error", err)
				continue
			}
			res.Indexed += len(batch)
		}
	}

	x.logger.Info("import complete",
		"indexed", res.Indexed,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	if res.Indexed == 0 {
		return res, fmt.Errorf("no documents indexed (%d failed)", res.Failed)
	}
	if counts, err := x.Counts(ctx); err == nil {
		for c, n := range counts {
			x.metrics.SetIndexed(c, n)
		}
	}
	return res, nil
}

// importBatch embeds and upserts one batch, retrying transient failures of
// the embedder or the store with exponential backoff. Upserts are keyed, so
// a retried batch never duplicates documents.
func (x *Index) importBatch(ctx context.Context, collection string, batch []models.Document) error {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Text
	}

	operation := func() error {
		start := time.Now()
		vecs, err := x.embedder.EmbedBatch(ctx, texts)
		x.metrics.ObserveEmbedding(time.Since(start))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, embedding.ErrDimensionMismatch) {
				return backoff.Permanent(fmt.Errorf("embed: %w", err))
			}
			return fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(batch) {
			return backoff.Permanent(fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(batch)))
		}

		out := make([]models.Document, len(batch))
		for i, d := range batch {
			d.Embedding = vecs[i]
			out[i] = d
		}
		if err := x.store.Upsert(ctx, collection, out); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = x.retryWait
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		x.logger.Warn("batch failed, retrying", "collection", collection, "size", len(batch), "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(x.retries)), ctx), notify)
}

// Search runs q. An empty collection yields an empty result.
func (x *Index) Search(ctx context.Context, q Query) ([]models.Document, error) {
	collection := q.Collection
	if collection == "" {
		collection = models.CollectionIssue
	}
	if !slices.Contains(models.Collections, collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	n, err := x.store.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", collection, err)
	}
	if n == 0 {
		return []models.Document{}, nil
	}

	var vec []float32
	if q.Text != "" {
		vec, err = x.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	return x.store.Search(ctx, collection, vec, q.Filters, limit)
}

// Counts returns the document count of every collection.
func (x *Index) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(models.Collections))
	for _, c := range models.Collections {
		n, err := x.store.Count(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c, err)
		}
		counts[c] = n
	}
	return counts, nil
}

// Ping checks the store.
func (x *Index) Ping(ctx context.Context) error {
	return x.store.Ping(ctx)
}

// Close releases the store.
func (x *Index) Close() error {
	return x.store.Close()
}
