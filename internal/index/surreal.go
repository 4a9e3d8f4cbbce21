package index

import (
	"context"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/db"
	"github.com/raphaelgruber/insightdeck/internal/models"
)

// SurrealStore adapts a SurrealDB client to Store.
type SurrealStore struct {
	client *db.Client
}

// NewSurrealStore connects to SurrealDB and ensures the schema for dim-sized vectors.
func NewSurrealStore(ctx context.Context, client *db.Client, dim int) (*SurrealStore, error) {
	if err := client.InitSchema(ctx, dim); err != nil {
		return nil, err
	}
	return &SurrealStore{client: client}, nil
}

func (s *SurrealStore) Upsert(ctx context.Context, collection string, docs []models.Document) error {
	return s.client.UpsertDocuments(ctx, collection, docs)
}

func (s *SurrealStore) Search(ctx context.Context, collection string, vec []float32, filters models.Filters, limit int) ([]models.Document, error) {
	return s.client.SearchDocuments(ctx, collection, vec, filters, limit)
}

func (s *SurrealStore) Count(ctx context.Context, collection string) (int, error) {
	return s.client.CountDocuments(ctx, collection)
}

func (s *SurrealStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *SurrealStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}
