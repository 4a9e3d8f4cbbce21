package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/db"
)

// OpenStore opens the store selected by cfg.IndexMode.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.IndexMode {
	case config.IndexRemote:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect surrealdb: %w", err)
		}
		store, err := NewSurrealStore(ctx, client, cfg.EmbedDimension)
		if err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return store, nil
	case config.IndexEmbedded, "":
		path := cfg.IndexPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported index mode: %s", cfg.IndexMode)
	}
}
