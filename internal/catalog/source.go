package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/dbpool"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/rs/zerolog"
)

// Deps carries the collaborators a source may need.
type Deps struct {
	Objects ObjectLister
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// NewSourceFromConfig builds the configured source. The returned closer
// releases any connection the source opened and is never nil.
func NewSourceFromConfig(ctx context.Context, cfg config.CatalogConfig, deps Deps) (Source, io.Closer, error) {
	switch cfg.Source {
	case "", "storage":
		if deps.Objects == nil {
			return nil, nil, errors.New("catalog source storage requires object storage")
		}
		return NewStorageSource(deps.Objects, deps.Log), nopCloser{}, nil
	case "yaml":
		return NewYAMLSource(cfg.Items), nopCloser{}, nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, errors.New("catalog.postgres_url required when source is postgres")
		}
		pool, err := dbpool.Open(ctx, cfg.PostgresURL, cfg.PostgresPool, 0)
		if err != nil {
			return nil, nil, err
		}
		src, err := NewPostgresSource(pool.DB(), cfg.PostgresTable, deps.Metrics)
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		if err := src.EnsureSchema(ctx); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		return src, pool, nil
	case "mongodb":
		if cfg.MongoDBURL == "" || cfg.MongoDBDatabase == "" {
			return nil, nil, errors.New("catalog.mongodb_url and catalog.mongodb_database required when source is mongodb")
		}
		src, err := ConnectMongoSource(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.MongoDBCollection, deps.Metrics)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("invalid catalog source %q: must be storage, yaml, postgres or mongodb", cfg.Source)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func contentTypeFor(key string) (string, bool) {
	return storage.ContentTypeFor(key)
}
