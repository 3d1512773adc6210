package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mathsnotes/server/internal/catalog"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/storage"
)

// upserter is a database catalog that can be seeded.
type upserter interface {
	Upsert(ctx context.Context, it catalog.Item) error
}

// catalog-sync copies the prices and titles stored as object metadata in the
// bucket into the configured database catalog (postgres or mongodb).
func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	dryRun := flag.Bool("dry-run", false, "list what would be written without writing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Catalog.Source != "postgres" && cfg.Catalog.Source != "mongodb" {
		log.Fatalf("catalog.source is %q; catalog-sync writes to postgres or mongodb", cfg.Catalog.Source)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	appLogger := logger.New(logger.Config{Level: "info", Format: "console", Service: "catalog-sync"})

	client, err := storage.NewClient(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage client: %v", err)
	}
	bucket := storage.NewR2Store(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, nil, nil)
	items, err := catalog.NewStorageSource(bucket, appLogger).Load(ctx)
	if err != nil {
		log.Fatalf("list bucket: %v", err)
	}

	target, closer, err := catalog.NewSourceFromConfig(ctx, cfg.Catalog, catalog.Deps{Log: appLogger})
	if err != nil {
		log.Fatalf("open %s catalog: %v", cfg.Catalog.Source, err)
	}
	defer closer.Close()

	dest, ok := target.(upserter)
	if !ok {
		log.Fatalf("%s catalog cannot be written", target.Name())
	}

	for _, it := range items {
		if *dryRun {
			fmt.Printf("would write %s (%s) %s\n", it.Key, it.Title, it.Price.Display())
			continue
		}
		if err := dest.Upsert(ctx, it); err != nil {
			log.Fatalf("write %s: %v", it.Key, err)
		}
		fmt.Printf("✓ %s %s\n", it.Key, it.Price.Display())
	}
	fmt.Printf("%d items synced to %s\n", len(items), target.Name())
}
