package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/money"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	items []Item
	err   error
	loads atomic.Int32
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Load(context.Context) ([]Item, error) {
	s.loads.Add(1)
	return s.items, s.err
}

type stubLister struct {
	objects []storage.Object
	err     error
}

func (s stubLister) List(context.Context) ([]storage.Object, error) { return s.objects, s.err }

func TestCatalogCachesAndInvalidates(t *testing.T) {
	src := &stubSource{items: []Item{
		{Key: "files/b.pdf", Title: "B", Price: 500},
		{Key: "files/a.pdf", Title: "A", Price: 999},
	}}
	c := New(src, time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "files/a.pdf", items[0].Key, "sorted by key")

	prices, err := c.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]money.Cents{"files/a.pdf": 999, "files/b.pdf": 500}, prices)
	assert.Equal(t, int32(1), src.loads.Load())

	c.Invalidate()
	_, err = c.Lookup(ctx, "files/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.loads.Load())

	_, err = c.Lookup(ctx, "files/zzz.pdf")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestCatalogPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("bucket unavailable")
	c := New(&stubSource{err: boom}, time.Minute, nil, zerolog.Nop())

	_, err := c.Prices(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStorageSourceReadsMetadata(t *testing.T) {
	modified := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	lister := stubLister{objects: []storage.Object{
		{
			Key: "files/01-algebra.pdf", Name: "01-algebra.pdf", Size: 100, LastModified: modified,
			ContentType: "application/pdf",
			Metadata: map[string]string{
				"title": "Algebra", "description": "Linear equations", "price": "12.50",
				"pages": "14", "topics": "algebra,equations",
			},
		},
		{Key: "files/free.pdf", Name: "free.pdf"},
		{Key: "files/bad.pdf", Name: "bad.pdf", Metadata: map[string]string{"price": "twelve"}},
		{Key: "files/neg.pdf", Name: "neg.pdf", Metadata: map[string]string{"price": "-1"}},
	}}

	items, err := NewStorageSource(lister, zerolog.Nop()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, Item{
		Key: "files/01-algebra.pdf", Title: "Algebra", Description: "Linear equations",
		Price: 1250, Pages: "14", Topics: "algebra,equations", FileType: "application/pdf",
		Size: 100, LastModified: modified,
	}, items[0])

	assert.Equal(t, "free.pdf", items[1].Title, "title falls back to file name")
	assert.Equal(t, money.Cents(0), items[1].Price, "missing price means free")
}

func TestYAMLSource(t *testing.T) {
	src := NewYAMLSource(map[string]config.CatalogItem{
		"files/calc.pdf":  {Title: "Calculus", Price: 19.99},
		"files/deck.pptx": {Price: 0},
	})
	items, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	byKey := map[string]Item{}
	for _, it := range items {
		byKey[it.Key] = it
	}
	assert.Equal(t, money.Cents(1999), byKey["files/calc.pdf"].Price)
	assert.Equal(t, "application/pdf", byKey["files/calc.pdf"].FileType)
	assert.Equal(t, "files/deck.pptx", byKey["files/deck.pptx"].Title)

	_, err = NewYAMLSource(map[string]config.CatalogItem{"x.pdf": {Price: -2}}).Load(context.Background())
	assert.ErrorIs(t, err, money.ErrNegativeAmount)
}

func TestNewSourceFromConfig(t *testing.T) {
	ctx := context.Background()

	src, closer, err := NewSourceFromConfig(ctx, config.CatalogConfig{Source: "yaml"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "yaml", src.Name())
	assert.NoError(t, closer.Close())

	_, _, err = NewSourceFromConfig(ctx, config.CatalogConfig{Source: "storage"}, Deps{})
	assert.Error(t, err)

	src, _, err = NewSourceFromConfig(ctx, config.CatalogConfig{}, Deps{Objects: stubLister{}})
	require.NoError(t, err)
	assert.Equal(t, "storage", src.Name())

	_, _, err = NewSourceFromConfig(ctx, config.CatalogConfig{Source: "csv"}, Deps{})
	assert.Error(t, err)

	_, _, err = NewSourceFromConfig(ctx, config.CatalogConfig{Source: "postgres"}, Deps{})
	assert.Error(t, err)
}

func TestNewPostgresSourceRejectsUnsafeTable(t *testing.T) {
	_, err := NewPostgresSource(nil, "items; DROP TABLE x", nil)
	assert.Error(t, err)

	src, err := NewPostgresSource(nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "catalog_items", src.tableName)
}

func TestPostgresSource(t *testing.T) {
	dsn := os.Getenv("NOTES_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("NOTES_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	table := "catalog_test_" + ulid.Make().String()
	src, err := NewPostgresSource(db, table, nil)
	require.NoError(t, err)
	require.NoError(t, src.EnsureSchema(ctx))
	t.Cleanup(func() { _, _ = db.Exec(`DROP TABLE "` + table + `"`) })

	_, err = db.ExecContext(ctx, `INSERT INTO "`+table+`" (key, title, price_cents) VALUES ($1, $2, $3), ($4, $5, $6)`,
		"files/a.pdf", "A", 1250, "files/b.pdf", "B", 0)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "`+table+`" (key, title, price_cents, active) VALUES ($1, $2, $3, FALSE)`,
		"files/retired.pdf", "Retired", 100)
	require.NoError(t, err)

	items, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, money.Cents(1250), items[0].Price)
	assert.Equal(t, "files/b.pdf", items[1].Key)

	require.NoError(t, src.Upsert(ctx, Item{Key: "files/retired.pdf", Title: "Back", Price: 300}))
	require.NoError(t, src.Upsert(ctx, Item{Key: "files/a.pdf", Title: "A v2", Price: 1500}))
	items, err = src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "A v2", items[0].Title)
	assert.Equal(t, money.Cents(1500), items[0].Price)
	assert.Equal(t, "Back", items[2].Title)
}

func TestMongoSource(t *testing.T) {
	uri := os.Getenv("NOTES_TEST_MONGODB_URL")
	if uri == "" {
		t.Skip("NOTES_TEST_MONGODB_URL not set")
	}
	ctx := context.Background()
	src, err := ConnectMongoSource(ctx, uri, "notes_test", "catalog_"+ulid.Make().String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = src.collection.Drop(context.Background())
		_ = src.Close()
	})

	require.NoError(t, src.Upsert(ctx, Item{Key: "files/a.pdf", Title: "A", Price: 700}))
	require.NoError(t, src.Upsert(ctx, Item{Key: "files/a.pdf", Title: "A v2", Price: 800}))

	items, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A v2", items[0].Title)
	assert.Equal(t, money.Cents(800), items[0].Price)
}
