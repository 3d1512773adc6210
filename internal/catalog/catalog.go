package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mathsnotes/server/internal/cacheutil"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
	"github.com/rs/zerolog"
)

// ErrItemNotFound is returned by Lookup for keys absent from the catalog.
var ErrItemNotFound = errors.New("catalog: item not found")

// Item is a purchasable resource. Key is the object storage key of the file.
type Item struct {
	Key          string
	Title        string
	Description  string
	Price        money.Cents
	Pages        string
	Topics       string
	FileType     string
	Size         int64
	LastModified time.Time
}

// Source loads the full catalog from a backing store.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Item, error)
}

type snapshot struct {
	items []Item
	byKey map[string]Item
}

// Catalog serves items from a Source through a TTL cache.
type Catalog struct {
	source  Source
	cache   *cacheutil.Snapshot[snapshot]
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New wraps source with a cache of ttl (0 disables caching).
func New(source Source, ttl time.Duration, m *metrics.Metrics, log zerolog.Logger) *Catalog {
	c := &Catalog{source: source, metrics: m, log: log}
	c.cache = cacheutil.NewSnapshot(ttl, c.load, nil)
	return c
}

func (c *Catalog) load(ctx context.Context) (snapshot, error) {
	items, err := c.source.Load(ctx)
	c.metrics.ObserveCatalogLoad(c.source.Name(), err)
	if err != nil {
		return snapshot{}, fmt.Errorf("load catalog from %s: %w", c.source.Name(), err)
	}

	byKey := make(map[string]Item, len(items))
	for _, it := range items {
		if _, dup := byKey[it.Key]; dup {
			c.log.Warn().Str("key", it.Key).Str("source", c.source.Name()).Msg("catalog.duplicate_key")
		}
		byKey[it.Key] = it
	}
	sorted := make([]Item, 0, len(byKey))
	for _, it := range byKey {
		sorted = append(sorted, it)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	c.log.Debug().Int("items", len(sorted)).Str("source", c.source.Name()).Msg("catalog.loaded")
	return snapshot{items: sorted, byKey: byKey}, nil
}

// Items returns every item ordered by key.
func (c *Catalog) Items(ctx context.Context) ([]Item, error) {
	snap, err := c.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(snap.items))
	copy(out, snap.items)
	return out, nil
}

// Prices returns key → stored price for every item.
func (c *Catalog) Prices(ctx context.Context) (map[string]money.Cents, error) {
	snap, err := c.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]money.Cents, len(snap.byKey))
	for k, it := range snap.byKey {
		prices[k] = it.Price
	}
	return prices, nil
}

// Lookup returns one item.
func (c *Catalog) Lookup(ctx context.Context, key string) (Item, error) {
	snap, err := c.cache.Get(ctx)
	if err != nil {
		return Item{}, err
	}
	it, ok := snap.byKey[key]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

// Invalidate forces the next read to reload from the source.
func (c *Catalog) Invalidate() {
	c.cache.Invalidate()
}

// SourceName names the backing source.
func (c *Catalog) SourceName() string {
	return c.source.Name()
}
