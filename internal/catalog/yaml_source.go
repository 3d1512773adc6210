package catalog

import (
	"context"
	"fmt"

	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/money"
)

// YAMLSource serves a catalog fixed in configuration.
type YAMLSource struct {
	items map[string]config.CatalogItem
}

// NewYAMLSource creates a source from config items keyed by storage key.
func NewYAMLSource(items map[string]config.CatalogItem) *YAMLSource {
	return &YAMLSource{items: items}
}

// Name implements Source.
func (s *YAMLSource) Name() string { return "yaml" }

// Load implements Source.
func (s *YAMLSource) Load(context.Context) ([]Item, error) {
	items := make([]Item, 0, len(s.items))
	for key, it := range s.items {
		if it.Price < 0 {
			return nil, fmt.Errorf("catalog item %s: %w", key, money.ErrNegativeAmount)
		}
		title := it.Title
		if title == "" {
			title = key
		}
		ft, _ := contentTypeFor(key)
		items = append(items, Item{
			Key:         key,
			Title:       title,
			Description: it.Description,
			Price:       money.FromFloat(it.Price),
			Pages:       it.Pages,
			Topics:      it.Topics,
			FileType:    ft,
		})
	}
	return items, nil
}
