package catalog

import (
	"context"
	"strings"

	"github.com/mathsnotes/server/internal/money"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/rs/zerolog"
)

// ObjectLister lists stored documents with their metadata.
type ObjectLister interface {
	List(ctx context.Context) ([]storage.Object, error)
}

// StorageSource reads the catalog from object metadata written at upload.
// A missing price means free; an unparsable or negative price drops the item
// so it cannot be bought at a guessed price.
type StorageSource struct {
	objects ObjectLister
	log     zerolog.Logger
}

// NewStorageSource creates a source over objects.
func NewStorageSource(objects ObjectLister, log zerolog.Logger) *StorageSource {
	return &StorageSource{objects: objects, log: log}
}

// Name implements Source.
func (s *StorageSource) Name() string { return "storage" }

// Load implements Source.
func (s *StorageSource) Load(ctx context.Context) ([]Item, error) {
	objects, err := s.objects.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(objects))
	for _, obj := range objects {
		price, ok := s.parsePrice(obj)
		if !ok {
			continue
		}
		title := obj.Meta(storage.MetaTitle)
		if title == "" {
			title = obj.Name
		}
		items = append(items, Item{
			Key:          obj.Key,
			Title:        title,
			Description:  obj.Meta(storage.MetaDescription),
			Price:        price,
			Pages:        obj.Meta(storage.MetaPages),
			Topics:       obj.Meta(storage.MetaTopics),
			FileType:     obj.FileType(),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return items, nil
}

func (s *StorageSource) parsePrice(obj storage.Object) (money.Cents, bool) {
	raw := strings.TrimSpace(obj.Meta(storage.MetaPrice))
	if raw == "" {
		return 0, true
	}
	price, err := money.FromMajor(raw)
	if err != nil || price < 0 {
		s.log.Warn().
			Str("key", obj.Key).
			Str("price", raw).
			Msg("catalog.invalid_price_metadata")
		return 0, false
	}
	return price, true
}
