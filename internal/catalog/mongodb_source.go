package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource reads active documents from a catalog collection.
type MongoSource struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownsClient bool
	metrics    *metrics.Metrics
}

type mongoItem struct {
	Key         string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	PriceCents  int64     `bson:"priceCents"`
	Pages       string    `bson:"pages"`
	Topics      string    `bson:"topics"`
	FileType    string    `bson:"fileType"`
	Active      bool      `bson:"active"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// ConnectMongoSource dials MongoDB and indexes the collection.
func ConnectMongoSource(ctx context.Context, uri, database, collection string, m *metrics.Metrics) (*MongoSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = "catalog_items"
	}
	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "active", Value: 1}}}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &MongoSource{client: client, collection: coll, ownsClient: true, metrics: m}, nil
}

// NewMongoSource uses an existing collection handle.
func NewMongoSource(coll *mongo.Collection, m *metrics.Metrics) *MongoSource {
	return &MongoSource{collection: coll, metrics: m}
}

// Name implements Source.
func (s *MongoSource) Name() string { return "mongodb" }

// Load implements Source.
func (s *MongoSource) Load(ctx context.Context) ([]Item, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_catalog", "mongodb")()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("find catalog items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []Item
	for cursor.Next(ctx) {
		var doc mongoItem
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode catalog item: %w", err)
		}
		if doc.PriceCents < 0 {
			return nil, fmt.Errorf("catalog item %s: %w", doc.Key, money.ErrNegativeAmount)
		}
		items = append(items, Item{
			Key:          doc.Key,
			Title:        doc.Title,
			Description:  doc.Description,
			Price:        money.Cents(doc.PriceCents),
			Pages:        doc.Pages,
			Topics:       doc.Topics,
			FileType:     doc.FileType,
			LastModified: doc.UpdatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", err)
	}
	return items, nil
}

// Upsert writes one item, mainly for seeding.
func (s *MongoSource) Upsert(ctx context.Context, it Item) error {
	doc := mongoItem{
		Key:         it.Key,
		Title:       it.Title,
		Description: it.Description,
		PriceCents:  int64(it.Price),
		Pages:       it.Pages,
		Topics:      it.Topics,
		FileType:    it.FileType,
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": it.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert catalog item %s: %w", it.Key, err)
	}
	return nil
}

// Close disconnects a client opened by ConnectMongoSource.
func (s *MongoSource) Close() error {
	if !s.ownsClient || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
