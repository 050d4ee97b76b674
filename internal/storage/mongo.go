package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// MongoStore writes product rows to a MongoDB collection with a unique
// index on article.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	count      atomic.Int64
	logger     *slog.Logger
}

// NewMongoStore connects, pings and ensures the article index.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "article", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("article_unique"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb create index: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_store"),
	}
	s.logger.Info("mongodb store ready", "database", database, "collection", collection)
	return s, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) ExistsByKey(ctx context.Context, article string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"article": article}, options.Count().SetLimit(1))
	if err != nil {
		return false, storageErr("mongodb", "count", err)
	}
	return n > 0, nil
}

func (s *MongoStore) InsertRow(ctx context.Context, row types.ProductRow) error {
	_, err := s.collection.InsertOne(ctx, row)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateErr("mongodb", row.Article)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return storageErr("mongodb", "insert", fmt.Errorf("%w: %w", types.ErrTimeout, err))
		}
		return storageErr("mongodb", "insert", err)
	}
	s.count.Add(1)
	return nil
}

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb store closing", "inserted", s.count.Load())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
