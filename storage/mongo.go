package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/feedharvest/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// resultDoc is one stored result set. Payload keeps the JSON exactly as the
// other backends write it.
type resultDoc struct {
	Key       string    `bson:"key"`
	Count     int       `bson:"count"`
	Payload   string    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

// mongoCollection is the part of *mongo.Collection the store uses.
type mongoCollection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Name() string
}

// MongoStore keeps result sets as documents keyed by result key.
type MongoStore struct {
	client *mongo.Client
	db     string
	coll   mongoCollection
	now    func() time.Time
}

// NewMongoStore connects, pings and ensures the unique key index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage: connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		slog.Warn("failed to create result key index", "error", err)
	}

	return &MongoStore{client: client, db: database, coll: coll, now: time.Now}, nil
}

func (s *MongoStore) Save(ctx context.Context, items []models.VideoItem, key string) error {
	data, err := encode(items, key)
	if err != nil {
		return err
	}
	doc := resultDoc{Key: key, Count: len(items), Payload: string(data), CreatedAt: s.now().UTC()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"key": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return models.NewScrapeError(models.ErrCodeStorage, fmt.Sprintf("failed to store %s", key), err)
	}
	slog.Info("result set stored", "collection", s.coll.Name(), "key", key, "items", len(items))
	return nil
}

func (s *MongoStore) Load(ctx context.Context, key string) ([]models.VideoItem, error) {
	var doc resultDoc
	err := s.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStorage, fmt.Sprintf("failed to load %s", key), err)
	}
	return decode([]byte(doc.Payload), key)
}

func (s *MongoStore) Location(key string) string {
	return fmt.Sprintf("mongo:%s.%s/%s", s.db, s.coll.Name(), key)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
