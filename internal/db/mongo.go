package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	Values   *mongo.Collection
}

type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "kv_store"
	}

	db := client.Database(cfg.Database)
	return &Mongo{
		Client:   client,
		Database: db,
		Values:   db.Collection(collection),
	}, nil
}

func (m *Mongo) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var entry mongoEntry
	err := m.Values.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo: load %s: %w", key, err)
	}
	return []byte(entry.Value), true, nil
}

func (m *Mongo) Save(ctx context.Context, key string, value []byte) error {
	entry := mongoEntry{Key: key, Value: string(value), UpdatedAt: time.Now().UTC()}
	_, err := m.Values.ReplaceOne(ctx, bson.M{"_id": key}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) Close() error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
