package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	cartsCollection = "carts"

	// A cart request does at most one read and one write, so a small pool
	// covers the HTTP handlers, the poller and reconciliation writes.
	mongoMaxPoolSize = 20
	mongoDialTimeout = 5 * time.Second
)

type cartDocument struct {
	Key       string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStorage stores one document per cart key. Documents not written for
// ttl are removed by MongoDB once CreateIndexes has run.
type MongoStorage struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// NewMongoStorage uses the carts collection of db. A zero ttl keeps carts
// forever.
func NewMongoStorage(db *mongo.Database, ttl time.Duration) *MongoStorage {
	return &MongoStorage{
		collection: db.Collection(cartsCollection),
		ttl:        ttl,
	}
}

// ConnectMongoDB dials uri and checks the primary is reachable before handing
// back dbName. The caller owns the client and disconnects it on shutdown.
func ConnectMongoDB(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("storefront-cart").
		SetConnectTimeout(mongoDialTimeout).
		SetServerSelectionTimeout(mongoDialTimeout).
		SetMaxPoolSize(mongoMaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client.Database(dbName), nil
}

func (m *MongoStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.Payload, nil
}

func (m *MongoStorage) Set(ctx context.Context, key string, value []byte) error {
	filter := bson.M{"_id": key}
	update := bson.M{"$set": bson.M{
		"payload":    value,
		"updated_at": time.Now(),
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *MongoStorage) Delete(ctx context.Context, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// CreateIndexes installs the expiry index on updated_at. Without a ttl there is
// nothing to expire and no index is created.
func (m *MongoStorage) CreateIndexes(ctx context.Context) error {
	if m.ttl <= 0 {
		return nil
	}

	expiry := mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().
			SetName("cart_expiry").
			SetExpireAfterSeconds(int32(max(m.ttl/time.Second, 1))),
	}
	if _, err := m.collection.Indexes().CreateOne(ctx, expiry); err != nil {
		return fmt.Errorf("create cart expiry index: %w", err)
	}
	return nil
}
