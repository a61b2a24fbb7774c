package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMongoCollection = "cnw_license_meta"

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithCollectionName sets the MongoDB collection name. Default: "cnw_license_meta".
func WithCollectionName(name string) MongoOption {
	return func(s *MongoStore) {
		s.collectionName = name
	}
}

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	collection     *mongo.Collection
	collectionName string
}

type mongoMeta struct {
	LicenseID int64             `bson:"license_id"`
	MetaKey   string            `bson:"meta_key"`
	Meta      map[string]string `bson:"meta"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed metadata store.
// It creates the necessary indexes on initialization.
func NewMongoStore(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoStore, error) {
	s := &MongoStore{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := checkIdentifier(s.collectionName); err != nil {
		return nil, fmt.Errorf("collection name: %w", err)
	}
	if db == nil {
		return nil, errors.New("mongo database is required")
	}
	s.collection = db.Collection(s.collectionName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "license_id", Value: 1},
			{Key: "meta_key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) Get(ctx context.Context, licenseID int64, key string) (Metadata, error) {
	var doc mongoMeta
	err := s.collection.FindOne(ctx, bson.M{"license_id": licenseID, "meta_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return Metadata(doc.Meta).Clone(), nil
}

func (s *MongoStore) Update(ctx context.Context, licenseID int64, key string, meta Metadata) error {
	filter := bson.M{"license_id": licenseID, "meta_key": key}
	update := bson.M{
		"$set": bson.M{
			"meta":       map[string]string(meta.Clone()),
			"updated_at": time.Now(),
		},
	}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(_ context.Context) error {
	return nil // caller manages the mongo.Database lifecycle
}
