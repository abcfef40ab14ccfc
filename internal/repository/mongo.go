package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoOptions are the connection settings for the slot collection.
type MongoOptions struct {
	URI      string
	Database string
	PoolSize uint64
	Timeout  time.Duration
}

func (o MongoOptions) clientOptions() *options.ClientOptions {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return options.Client().
		ApplyURI(o.URI).
		SetAppName("storefront").
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetMaxPoolSize(o.PoolSize)
}

// OpenMongoRepository connects, pings the primary and ensures the slot indexes.
func OpenMongoRepository(ctx context.Context, o MongoOptions) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, o.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("connect mongo slot store: %w", err)
	}

	repo := NewMongoRepository(client.Database(o.Database))
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("ping mongo slot store: %w", err)
	}
	if err := repo.CreateIndexes(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

type slotDocument struct {
	Slot      string            `bson:"slot"`
	Items     []domain.LineItem `bson:"items"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// MongoRepository keeps one document per slot in the cart_slots collection.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("cart_slots")}
}

func (m *MongoRepository) Load(ctx context.Context, slot string) ([]domain.LineItem, error) {
	var doc slotDocument
	err := m.collection.FindOne(ctx, bson.M{"slot": slot}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to get slot %s: %w", slot, err)
	}
	return doc.Items, nil
}

func (m *MongoRepository) Save(ctx context.Context, slot string, items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}
	update := bson.M{"$set": slotDocument{Slot: slot, Items: items, UpdatedAt: time.Now()}}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, bson.M{"slot": slot}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert slot %s: %w", slot, err)
	}
	return nil
}

func (m *MongoRepository) Delete(ctx context.Context, slot string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"slot": slot}); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", slot, err)
	}
	return nil
}

// CreateIndexes makes slot unique and expires slots untouched for 90 days.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "slot", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}
