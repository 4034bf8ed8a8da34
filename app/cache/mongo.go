package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	CollectionCacheManifests = "cache_manifests"
	CollectionCacheChunks    = "cache_chunks"
)

// MongoTier is a durable remote tier backed by MongoDB, used instead of the
// SQLite tier when a Mongo URI is configured
type MongoTier struct {
	client    *mongo.Client
	manifests *mongo.Collection
	chunks    *mongo.Collection
}

type chunkDocument struct {
	BundleID string `bson:"bundle_id"`
	Index    int    `bson:"index"`
	Payload  []byte `bson:"payload"`
	Size     int    `bson:"size"`
}

type manifestDocument struct {
	Manifest `bson:",inline"`
	ID       string `bson:"_id"`
}

// NewMongoTier connects to uri and prepares the cache collections of database
func NewMongoTier(ctx context.Context, uri, database string) (*MongoTier, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	tier := &MongoTier{
		client:    client,
		manifests: db.Collection(CollectionCacheManifests),
		chunks:    db.Collection(CollectionCacheChunks),
	}

	_, err = tier.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bundle_id", Value: 1}, {Key: "index", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk index: %w", err)
	}

	slog.Info("Connected to MongoDB", "database", database)

	return tier, nil
}

func (m *MongoTier) Name() string {
	return "remote"
}

func (m *MongoTier) Get(ctx context.Context, bundleID string) (*Entry, error) {
	var doc manifestDocument
	err := m.manifests.FindOne(ctx, bson.M{"_id": bundleID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache manifest: %w", err)
	}

	cursor, err := m.chunks.Find(ctx, bson.M{"bundle_id": bundleID}, options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cache chunks: %w", err)
	}

	var docs []chunkDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode cache chunks: %w", err)
	}
	if len(docs) != doc.ChunkCount {
		return nil, fmt.Errorf("cache for bundle %s is incomplete: %d of %d chunks", bundleID, len(docs), doc.ChunkCount)
	}

	payloads := make([][]byte, len(docs))
	for i, d := range docs {
		payloads[i] = d.Payload
	}

	stories, err := Unpack(payloads)
	if err != nil {
		return nil, err
	}

	return &Entry{Manifest: doc.Manifest, Stories: stories}, nil
}

// Put replaces the manifest and chunks of a bundle in one transaction
func (m *MongoTier) Put(ctx context.Context, entry *Entry) error {
	payloads, err := Pack(entry.Stories, MaxChunkItems, MaxChunkBytes)
	if err != nil {
		return err
	}

	manifest := entry.Manifest
	manifest.ChunkCount = len(payloads)
	bundleID := manifest.BundleID

	docs := make([]any, len(payloads))
	for i, p := range payloads {
		docs[i] = chunkDocument{BundleID: bundleID, Index: i, Payload: p, Size: len(p)}
	}

	return m.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if _, err := m.chunks.DeleteMany(sessCtx, bson.M{"bundle_id": bundleID}); err != nil {
			return fmt.Errorf("failed to delete old cache chunks: %w", err)
		}

		_, err := m.manifests.ReplaceOne(sessCtx, bson.M{"_id": bundleID},
			manifestDocument{Manifest: manifest, ID: bundleID}, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to write cache manifest: %w", err)
		}

		if len(docs) > 0 {
			if _, err := m.chunks.InsertMany(sessCtx, docs); err != nil {
				return fmt.Errorf("failed to write cache chunks: %w", err)
			}
		}
		return nil
	})
}

func (m *MongoTier) Clear(ctx context.Context, bundleID string) error {
	return m.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if _, err := m.chunks.DeleteMany(sessCtx, bson.M{"bundle_id": bundleID}); err != nil {
			return fmt.Errorf("failed to delete cache chunks: %w", err)
		}
		if _, err := m.manifests.DeleteOne(sessCtx, bson.M{"_id": bundleID}); err != nil {
			return fmt.Errorf("failed to delete cache manifest: %w", err)
		}
		return nil
	})
}

func (m *MongoTier) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoTier) withTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	})
	return err
}
