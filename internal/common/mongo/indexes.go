package mongo

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// outbox_messages: the claim query filters on status and sorts by
		// createdAt; this index keys PENDING rows on (status, aggregateId,
		// createdAt), and being partial keeps it small since most rows move
		// to a terminal status quickly.
		{
			Collection: "outbox_messages",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "aggregateId", Value: 1}, {Key: "createdAt", Value: 1}},
			Options:    options.Index().SetPartialFilterExpression(bson.M{"status": "pending"}),
		},
		// scheduledAt supports the retry-due lookup for failed rows.
		{
			Collection: "outbox_messages",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}},
			Options:    options.Index().SetPartialFilterExpression(bson.M{"status": "failed"}),
		},
		// ReleaseStaleLocks scans PROCESSING rows by lockedAt.
		{
			Collection: "outbox_messages",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "lockedAt", Value: 1}},
			Options:    options.Index().SetPartialFilterExpression(bson.M{"status": "processing"}),
		},
		// DeleteOlderThan's retention sweep.
		{
			Collection: "outbox_messages",
			Keys:       bson.D{{Key: "createdAt", Value: 1}},
		},

		// inbox_messages: (messageId, source) is the dedup key enforced at
		// the storage layer, not just in application logic.
		{
			Collection: "inbox_messages",
			Keys:       bson.D{{Key: "messageId", Value: 1}, {Key: "source", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		// FindRetryable scans FAILED rows due for a retry pass.
		{
			Collection: "inbox_messages",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}},
			Options:    options.Index().SetPartialFilterExpression(bson.M{"status": "failed"}),
		},
		{
			Collection: "inbox_messages",
			Keys:       bson.D{{Key: "eventType", Value: 1}},
		},
		{
			Collection: "inbox_messages",
			Keys:       bson.D{{Key: "createdAt", Value: 1}},
		},
	}
}
