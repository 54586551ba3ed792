// Package inboxmongo implements inbox.Repository against MongoDB. Record
// relies on a unique index on (messageId, source) plus mongo.IsDuplicateKeyError:
// attempt the insert, and on a duplicate-key error re-select the existing
// row, mirroring inboxpg's ON CONFLICT DO NOTHING + reselect idiom.
package inboxmongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/inbox"
	"github.com/codeforprod/eventforge/internal/tsid"
)

type doc struct {
	ID           string     `bson:"_id"`
	MessageID    string     `bson:"messageId"`
	Source       string     `bson:"source"`
	EventType    string     `bson:"eventType"`
	Payload      []byte     `bson:"payload"`
	Status       string     `bson:"status"`
	RetryCount   int        `bson:"retryCount"`
	MaxRetries   int        `bson:"maxRetries"`
	ScheduledAt  *time.Time `bson:"scheduledAt,omitempty"`
	ProcessedAt  *time.Time `bson:"processedAt,omitempty"`
	ErrorMessage string     `bson:"errorMessage,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
}

func (d *doc) toMessage() *inbox.Message {
	m := &inbox.Message{
		ID:           d.ID,
		MessageID:    d.MessageID,
		Source:       d.Source,
		EventType:    d.EventType,
		Payload:      d.Payload,
		Status:       inbox.Status(d.Status),
		RetryCount:   d.RetryCount,
		MaxRetries:   d.MaxRetries,
		ErrorMessage: d.ErrorMessage,
		ProcessedAt:  d.ProcessedAt,
		CreatedAt:    d.CreatedAt,
	}
	if d.ScheduledAt != nil {
		m.ScheduledAt = *d.ScheduledAt
	}
	return m
}

// Repository implements inbox.Repository against a single MongoDB collection.
// The collection MUST carry a unique index on {messageId:1, source:1};
// internal/common/mongo/indexes.go provisions it.
type Repository struct {
	coll *mongo.Collection
}

var _ inbox.Repository = (*Repository)(nil)

// New builds a Repository backed by collection.
func New(db *mongo.Database, collection string) *Repository {
	if collection == "" {
		collection = "inbox_messages"
	}
	return &Repository{coll: db.Collection(collection)}
}

// Record inserts dto, or re-selects the existing row on a duplicate key.
func (r *Repository) Record(ctx context.Context, dto inbox.ReceiveDTO) (inbox.RecordResult, error) {
	now := time.Now().UTC()
	d := &doc{
		ID:         tsid.Generate(),
		MessageID:  dto.MessageID,
		Source:     dto.Source,
		EventType:  dto.EventType,
		Payload:    dto.Payload,
		Status:     string(inbox.StatusReceived),
		MaxRetries: dto.MaxRetries,
		CreatedAt:  now,
	}

	_, err := r.coll.InsertOne(ctx, d)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.reselect(ctx, dto.MessageID, dto.Source)
		}
		return inbox.RecordResult{}, fmt.Errorf("inboxmongo: record: %w", err)
	}

	return inbox.RecordResult{Message: d.toMessage(), IsDuplicate: false}, nil
}

func (r *Repository) reselect(ctx context.Context, messageID, source string) (inbox.RecordResult, error) {
	var d doc
	err := r.coll.FindOne(ctx, bson.M{"messageId": messageID, "source": source}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return inbox.RecordResult{}, fmt.Errorf("inboxmongo: record race with no visible row: %w", errs.ErrNotFound)
		}
		return inbox.RecordResult{}, fmt.Errorf("inboxmongo: reselect: %w", err)
	}
	return inbox.RecordResult{Message: d.toMessage(), IsDuplicate: true}, nil
}

// Exists reports whether (messageID, source) has already been recorded.
func (r *Repository) Exists(ctx context.Context, messageID, source string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"messageId": messageID, "source": source}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("inboxmongo: exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessing transitions id to processing.
func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	update := bson.M{"$set": bson.M{"status": string(inbox.StatusProcessing)}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("inboxmongo: mark processing: %w", err)
	}
	return checkMatched(res, id)
}

// MarkProcessed transitions id to processed.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"status": string(inbox.StatusProcessed), "processedAt": now}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("inboxmongo: mark processed: %w", err)
	}
	return checkMatched(res, id)
}

// MarkFailed mirrors outboxmongo's MarkFailed: retryCount is incremented via
// $inc in the same update document that writes the new status.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	var existing doc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&existing); err != nil {
		if err == mongo.ErrNoDocuments {
			return fmt.Errorf("inboxmongo: message %s: %w", id, errs.ErrNotFound)
		}
		return fmt.Errorf("inboxmongo: mark failed lookup: %w", err)
	}

	status := inbox.StatusFailed
	if permanent || existing.RetryCount+1 > existing.MaxRetries {
		status = inbox.StatusPermanentlyFailed
	}

	set := bson.M{"status": string(status), "errorMessage": errMsg}
	if !scheduledAt.IsZero() {
		set["scheduledAt"] = scheduledAt
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"retryCount": 1},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("inboxmongo: mark failed: %w", err)
	}
	return checkMatched(res, id)
}

// FindRetryable returns up to limit failed, due, under-cap rows.
func (r *Repository) FindRetryable(ctx context.Context, limit int) ([]*inbox.Message, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status": string(inbox.StatusFailed),
		"$expr":  bson.M{"$lt": []string{"$retryCount", "$maxRetries"}},
		"$or": []bson.M{
			{"scheduledAt": bson.M{"$exists": false}},
			{"scheduledAt": nil},
			{"scheduledAt": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("inboxmongo: find retryable: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*inbox.Message
	for cursor.Next(ctx) {
		var d doc
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("inboxmongo: decode retryable: %w", err)
		}
		out = append(out, d.toMessage())
	}
	return out, cursor.Err()
}

// DeleteOlderThan removes processed rows created before cutoff. Permanently
// failed rows are never cleaned up here; they stay visible for operators.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":    string(inbox.StatusProcessed),
		"createdAt": bson.M{"$lt": cutoff},
	}
	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("inboxmongo: delete older than: %w", err)
	}
	return int(res.DeletedCount), nil
}

func checkMatched(res *mongo.UpdateResult, id string) error {
	if res.MatchedCount == 0 {
		return fmt.Errorf("inboxmongo: message %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
