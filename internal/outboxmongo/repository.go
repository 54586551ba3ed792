// Package outboxmongo implements outbox.Repository against MongoDB. Mongo has
// no multi-document atomic dequeue, so FetchAndLockPending claims one
// candidate at a time via FindOneAndUpdate (each call is individually atomic,
// which is sufficient to satisfy the no-double-claim invariant), looped up to
// limit. The status-guarded FindOneAndUpdate idiom is the same one
// internal/common/leader/election.go uses around its lock document.
package outboxmongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoclient "github.com/codeforprod/eventforge/internal/common/mongo"
	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
	"github.com/codeforprod/eventforge/internal/tsid"
)

// doc is the BSON shape of an outbox row.
type doc struct {
	ID            string         `bson:"_id"`
	AggregateType string         `bson:"aggregateType"`
	AggregateID   string         `bson:"aggregateId"`
	EventType     string         `bson:"eventType"`
	Payload       []byte         `bson:"payload"`
	Metadata      map[string]any `bson:"metadata,omitempty"`
	Status        string         `bson:"status"`
	RetryCount    int            `bson:"retryCount"`
	MaxRetries    int            `bson:"maxRetries"`
	ErrorMessage  string         `bson:"errorMessage,omitempty"`
	ScheduledAt   time.Time      `bson:"scheduledAt"`
	LockedBy      string         `bson:"lockedBy,omitempty"`
	LockedAt      *time.Time     `bson:"lockedAt,omitempty"`
	CreatedAt     time.Time      `bson:"createdAt"`
	UpdatedAt     time.Time      `bson:"updatedAt"`
}

func (d *doc) toMessage() *outbox.Message {
	return &outbox.Message{
		ID:            d.ID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
		Metadata:      d.Metadata,
		Status:        outbox.Status(d.Status),
		RetryCount:    d.RetryCount,
		MaxRetries:    d.MaxRetries,
		ErrorMessage:  d.ErrorMessage,
		ScheduledAt:   d.ScheduledAt,
		LockedBy:      d.LockedBy,
		LockedAt:      d.LockedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Repository implements outbox.Repository against a single MongoDB collection.
type Repository struct {
	coll *mongo.Collection
}

var _ outbox.Repository = (*Repository)(nil)

// New builds a Repository backed by collection.
func New(db *mongo.Database, collection string) *Repository {
	if collection == "" {
		collection = "outbox_messages"
	}
	return &Repository{coll: db.Collection(collection)}
}

// Create inserts a new pending row. tx, if non-nil, must be a
// mongo.SessionContext so the insert joins the caller's transaction.
func (r *Repository) Create(ctx context.Context, dto outbox.CreateDTO, tx outbox.Tx) (*outbox.Message, error) {
	now := time.Now().UTC()
	d := &doc{
		ID:            tsid.Generate(),
		AggregateType: dto.AggregateType,
		AggregateID:   dto.AggregateID,
		EventType:     dto.EventType,
		Payload:       dto.Payload,
		Metadata:      dto.Metadata,
		Status:        string(outbox.StatusPending),
		MaxRetries:    dto.MaxRetries,
		ScheduledAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	insertCtx := r.sessionCtx(ctx, tx)
	if _, err := r.coll.InsertOne(insertCtx, d); err != nil {
		return nil, fmt.Errorf("outboxmongo: create: %w", err)
	}
	return d.toMessage(), nil
}

// FetchAndLockPending claims up to limit eligible rows one FindOneAndUpdate
// at a time, ordered oldest-created-first within each claim. Each
// FindOneAndUpdate call only succeeds against a row still matching the
// eligibility filter at the moment it runs, so two concurrent pollers can
// never walk away with the same row.
func (r *Repository) FetchAndLockPending(ctx context.Context, limit int, workerID string) ([]*outbox.Message, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"$or": []bson.M{
			{"status": string(outbox.StatusPending)},
			{"status": string(outbox.StatusFailed), "scheduledAt": bson.M{"$lte": now}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"status":    string(outbox.StatusProcessing),
			"lockedBy":  workerID,
			"lockedAt":  now,
			"updatedAt": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var out []*outbox.Message
	for i := 0; i < limit; i++ {
		var d doc
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				break
			}
			return nil, fmt.Errorf("outboxmongo: fetch and lock pending: %w", err)
		}
		out = append(out, d.toMessage())
	}
	return out, nil
}

// MarkPublished transitions id to published and clears the lock.
func (r *Repository) MarkPublished(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"status":    string(outbox.StatusPublished),
			"updatedAt": time.Now().UTC(),
		},
		"$unset": bson.M{"lockedBy": "", "lockedAt": ""},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("outboxmongo: mark published: %w", err)
	}
	return checkMatched(res, id)
}

// MarkFailed records a publish failure, incrementing retryCount atomically
// with the status write via $inc in the same update document.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg string, permanent bool, scheduledAt time.Time) error {
	existing, err := r.findByID(ctx, id)
	if err != nil {
		return err
	}

	status := outbox.StatusFailed
	if permanent || existing.RetryCount+1 > existing.MaxRetries {
		status = outbox.StatusPermanentlyFailed
	}

	set := bson.M{
		"status":       string(status),
		"errorMessage": errMsg,
		"updatedAt":    time.Now().UTC(),
	}
	if !scheduledAt.IsZero() {
		set["scheduledAt"] = scheduledAt
	}

	update := bson.M{
		"$set":   set,
		"$inc":   bson.M{"retryCount": 1},
		"$unset": bson.M{"lockedBy": "", "lockedAt": ""},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("outboxmongo: mark failed: %w", err)
	}
	return checkMatched(res, id)
}

// ReleaseLock returns a processing row to pending, clearing its lock.
func (r *Repository) ReleaseLock(ctx context.Context, id string) error {
	filter := bson.M{"_id": id, "status": string(outbox.StatusProcessing)}
	update := bson.M{
		"$set":   bson.M{"status": string(outbox.StatusPending), "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"lockedBy": "", "lockedAt": ""},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("outboxmongo: release lock: %w", err)
	}
	return checkMatched(res, id)
}

// ReleaseStaleLocks resets rows stuck in processing whose lock predates cutoff.
func (r *Repository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":   string(outbox.StatusProcessing),
		"lockedAt": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set":   bson.M{"status": string(outbox.StatusPending), "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"lockedBy": "", "lockedAt": ""},
	}
	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("outboxmongo: release stale locks: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// DeleteOlderThan removes published rows created before cutoff. Permanently
// failed rows are never cleaned up here; they stay visible for operators.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":    string(outbox.StatusPublished),
		"createdAt": bson.M{"$lt": cutoff},
	}
	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("outboxmongo: delete older than: %w", err)
	}
	return int(res.DeletedCount), nil
}

// WithTransaction runs fn inside a MongoDB session transaction, passing the
// mongo.SessionContext through as the opaque Tx handle.
func (r *Repository) WithTransaction(ctx context.Context, fn func(tx outbox.Tx) error) error {
	err := mongoclient.RunTransaction(ctx, r.coll.Database().Client(), func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
	if err != nil {
		return fmt.Errorf("outboxmongo: transaction: %w", err)
	}
	return nil
}

func (r *Repository) sessionCtx(ctx context.Context, tx outbox.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	if sessCtx, ok := tx.(mongo.SessionContext); ok {
		return sessCtx
	}
	return ctx
}

func (r *Repository) findByID(ctx context.Context, id string) (*outbox.Message, error) {
	var d doc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("outboxmongo: message %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("outboxmongo: find by id: %w", err)
	}
	return d.toMessage(), nil
}

func checkMatched(res *mongo.UpdateResult, id string) error {
	if res.MatchedCount == 0 {
		return fmt.Errorf("outboxmongo: message %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
