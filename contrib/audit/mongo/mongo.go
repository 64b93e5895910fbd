// Package mongo stores audit entries in a MongoDB collection.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/medrag/audit"
	medragerr "github.com/sweetpotato0/medrag/errors"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "medrag",
		Collection: "query_audit",
	}
}

// Recorder implements audit.Recorder using MongoDB
type Recorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config) (*Recorder, error) {
	def := DefaultConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to connect to MongoDB")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to ping MongoDB")
	}

	r := &Recorder{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := r.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to create indexes")
	}
	return r, nil
}

func (r *Recorder) createIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

// Record upserts the entry keyed by its ID.
func (r *Recorder) Record(ctx context.Context, entry audit.Entry) error {
	audit.Prepare(&entry)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to record audit entry",
			medragerr.Field("audit_id", entry.ID))
	}
	return nil
}

// Recent returns the newest entries of a session, newest first. An empty
// session ID lists across sessions.
func (r *Recorder) Recent(ctx context.Context, sessionID string, limit int64) ([]audit.Entry, error) {
	filter := bson.M{}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to query audit entries")
	}
	defer cursor.Close(ctx)

	var entries []audit.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeAuditRecordFailure, "failed to decode audit entries")
	}
	return entries, nil
}

// Ping checks if MongoDB connection is alive
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (r *Recorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
