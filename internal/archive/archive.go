// Package archive provides an optional MongoDB-backed archive of live
// session events. The archive is entirely best-effort: when no MongoDB URI
// is configured, or the server is unreachable at startup, the archive is
// disabled and every operation degrades to a no-op.
package archive

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/deskd/deskd/internal/domain"
)

const collectionName = "session_events"

// ArchivedEvent is a stored live event tagged with its session.
type ArchivedEvent struct {
	SessionID string           `bson:"session_id" json:"session_id"`
	Type      domain.EventType `bson:"type" json:"type"`
	At        time.Time        `bson:"at" json:"at"`
	ToolUseID string           `bson:"tool_use_id,omitempty" json:"tool_use_id,omitempty"`
	Message   interface{}      `bson:"message,omitempty" json:"message,omitempty"`
	Data      interface{}      `bson:"data,omitempty" json:"data,omitempty"`
}

// Store archives session events. A disabled Store is valid and inert.
type Store struct {
	coll *mongo.Collection
}

// Disabled returns an archive that stores nothing and lists nothing.
func Disabled() *Store {
	return &Store{}
}

// New connects to MongoDB and prepares the event collection. Any failure
// yields a disabled archive rather than an error: absence of this
// collaborator must not affect the rest of the system.
func New(ctx context.Context, uri, database string) *Store {
	if uri == "" {
		return Disabled()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("WARN: event archive disabled, mongo connect failed: %v", err)
		return Disabled()
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		log.Printf("WARN: event archive disabled, mongo unreachable: %v", err)
		_ = client.Disconnect(context.Background())
		return Disabled()
	}

	coll := client.Database(database).Collection(collectionName)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "at", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(connectCtx, indexes); err != nil {
		log.Printf("WARN: failed to create event archive indexes: %v", err)
	}

	return &Store{coll: coll}
}

// Enabled reports whether the archive is backed by a live collection.
func (s *Store) Enabled() bool {
	return s.coll != nil
}

// Append stores one event, best-effort. Insert failures are swallowed.
func (s *Store) Append(ctx context.Context, sessionID string, event domain.StreamEvent) {
	if s.coll == nil {
		return
	}
	doc := ArchivedEvent{
		SessionID: sessionID,
		Type:      event.Type,
		At:        event.At,
		ToolUseID: event.ToolUseID,
		Message:   event.Message,
		Data:      event.Data,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		log.Printf("WARN: failed to archive %s event for session %s: %v", event.Type, sessionID, err)
	}
}

// List returns a session's archived events in time order. A disabled
// archive returns nil.
func (s *Store) List(ctx context.Context, sessionID string, limit int64) ([]ArchivedEvent, error) {
	if s.coll == nil {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}}).SetLimit(limit)
	cursor, err := s.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []ArchivedEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
