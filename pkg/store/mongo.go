package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/model"
)

const retryBackoff = 250 * time.Millisecond

// Mongo implements Store and Ledger on top of a MongoDB database, using the
// per-record atomic operators ($inc on one member's counter entry, conditional
// $push into readBy, lastMessage $set) instead of multi-document transactions.
type Mongo struct {
	log      *zap.SugaredLogger
	client   *mongo.Client
	rooms    *mongo.Collection
	messages *mongo.Collection
	dms      *mongo.Collection
	threads  *mongo.Collection
}

var (
	_ Store  = (*Mongo)(nil)
	_ Ledger = (*Mongo)(nil)
)

// NewMongo connects, pings, and ensures the query indexes the original system
// relies on. Index creation failures are logged, not fatal.
func NewMongo(ctx context.Context, uri, database string, log *zap.SugaredLogger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(database)
	s := &Mongo{
		log:      log,
		client:   client,
		rooms:    db.Collection("rooms"),
		messages: db.Collection("messages"),
		dms:      db.Collection("direct_messages"),
		threads:  db.Collection("dm_threads"),
	}
	s.ensureIndexes(ctx)
	return s, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Mongo) ensureIndexes(ctx context.Context) {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.rooms, []mongo.IndexModel{
			{Keys: bson.D{{Key: "members.identity", Value: 1}}},
			{Keys: bson.D{{Key: "lastMessage.timestamp", Value: -1}}},
		}},
		{s.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "replyTo", Value: 1}}},
		}},
		{s.dms, []mongo.IndexModel{
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "replyTo", Value: 1}}},
		}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			s.log.Warnw("index creation failed", "collection", ix.coll.Name(), "err", err)
		}
	}
}

// msgColl picks the collection a container's messages live in.
func (s *Mongo) msgColl(c model.Container) *mongo.Collection {
	if c.Kind == model.ContainerDM {
		return s.dms
	}
	return s.messages
}

// containerFilter scopes a message query to its container. DM participants are
// stored in canonical order, so an exact array match suffices.
func containerFilter(c model.Container) bson.M {
	if c.Kind == model.ContainerDM {
		return bson.M{"participants": []string{c.A, c.B}}
	}
	return bson.M{"room": c.RoomID}
}

func isTransient(err error) bool {
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

// withRetry retries an operation once with bounded backoff when the failure
// looks transient; a second transient failure surfaces as ErrTransientStore
// and the whole operation fails before any fanout happens.
func (s *Mongo) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !isTransient(err) {
		return err
	}
	s.log.Warnw("transient store error, retrying once", "op", op, "err", err)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err = fn(ctx); err != nil {
		if isTransient(err) {
			return fmt.Errorf("%w: %s: %v", model.ErrTransientStore, op, err)
		}
		return err
	}
	return nil
}

// notFound maps driver misses onto the domain taxonomy.
func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return err
}
