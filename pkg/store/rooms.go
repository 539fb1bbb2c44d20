package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mahaj/staff-chat/pkg/model"
)

func parseOID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed id %q", model.ErrValidation, id)
	}
	return oid, nil
}

func (s *Mongo) CreateRoom(ctx context.Context, room *model.Room) error {
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.IsActive = true
	if room.UnreadCounts == nil {
		room.UnreadCounts = make(map[string]int, len(room.Members))
	}
	// Counter invariant: exactly one entry per member, starting at zero.
	for _, m := range room.Members {
		if _, ok := room.UnreadCounts[m.Identity]; !ok {
			room.UnreadCounts[m.Identity] = 0
		}
	}
	return s.withRetry(ctx, "createRoom", func(ctx context.Context) error {
		res, err := s.rooms.InsertOne(ctx, room)
		if err != nil {
			return err
		}
		if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
			room.ID = oid
		}
		return nil
	})
}

func (s *Mongo) Room(ctx context.Context, roomID string) (*model.Room, error) {
	oid, err := parseOID(roomID)
	if err != nil {
		return nil, err
	}
	var room model.Room
	err = s.withRetry(ctx, "room", func(ctx context.Context) error {
		return s.rooms.FindOne(ctx, bson.M{"_id": oid}).Decode(&room)
	})
	if err != nil {
		return nil, notFound(err, "room "+roomID)
	}
	return &room, nil
}

func (s *Mongo) RoomsFor(ctx context.Context, identity string) ([]*model.Room, error) {
	var rooms []*model.Room
	err := s.withRetry(ctx, "roomsFor", func(ctx context.Context) error {
		rooms = rooms[:0]
		cur, err := s.rooms.Find(ctx,
			bson.M{"members.identity": identity, "isActive": true},
			options.Find().SetSort(bson.D{{Key: "lastMessage.timestamp", Value: -1}}))
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var r model.Room
			if err := cur.Decode(&r); err != nil {
				return err
			}
			rooms = append(rooms, &r)
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// AddMember appends the member and creates their counter entry at zero. A
// re-added member restarts at zero regardless of messages sent while absent.
// Idempotent for existing members.
func (s *Mongo) AddMember(ctx context.Context, roomID string, m model.Member) (*model.Room, error) {
	oid, err := parseOID(roomID)
	if err != nil {
		return nil, err
	}
	err = s.withRetry(ctx, "addMember", func(ctx context.Context) error {
		_, err := s.rooms.UpdateOne(ctx,
			bson.M{"_id": oid, "members.identity": bson.M{"$ne": m.Identity}},
			bson.M{
				"$push": bson.M{"members": m},
				"$set": bson.M{
					"unreadCounts." + m.Identity: 0,
					"updatedAt":                  time.Now().UTC(),
				},
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Room(ctx, roomID)
}

// RemoveMember drops the member and deletes their counter entry.
func (s *Mongo) RemoveMember(ctx context.Context, roomID, identity string) (*model.Room, error) {
	oid, err := parseOID(roomID)
	if err != nil {
		return nil, err
	}
	err = s.withRetry(ctx, "removeMember", func(ctx context.Context) error {
		_, err := s.rooms.UpdateOne(ctx,
			bson.M{"_id": oid},
			bson.M{
				"$pull":  bson.M{"members": bson.M{"identity": identity}},
				"$unset": bson.M{"unreadCounts." + identity: ""},
				"$set":   bson.M{"updatedAt": time.Now().UTC()},
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Room(ctx, roomID)
}

// OnNewMessage bumps every member's counter except the sender's in one atomic
// per-record update and returns the counters as they landed. The update is
// triggered by, but not linearizable with, the message write.
func (s *Mongo) OnNewMessage(ctx context.Context, c model.Container, sender string) (map[string]int, error) {
	if c.Kind == model.ContainerDM {
		return s.dmOnNewMessage(ctx, c, sender)
	}

	room, err := s.Room(ctx, c.RoomID)
	if err != nil {
		return nil, err
	}
	for _, m := range room.Members {
		if m.Identity == sender {
			continue
		}
		key := "unreadCounts." + m.Identity
		err = s.withRetry(ctx, "ledger.inc", func(ctx context.Context) error {
			// Guarded on the entry existing so a member removed since the
			// membership read never gets a counter re-created by the $inc.
			_, err := s.rooms.UpdateOne(ctx,
				bson.M{"_id": room.ID, key: bson.M{"$exists": true}},
				bson.M{"$inc": bson.M{key: 1}})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	updated, err := s.Room(ctx, c.RoomID)
	if err != nil {
		return nil, err
	}
	return updated.UnreadCounts, nil
}

func (s *Mongo) dmOnNewMessage(ctx context.Context, c model.Container, sender string) (map[string]int, error) {
	recipient := c.Other(sender)
	var thread model.DMThread
	err := s.withRetry(ctx, "ledger.dmInc", func(ctx context.Context) error {
		return s.threads.FindOneAndUpdate(ctx,
			bson.M{"_id": c.Key()},
			bson.M{
				"$inc":         bson.M{"unreadCounts." + recipient: 1},
				"$setOnInsert": bson.M{"participants": []string{c.A, c.B}},
				"$set":         bson.M{"updatedAt": time.Now().UTC()},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&thread)
	})
	if err != nil {
		return nil, err
	}
	return thread.UnreadCounts, nil
}

// OnRead resets only the reader's counter to zero.
func (s *Mongo) OnRead(ctx context.Context, c model.Container, reader string) error {
	if c.Kind == model.ContainerDM {
		return s.withRetry(ctx, "ledger.dmReset", func(ctx context.Context) error {
			_, err := s.threads.UpdateOne(ctx,
				bson.M{"_id": c.Key()},
				bson.M{"$set": bson.M{"unreadCounts." + reader: 0}})
			return err
		})
	}
	oid, err := parseOID(c.RoomID)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "ledger.reset", func(ctx context.Context) error {
		// Guarded on the entry existing so a reset never re-creates a
		// counter for a removed member.
		_, err := s.rooms.UpdateOne(ctx,
			bson.M{"_id": oid, "unreadCounts." + reader: bson.M{"$exists": true}},
			bson.M{"$set": bson.M{"unreadCounts." + reader: 0}})
		return err
	})
}

func (s *Mongo) UnreadCount(ctx context.Context, c model.Container, identity string) (int, error) {
	if c.Kind == model.ContainerDM {
		var thread model.DMThread
		err := s.withRetry(ctx, "ledger.dmGet", func(ctx context.Context) error {
			return s.threads.FindOne(ctx, bson.M{"_id": c.Key()}).Decode(&thread)
		})
		// A thread document only appears on the first message; until then the
		// conversation has no unread messages.
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return thread.UnreadCounts[identity], nil
	}
	room, err := s.Room(ctx, c.RoomID)
	if err != nil {
		return 0, err
	}
	return room.UnreadCounts[identity], nil
}
