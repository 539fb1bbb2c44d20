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

func (s *Mongo) Append(ctx context.Context, c model.Container, sender string, p model.Payload, replyTo string) (*model.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	msg := &model.Message{
		Sender:    sender,
		Payload:   p,
		CreatedAt: time.Now().UTC(),
	}

	switch c.Kind {
	case model.ContainerRoom:
		room, err := s.Room(ctx, c.RoomID)
		if err != nil {
			return nil, err
		}
		if !room.IsMember(sender) {
			return nil, fmt.Errorf("%w: %s is not a member of room %s", model.ErrAccessDenied, sender, c.RoomID)
		}
		msg.RoomID = c.RoomID
	case model.ContainerDM:
		if !c.Participant(sender) {
			return nil, fmt.Errorf("%w: %s is not a participant of %s", model.ErrAccessDenied, sender, c.Key())
		}
		msg.Participants = []string{c.A, c.B}
	default:
		return nil, fmt.Errorf("%w: message without container", model.ErrValidation)
	}

	if replyTo != "" {
		if err := s.attachReply(ctx, c, replyTo, msg); err != nil {
			return nil, err
		}
	}

	err := s.withRetry(ctx, "append", func(ctx context.Context) error {
		res, err := s.msgColl(c).InsertOne(ctx, msg)
		if err != nil {
			return err
		}
		if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
			msg.ID = oid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.setLastMessage(ctx, c, msg.Summary()); err != nil {
		// The message is durable; a stale summary heals on the next write.
		s.log.Warnw("lastMessage update failed", "container", c.Key(), "err", err)
	}
	return msg, nil
}

// attachReply resolves the parent strictly within the same container and
// copies its immutable snapshot onto the draft. The snapshot is taken once,
// here, and never refreshed.
func (s *Mongo) attachReply(ctx context.Context, c model.Container, replyTo string, draft *model.Message) error {
	oid, err := parseOID(replyTo)
	if err != nil {
		return err
	}
	var parent model.Message
	err = s.withRetry(ctx, "replyParent", func(ctx context.Context) error {
		res := s.msgColl(c).FindOne(ctx, bson.M{"_id": oid, "deleted": bson.M{"$ne": true}})
		if errors.Is(res.Err(), mongo.ErrNoDocuments) {
			// The parent may live in the other scope's collection; it must
			// still resolve so the mismatch fails as an invalid reply.
			other := s.messages
			if c.Kind == model.ContainerRoom {
				other = s.dms
			}
			res = other.FindOne(ctx, bson.M{"_id": oid, "deleted": bson.M{"$ne": true}})
		}
		return res.Decode(&parent)
	})
	if err != nil {
		return notFound(err, "reply parent "+replyTo)
	}
	if parent.Container().Key() != c.Key() {
		return fmt.Errorf("%w: parent %s lives in %s", model.ErrInvalidReply, replyTo, parent.Container().Key())
	}
	draft.ReplyTo = parent.ID
	draft.ReplySnap = parent.Snapshot()
	return nil
}

func (s *Mongo) setLastMessage(ctx context.Context, c model.Container, summary *model.LastMessage) error {
	now := time.Now().UTC()
	if c.Kind == model.ContainerDM {
		return s.withRetry(ctx, "dmLastMessage", func(ctx context.Context) error {
			_, err := s.threads.UpdateOne(ctx,
				bson.M{"_id": c.Key()},
				bson.M{
					"$set":         bson.M{"lastMessage": summary, "updatedAt": now},
					"$setOnInsert": bson.M{"participants": []string{c.A, c.B}},
				},
				options.Update().SetUpsert(true))
			return err
		})
	}
	oid, err := parseOID(c.RoomID)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "lastMessage", func(ctx context.Context) error {
		_, err := s.rooms.UpdateOne(ctx,
			bson.M{"_id": oid},
			bson.M{"$set": bson.M{"lastMessage": summary, "updatedAt": now}})
		return err
	})
}

// MarkRead updates only messages the reader did not send and has not already
// read, via a conditional array push. Re-invocation matches nothing and is a
// no-op, which makes the operation idempotent.
func (s *Mongo) MarkRead(ctx context.Context, c model.Container, messageIDs []string, reader string) (int, error) {
	oids := make([]primitive.ObjectID, 0, len(messageIDs))
	for _, id := range messageIDs {
		oid, err := parseOID(id)
		if err != nil {
			return 0, err
		}
		oids = append(oids, oid)
	}

	filter := containerFilter(c)
	filter["_id"] = bson.M{"$in": oids}
	filter["sender"] = bson.M{"$ne": reader}
	filter["readBy.reader"] = bson.M{"$ne": reader}

	var updated int
	err := s.withRetry(ctx, "markRead", func(ctx context.Context) error {
		res, err := s.msgColl(c).UpdateMany(ctx, filter, bson.M{
			"$set":  bson.M{"isRead": true},
			"$push": bson.M{"readBy": model.ReadReceipt{Reader: reader, ReadAt: time.Now().UTC()}},
		})
		if err != nil {
			return err
		}
		updated = int(res.ModifiedCount)
		return nil
	})
	return updated, err
}

func (s *Mongo) DeleteMessage(ctx context.Context, c model.Container, messageID, requester string) (*model.LastMessage, bool, error) {
	oid, err := parseOID(messageID)
	if err != nil {
		return nil, false, err
	}

	filter := containerFilter(c)
	filter["_id"] = oid
	filter["deleted"] = bson.M{"$ne": true}

	var msg model.Message
	err = s.withRetry(ctx, "deleteLookup", func(ctx context.Context) error {
		return s.msgColl(c).FindOne(ctx, filter).Decode(&msg)
	})
	if err != nil {
		return nil, false, notFound(err, "message "+messageID)
	}
	if msg.Sender != requester {
		return nil, false, fmt.Errorf("%w: only the sender may delete a message", model.ErrAccessDenied)
	}

	err = s.withRetry(ctx, "delete", func(ctx context.Context) error {
		_, err := s.msgColl(c).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"deleted": true}})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	// Deleting the most recent message invalidates the denormalized summary.
	latest, err := s.latestSummary(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if latest != nil && latest.Timestamp.Equal(msg.CreatedAt) && latest.Sender == msg.Sender {
		summary, err := s.RecomputeLastMessage(ctx, c)
		if err != nil {
			return nil, false, err
		}
		if err := s.setLastMessage(ctx, c, summary); err != nil {
			return nil, false, err
		}
		return summary, true, nil
	}
	return nil, false, nil
}

// latestSummary reads the container's current denormalized lastMessage.
func (s *Mongo) latestSummary(ctx context.Context, c model.Container) (*model.LastMessage, error) {
	if c.Kind == model.ContainerDM {
		var thread model.DMThread
		err := s.withRetry(ctx, "threadGet", func(ctx context.Context) error {
			return s.threads.FindOne(ctx, bson.M{"_id": c.Key()}).Decode(&thread)
		})
		if err != nil {
			return nil, notFound(err, "dm thread "+c.Key())
		}
		return thread.LastMessage, nil
	}
	room, err := s.Room(ctx, c.RoomID)
	if err != nil {
		return nil, err
	}
	return room.LastMessage, nil
}

// RecomputeLastMessage returns the summary of the latest non-deleted message
// in the container, or nil when none remain.
func (s *Mongo) RecomputeLastMessage(ctx context.Context, c model.Container) (*model.LastMessage, error) {
	filter := containerFilter(c)
	filter["deleted"] = bson.M{"$ne": true}

	var msg model.Message
	err := s.withRetry(ctx, "recomputeLastMessage", func(ctx context.Context) error {
		return s.msgColl(c).FindOne(ctx, filter,
			options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})).Decode(&msg)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg.Summary(), nil
}

func (s *Mongo) History(ctx context.Context, c model.Container, limit int64, before time.Time) ([]*model.Message, error) {
	filter := containerFilter(c)
	filter["deleted"] = bson.M{"$ne": true}
	if !before.IsZero() {
		filter["createdAt"] = bson.M{"$lt": before}
	}

	var out []*model.Message
	err := s.withRetry(ctx, "history", func(ctx context.Context) error {
		out = out[:0]
		cur, err := s.msgColl(c).Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit))
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var m model.Message
			if err := cur.Decode(&m); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}
	// Return in chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Mongo) ReplyCount(ctx context.Context, c model.Container, parentID string) (int64, error) {
	oid, err := parseOID(parentID)
	if err != nil {
		return 0, err
	}
	filter := containerFilter(c)
	filter["replyTo"] = oid
	filter["deleted"] = bson.M{"$ne": true}

	var count int64
	err = s.withRetry(ctx, "replyCount", func(ctx context.Context) error {
		count, err = s.msgColl(c).CountDocuments(ctx, filter)
		return err
	})
	return count, err
}
