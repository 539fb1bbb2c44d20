package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayloadKind tags the message payload variant.
type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindImage PayloadKind = "image"
	KindFile  PayloadKind = "file"
)

// Payload is the tagged union carried by every message. Exactly one variant is
// populated, selected by Kind; the core never stores raw media bytes, only the
// opaque references handed out by the media store.
type Payload struct {
	Kind     PayloadKind `bson:"kind" json:"kind" validate:"required,oneof=text image file"`
	Text     string      `bson:"text,omitempty" json:"text,omitempty"`
	ImageURL string      `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	FileURL  string      `bson:"fileUrl,omitempty" json:"fileUrl,omitempty"`
	FileName string      `bson:"fileName,omitempty" json:"fileName,omitempty"`
	FileMime string      `bson:"fileMime,omitempty" json:"fileMime,omitempty"`
}

// Validate enforces the variant invariant beyond what struct tags can express.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindText:
		if p.Text == "" {
			return fmt.Errorf("%w: empty text payload", ErrValidation)
		}
	case KindImage:
		if p.ImageURL == "" {
			return fmt.Errorf("%w: image payload without reference", ErrValidation)
		}
	case KindFile:
		if p.FileURL == "" || p.FileName == "" {
			return fmt.Errorf("%w: file payload without reference or name", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrValidation, p.Kind)
	}
	return nil
}

// Preview is the content summary used for lastMessage and reply snapshots.
func (p Payload) Preview() string {
	switch p.Kind {
	case KindImage:
		return "[image]"
	case KindFile:
		return "[file] " + p.FileName
	default:
		return p.Text
	}
}

// ReadReceipt records one reader having seen a message.
type ReadReceipt struct {
	Reader string    `bson:"reader" json:"reader"`
	ReadAt time.Time `bson:"readAt" json:"readAt"`
}

// ReplySnapshot is the immutable denormalized copy of a reply's parent, taken
// once at reply-creation time and never refreshed, even if the parent is later
// edited or deleted.
type ReplySnapshot struct {
	MessageID primitive.ObjectID `bson:"messageId" json:"messageId"`
	Sender    string             `bson:"sender" json:"sender"`
	Preview   string             `bson:"preview" json:"preview"`
	Kind      PayloadKind        `bson:"kind" json:"kind"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// Message is one room-scoped or DM-scoped message. Room messages carry RoomID,
// DMs carry the canonical participant pair.
type Message struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RoomID       string             `bson:"room,omitempty" json:"room,omitempty"`
	Participants []string           `bson:"participants,omitempty" json:"participants,omitempty"`
	Sender       string             `bson:"sender" json:"sender"`
	Payload      Payload            `bson:"payload" json:"payload"`
	IsRead       bool               `bson:"isRead" json:"isRead"`
	ReadBy       []ReadReceipt      `bson:"readBy,omitempty" json:"readBy,omitempty"`
	ReplyTo      primitive.ObjectID `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	ReplySnap    *ReplySnapshot     `bson:"replyToSnapshot,omitempty" json:"replyToSnapshot,omitempty"`
	Deleted      bool               `bson:"deleted,omitempty" json:"-"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

// Container reconstructs the scope the message belongs to.
func (m *Message) Container() Container {
	if m.RoomID != "" {
		return RoomContainer(m.RoomID)
	}
	if len(m.Participants) == 2 {
		return DMContainer(m.Participants[0], m.Participants[1])
	}
	return Container{}
}

// ReadByUser reports whether reader already appears in the readBy set.
func (m *Message) ReadByUser(reader string) bool {
	for _, r := range m.ReadBy {
		if r.Reader == reader {
			return true
		}
	}
	return false
}

// Snapshot builds the immutable parent copy attached to replies.
func (m *Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		MessageID: m.ID,
		Sender:    m.Sender,
		Preview:   m.Payload.Preview(),
		Kind:      m.Payload.Kind,
		Timestamp: m.CreatedAt,
	}
}

// Summary is the denormalized lastMessage shape derived from this message.
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		Sender:    m.Sender,
		Preview:   m.Payload.Preview(),
		Kind:      m.Payload.Kind,
		Timestamp: m.CreatedAt,
	}
}
