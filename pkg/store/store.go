// Package store persists rooms, messages and direct messages, and keeps the
// per-member unread ledger. All mutations go through atomic per-record update
// operators; there are no cross-document transactions, and the resulting skew
// between a message write and its derived counters is accepted.
package store

import (
	"context"
	"time"

	"github.com/mahaj/staff-chat/pkg/model"
)

// Store is the message store plus the container bookkeeping it owns.
type Store interface {
	CreateRoom(ctx context.Context, room *model.Room) error
	Room(ctx context.Context, roomID string) (*model.Room, error)
	RoomsFor(ctx context.Context, identity string) ([]*model.Room, error)

	// AddMember and RemoveMember react to external membership-management
	// calls: they keep the unread-counter invariant (exactly one entry per
	// member, re-added members restart at zero).
	AddMember(ctx context.Context, roomID string, m model.Member) (*model.Room, error)
	RemoveMember(ctx context.Context, roomID, identity string) (*model.Room, error)

	// Append persists a message with a server-assigned id and timestamp and
	// refreshes the container's denormalized lastMessage. Non-members are
	// rejected with ErrAccessDenied; replies whose parent lives in a
	// different container with ErrInvalidReply.
	Append(ctx context.Context, c model.Container, sender string, p model.Payload, replyTo string) (*model.Message, error)

	// MarkRead is idempotent: only messages where reader differs from the
	// sender and does not already appear in readBy are updated. Returns the
	// number of messages actually updated.
	MarkRead(ctx context.Context, c model.Container, messageIDs []string, reader string) (int, error)

	// DeleteMessage soft-deletes a message owned by requester. When the
	// deleted message was the container's most recent one, the lastMessage
	// summary is recomputed and persisted; the new summary and true are
	// returned in that case.
	DeleteMessage(ctx context.Context, c model.Container, messageID, requester string) (*model.LastMessage, bool, error)

	History(ctx context.Context, c model.Container, limit int64, before time.Time) ([]*model.Message, error)

	// ReplyCount is a live count query over children referencing the parent;
	// no running counter is maintained.
	ReplyCount(ctx context.Context, c model.Container, parentID string) (int64, error)

	RecomputeLastMessage(ctx context.Context, c model.Container) (*model.LastMessage, error)
}

// Ledger is the per-container, per-member unread counter bookkeeping. Updates
// are triggered by message writes and read receipts but are not linearizable
// with them.
type Ledger interface {
	// OnNewMessage increments every member's counter except the sender's via
	// an atomic per-record increment and returns the resulting counter map.
	OnNewMessage(ctx context.Context, c model.Container, sender string) (map[string]int, error)

	// OnRead resets only the reader's counter to zero.
	OnRead(ctx context.Context, c model.Container, reader string) error

	UnreadCount(ctx context.Context, c model.Container, identity string) (int, error)
}
