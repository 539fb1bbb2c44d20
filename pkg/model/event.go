package model

import "time"

// EventType names the entries of the event catalogue.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageRead    EventType = "message.read"
	EventMessageDeleted EventType = "message.deleted"
	EventMemberAdded    EventType = "room.memberAdded"
	EventMemberRemoved  EventType = "room.memberRemoved"
	EventDashboardDelta EventType = "dashboard.delta"
	EventError          EventType = "error"
)

// Event is the wire envelope pushed to subscribed sessions and mirrored to the
// relay topic. Every event carries its originating channel key so a client can
// route it internally, and a monotonic id so clients can dedup a push against
// a post-reconnect re-fetch (delivery is at-least-once).
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Channel   Channel   `json:"channel"`
	Container string    `json:"container,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Message    *Message `json:"message,omitempty"`
	Sender     *Profile `json:"senderProfile,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Reader     string   `json:"reader,omitempty"`
	Member     *Member  `json:"member,omitempty"`

	// Dashboard delta fields: the bandwidth-minimized shape for
	// conversation-list views.
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount *int         `json:"unreadCount,omitempty"`

	// Error frame fields, surfaced synchronously to the issuing connection.
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`

	// Recipients carries the identities whose dashboards must receive a
	// delta. Routing metadata only, never serialized.
	Recipients []string `json:"-"`
}
