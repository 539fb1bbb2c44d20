package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Member is one room member with their role.
type Member struct {
	Identity string `bson:"identity" json:"identity"`
	Role     string `bson:"role" json:"role"`
}

// LastMessage is the denormalized summary of the most recent message in a
// container, kept on the container document for conversation-list views.
type LastMessage struct {
	Sender    string      `bson:"sender" json:"sender"`
	Preview   string      `bson:"preview" json:"preview"`
	Kind      PayloadKind `bson:"kind" json:"kind"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
}

// Room is a provisioned chat room. Membership is mutated by external
// provisioning calls; unreadCounts and lastMessage are mutated by the core on
// every message and read event. Invariant: every member has exactly one
// unreadCounts entry.
type Room struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Description  string             `bson:"description,omitempty" json:"description,omitempty"`
	Color        string             `bson:"color,omitempty" json:"color,omitempty"`
	ImageURL     string             `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Members      []Member           `bson:"members" json:"members"`
	UnreadCounts map[string]int     `bson:"unreadCounts" json:"unreadCounts"`
	LastMessage  *LastMessage       `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	IsActive     bool               `bson:"isActive" json:"isActive"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (r *Room) IsMember(identity string) bool {
	for _, m := range r.Members {
		if m.Identity == identity {
			return true
		}
	}
	return false
}

func (r *Room) MemberIdentities() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.Identity)
	}
	return ids
}

// DMThread is the per-pair counterpart of Room: it owns the denormalized
// lastMessage and the unread ledger entries for a direct-message conversation.
// Its id is the canonical container key.
type DMThread struct {
	ID           string         `bson:"_id" json:"id"`
	Participants []string       `bson:"participants" json:"participants"`
	UnreadCounts map[string]int `bson:"unreadCounts" json:"unreadCounts"`
	LastMessage  *LastMessage   `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	UpdatedAt    time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Profile is the decoration returned by the identity resolver. It is never
// used for authorization; authorization is membership-based only.
type Profile struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Department  string `json:"department,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}
