package model

import (
	"fmt"
	"strings"
)

// Channel is an opaque routing key grouping the sessions that should receive a
// class of events. Channels are never persisted.
type Channel string

const (
	roomPrefix      = "room:"
	dmPrefix        = "dm:"
	dashboardPrefix = "dashboard:"
)

func RoomChannel(roomID string) Channel {
	return Channel(roomPrefix + roomID)
}

// DMChannel builds the canonical channel for a participant pair. The pair is
// sorted so both participants always derive the same key.
func DMChannel(a, b string) Channel {
	lo, hi := SortPair(a, b)
	return Channel(dmPrefix + lo + "-" + hi)
}

func DashboardChannel(identity string) Channel {
	return Channel(dashboardPrefix + identity)
}

func (c Channel) IsDashboard() bool {
	return strings.HasPrefix(string(c), dashboardPrefix)
}

// DashboardIdentity returns the identity a dashboard channel belongs to, or ""
// for any other channel kind.
func (c Channel) DashboardIdentity() string {
	if !c.IsDashboard() {
		return ""
	}
	return strings.TrimPrefix(string(c), dashboardPrefix)
}

func SortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ContainerKind discriminates the two message scopes.
type ContainerKind string

const (
	ContainerRoom ContainerKind = "room"
	ContainerDM   ContainerKind = "dm"
)

// Container is the scope a message belongs to: a room, or a canonically sorted
// direct-message participant pair.
type Container struct {
	Kind   ContainerKind
	RoomID string
	// DM participants in canonical (sorted) order.
	A, B string
}

func RoomContainer(roomID string) Container {
	return Container{Kind: ContainerRoom, RoomID: roomID}
}

func DMContainer(a, b string) Container {
	lo, hi := SortPair(a, b)
	return Container{Kind: ContainerDM, A: lo, B: hi}
}

// ParseContainer parses a container key of the form "room:<id>" or
// "dm:<minId>-<maxId>". Identities may not contain '-' or ':'.
func ParseContainer(key string) (Container, error) {
	switch {
	case strings.HasPrefix(key, roomPrefix):
		id := strings.TrimPrefix(key, roomPrefix)
		if id == "" {
			return Container{}, fmt.Errorf("%w: empty room id", ErrValidation)
		}
		return RoomContainer(id), nil
	case strings.HasPrefix(key, dmPrefix):
		pair := strings.TrimPrefix(key, dmPrefix)
		a, b, ok := strings.Cut(pair, "-")
		if !ok || a == "" || b == "" || strings.Contains(b, "-") {
			return Container{}, fmt.Errorf("%w: malformed dm pair %q", ErrValidation, pair)
		}
		if a == b {
			return Container{}, fmt.Errorf("%w: dm participants must differ", ErrValidation)
		}
		return DMContainer(a, b), nil
	default:
		return Container{}, fmt.Errorf("%w: unknown container key %q", ErrValidation, key)
	}
}

// Key is the stable string form of the container, identical to the channel key
// of the conversation channel carrying its full events.
func (c Container) Key() string {
	if c.Kind == ContainerDM {
		return dmPrefix + c.A + "-" + c.B
	}
	return roomPrefix + c.RoomID
}

// Channel is the conversation channel for active viewers of this container.
func (c Container) Channel() Channel {
	return Channel(c.Key())
}

// Participant reports whether identity is one of the DM pair. Only meaningful
// for DM containers.
func (c Container) Participant(identity string) bool {
	return c.Kind == ContainerDM && (c.A == identity || c.B == identity)
}

// Other returns the DM peer of identity.
func (c Container) Other(identity string) string {
	if c.A == identity {
		return c.B
	}
	return c.A
}
