// Package registry tracks live connections per identity and their channel
// subscriptions. All durable state lives in the store; an identity with zero
// live connections is simply absent here.
package registry

import (
	"sync"

	"github.com/mahaj/staff-chat/pkg/model"
)

// Conn is one live client connection. Deliver hands an event to the
// connection's outbound queue; a non-nil error means the push was dropped
// (the client re-fetches after reconnect, the engine never retries).
type Conn interface {
	ID() string
	Identity() string
	Deliver(ev *model.Event) error
}

type connSet map[string]Conn

// Registry is the one explicit instance per process, constructed in main and
// passed by reference.
type Registry struct {
	mu         sync.RWMutex
	conns      connSet
	byIdentity map[string]connSet
	byChannel  map[model.Channel]connSet
	channels   map[string]map[model.Channel]struct{} // connID -> subscriptions
}

func New() *Registry {
	return &Registry{
		conns:      make(connSet),
		byIdentity: make(map[string]connSet),
		byChannel:  make(map[model.Channel]connSet),
		channels:   make(map[string]map[model.Channel]struct{}),
	}
}

// Register adds the connection and subscribes it to its initial channels:
// the identity's dashboard plus every room it belongs to, resolved once at
// connect time. Later membership changes only take effect through explicit
// subscribe/unsubscribe or a reconnect.
func (r *Registry) Register(c Conn, initial []model.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.ID()] = c
	if r.byIdentity[c.Identity()] == nil {
		r.byIdentity[c.Identity()] = make(connSet)
	}
	r.byIdentity[c.Identity()][c.ID()] = c
	r.channels[c.ID()] = make(map[model.Channel]struct{}, len(initial))

	for _, ch := range initial {
		r.subscribeLocked(c, ch)
	}
}

func (r *Registry) subscribeLocked(c Conn, ch model.Channel) {
	if r.byChannel[ch] == nil {
		r.byChannel[ch] = make(connSet)
	}
	r.byChannel[ch][c.ID()] = c
	r.channels[c.ID()][ch] = struct{}{}
}

// Subscribe adds a channel association for a registered connection.
// Authorization happens in the engine before this is called; the registry is
// pure bookkeeping.
func (r *Registry) Subscribe(connID string, ch model.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	r.subscribeLocked(c, ch)
	return true
}

func (r *Registry) Unsubscribe(connID string, ch model.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.byChannel[ch]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byChannel, ch)
		}
	}
	if subs, ok := r.channels[connID]; ok {
		delete(subs, ch)
	}
}

// Deregister removes the connection and all of its channel associations.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if set, ok := r.byIdentity[c.Identity()]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byIdentity, c.Identity())
		}
	}
	for ch := range r.channels[connID] {
		if set, ok := r.byChannel[ch]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byChannel, ch)
			}
		}
	}
	delete(r.channels, connID)
}

// Subscribers snapshots the connections subscribed to a channel. Delivery
// happens outside the lock so publishes for unrelated channels proceed in
// parallel.
func (r *Registry) Subscribers(ch model.Channel) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byChannel[ch]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Subscribed reports whether the connection currently holds the association.
func (r *Registry) Subscribed(connID string, ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.channels[connID][ch]
	return ok
}

// ChannelsOf snapshots a connection's current subscriptions.
func (r *Registry) ChannelsOf(connID string) []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.channels[connID]
	if !ok {
		return nil
	}
	out := make([]model.Channel, 0, len(subs))
	for ch := range subs {
		out = append(out, ch)
	}
	return out
}

// Connections returns every live connection for an identity, across all of
// the user's simultaneous sessions.
func (r *Registry) Connections(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
