// Package engine orchestrates the fanout pipeline: it accepts client
// commands, persists them through the store and the unread ledger, and only
// then publishes the resulting events through the channel router to every
// subscribed session. No event is ever published for an uncommitted or
// rejected operation.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/channel"
	"github.com/mahaj/staff-chat/pkg/identity"
	"github.com/mahaj/staff-chat/pkg/model"
	"github.com/mahaj/staff-chat/pkg/presence"
	"github.com/mahaj/staff-chat/pkg/registry"
	"github.com/mahaj/staff-chat/pkg/snowflake"
	"github.com/mahaj/staff-chat/pkg/store"
)

// SendCommand appends a message to a container. One pipeline serves every
// payload variant; the union tag selects the shape.
type SendCommand struct {
	Container string        `json:"container" validate:"required"`
	Payload   model.Payload `json:"payload"`
	ReplyTo   string        `json:"replyTo,omitempty"`
}

type MarkReadCommand struct {
	Container  string   `json:"container" validate:"required"`
	MessageIDs []string `json:"messageIds" validate:"required,min=1"`
}

type DeleteCommand struct {
	Container string `json:"container" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

// Options carries the optional collaborators. A nil resolver skips payload
// decoration, a nil tracker skips presence, a nil relay keeps fanout local to
// this gateway.
type Options struct {
	Resolver identity.Resolver
	Presence *presence.Tracker
	Relay    *Relay
}

type Engine struct {
	log      *zap.SugaredLogger
	store    store.Store
	ledger   store.Ledger
	registry *registry.Registry
	resolver identity.Resolver
	presence *presence.Tracker
	relay    *Relay
	ids      *snowflake.Node
	validate *validator.Validate
	origin   string
}

func New(log *zap.SugaredLogger, st store.Store, ledger store.Ledger, reg *registry.Registry, opts Options) (*Engine, error) {
	origin := uuid.NewString()
	h := fnv.New32a()
	h.Write([]byte(origin))
	node, err := snowflake.NewNode(int64(h.Sum32() % 1024))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		log:      log,
		store:    st,
		ledger:   ledger,
		registry: reg,
		resolver: opts.Resolver,
		presence: opts.Presence,
		relay:    opts.Relay,
		ids:      node,
		validate: validator.New(),
		origin:   origin,
	}
	if e.relay != nil {
		e.relay.engine = e
	}
	return e, nil
}

// Origin identifies this gateway instance on relayed frames.
func (e *Engine) Origin() string { return e.origin }

// Connect registers a freshly upgraded connection and auto-subscribes it to
// its dashboard and to every room it currently belongs to. Membership is
// resolved once, here; a reconnect re-derives it, self-healing anything missed
// while offline.
func (e *Engine) Connect(ctx context.Context, c registry.Conn) error {
	rooms, err := e.store.RoomsFor(ctx, c.Identity())
	if err != nil {
		return err
	}
	initial := make([]model.Channel, 0, len(rooms)+1)
	initial = append(initial, model.DashboardChannel(c.Identity()))
	for _, room := range rooms {
		initial = append(initial, model.RoomChannel(room.ID.Hex()))
	}
	e.registry.Register(c, initial)

	for _, ch := range initial[1:] {
		if err := e.presence.Join(ctx, ch, c.Identity()); err != nil {
			e.log.Warnw("presence join failed", "channel", ch, "err", err)
		}
	}
	e.log.Infow("connected", "identity", c.Identity(), "conn", c.ID(), "rooms", len(rooms))
	return nil
}

// Disconnect drops the connection and every channel association it holds.
// Nothing in flight is cancelled: writes already accepted run to completion
// and still fan out to the remaining sessions.
func (e *Engine) Disconnect(ctx context.Context, c registry.Conn) {
	for _, ch := range e.registry.ChannelsOf(c.ID()) {
		if !ch.IsDashboard() {
			if err := e.presence.Leave(ctx, ch, c.Identity()); err != nil {
				e.log.Warnw("presence leave failed", "channel", ch, "err", err)
			}
		}
	}
	e.registry.Deregister(c.ID())
	e.log.Infow("disconnected", "identity", c.Identity(), "conn", c.ID())
}

// Subscribe re-checks authorization against current membership at call time,
// never against anything cached. Failure creates no channel association.
func (e *Engine) Subscribe(ctx context.Context, c registry.Conn, ch model.Channel) error {
	if ch.IsDashboard() {
		if ch.DashboardIdentity() != c.Identity() {
			return fmt.Errorf("%w: foreign dashboard", model.ErrAccessDenied)
		}
	} else {
		container, err := model.ParseContainer(string(ch))
		if err != nil {
			return err
		}
		switch container.Kind {
		case model.ContainerRoom:
			room, err := e.store.Room(ctx, container.RoomID)
			if err != nil {
				return err
			}
			if !room.IsMember(c.Identity()) {
				return fmt.Errorf("%w: %s is not a member of room %s", model.ErrAccessDenied, c.Identity(), container.RoomID)
			}
		case model.ContainerDM:
			if !container.Participant(c.Identity()) {
				return fmt.Errorf("%w: %s is not a participant of %s", model.ErrAccessDenied, c.Identity(), container.Key())
			}
		}
	}

	if !e.registry.Subscribe(c.ID(), ch) {
		return fmt.Errorf("%w: connection %s", model.ErrNotFound, c.ID())
	}
	if !ch.IsDashboard() {
		if err := e.presence.Join(ctx, ch, c.Identity()); err != nil {
			e.log.Warnw("presence join failed", "channel", ch, "err", err)
		}
	}
	return nil
}

func (e *Engine) Unsubscribe(ctx context.Context, c registry.Conn, ch model.Channel) {
	e.registry.Unsubscribe(c.ID(), ch)
	if !ch.IsDashboard() {
		if err := e.presence.Leave(ctx, ch, c.Identity()); err != nil {
			e.log.Warnw("presence leave failed", "channel", ch, "err", err)
		}
	}
}

// Send runs the one pipeline shared by all payload variants: validate,
// persist, bump the ledger, then fan out. The ledger update is atomic per
// record but deliberately not linearizable with the message write.
func (e *Engine) Send(ctx context.Context, sender string, cmd SendCommand) (*model.Message, error) {
	if err := e.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	c, err := model.ParseContainer(cmd.Container)
	if err != nil {
		return nil, err
	}

	msg, err := e.store.Append(ctx, c, sender, cmd.Payload, cmd.ReplyTo)
	if err != nil {
		return nil, err
	}
	counts, err := e.ledger.OnNewMessage(ctx, c, sender)
	if err != nil {
		// The message is durable, but without counters no consistent delta
		// can be published; the client heals via re-fetch.
		return nil, err
	}

	ev := &model.Event{
		Type:       model.EventMessageCreated,
		Channel:    c.Channel(),
		Container:  c.Key(),
		Message:    msg,
		Sender:     e.resolve(ctx, sender),
		Recipients: e.recipients(ctx, c),
	}
	e.publish(ev, msg.Summary(), counts)
	return msg, nil
}

// MarkRead applies read receipts idempotently and resets only the reader's
// counter. Read events go to the conversation channel only, never to
// dashboards.
func (e *Engine) MarkRead(ctx context.Context, reader string, cmd MarkReadCommand) (int, error) {
	if err := e.validate.Struct(cmd); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	c, err := model.ParseContainer(cmd.Container)
	if err != nil {
		return 0, err
	}
	if err := e.authorizeContainer(ctx, c, reader); err != nil {
		return 0, err
	}

	updated, err := e.store.MarkRead(ctx, c, cmd.MessageIDs, reader)
	if err != nil {
		return 0, err
	}
	if err := e.ledger.OnRead(ctx, c, reader); err != nil {
		return 0, err
	}

	if updated > 0 {
		e.publish(&model.Event{
			Type:       model.EventMessageRead,
			Channel:    c.Channel(),
			Container:  c.Key(),
			MessageIDs: cmd.MessageIDs,
			Reader:     reader,
		}, nil, nil)
	}
	return updated, nil
}

// Delete soft-deletes one of the requester's own messages. When the deleted
// message was the container's latest, dashboards receive the recomputed
// summary; counters are untouched.
func (e *Engine) Delete(ctx context.Context, requester string, cmd DeleteCommand) error {
	if err := e.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	c, err := model.ParseContainer(cmd.Container)
	if err != nil {
		return err
	}

	summary, changed, err := e.store.DeleteMessage(ctx, c, cmd.MessageID, requester)
	if err != nil {
		return err
	}

	ev := &model.Event{
		Type:       model.EventMessageDeleted,
		Channel:    c.Channel(),
		Container:  c.Key(),
		MessageIDs: []string{cmd.MessageID},
	}
	if changed {
		ev.Recipients = e.recipients(ctx, c)
	}
	e.publish(ev, summary, nil)
	return nil
}

// MemberAdded reacts to an external membership-management call: the member's
// counter entry is created at zero and the room is notified. Live sessions of
// the new member pick the room up on their next connect or explicit
// subscribe.
func (e *Engine) MemberAdded(ctx context.Context, roomID string, m model.Member) error {
	if _, err := e.store.AddMember(ctx, roomID, m); err != nil {
		return err
	}
	e.publish(&model.Event{
		Type:      model.EventMemberAdded,
		Channel:   model.RoomChannel(roomID),
		Container: model.RoomContainer(roomID).Key(),
		Member:    &m,
	}, nil, nil)
	return nil
}

func (e *Engine) MemberRemoved(ctx context.Context, roomID, identityID string) error {
	if _, err := e.store.RemoveMember(ctx, roomID, identityID); err != nil {
		return err
	}
	e.publish(&model.Event{
		Type:      model.EventMemberRemoved,
		Channel:   model.RoomChannel(roomID),
		Container: model.RoomContainer(roomID).Key(),
		Member:    &model.Member{Identity: identityID},
	}, nil, nil)
	return nil
}

// History returns the container's chronological page for an authorized
// member. It is a plain read; no event is published.
func (e *Engine) History(ctx context.Context, who string, container string, limit int64, before time.Time) ([]*model.Message, error) {
	c, err := model.ParseContainer(container)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeContainer(ctx, c, who); err != nil {
		return nil, err
	}
	return e.store.History(ctx, c, limit, before)
}

// ReplyCount counts live children of a parent message for an authorized
// member.
func (e *Engine) ReplyCount(ctx context.Context, who string, container string, parentID string) (int64, error) {
	c, err := model.ParseContainer(container)
	if err != nil {
		return 0, err
	}
	if err := e.authorizeContainer(ctx, c, who); err != nil {
		return 0, err
	}
	return e.store.ReplyCount(ctx, c, parentID)
}

// Rooms lists the rooms an identity belongs to, with their counters and
// lastMessage summaries.
func (e *Engine) Rooms(ctx context.Context, identity string) ([]*model.Room, error) {
	return e.store.RoomsFor(ctx, identity)
}

// CreateRoom provisions a room. The caller becomes a member unless already
// listed; every member's counter starts at zero.
func (e *Engine) CreateRoom(ctx context.Context, creator string, room *model.Room) error {
	if room.Name == "" {
		return fmt.Errorf("%w: room name required", model.ErrValidation)
	}
	if !room.IsMember(creator) {
		room.Members = append(room.Members, model.Member{Identity: creator, Role: "admin"})
	}
	return e.store.CreateRoom(ctx, room)
}

func (e *Engine) authorizeContainer(ctx context.Context, c model.Container, who string) error {
	switch c.Kind {
	case model.ContainerRoom:
		room, err := e.store.Room(ctx, c.RoomID)
		if err != nil {
			return err
		}
		if !room.IsMember(who) {
			return fmt.Errorf("%w: %s is not a member of room %s", model.ErrAccessDenied, who, c.RoomID)
		}
	case model.ContainerDM:
		if !c.Participant(who) {
			return fmt.Errorf("%w: %s is not a participant of %s", model.ErrAccessDenied, who, c.Key())
		}
	}
	return nil
}

// recipients lists the identities whose dashboards must see the event.
func (e *Engine) recipients(ctx context.Context, c model.Container) []string {
	if c.Kind == model.ContainerDM {
		return []string{c.A, c.B}
	}
	room, err := e.store.Room(ctx, c.RoomID)
	if err != nil {
		e.log.Warnw("recipient resolution failed", "room", c.RoomID, "err", err)
		return nil
	}
	return room.MemberIdentities()
}

func (e *Engine) resolve(ctx context.Context, identityID string) *model.Profile {
	if e.resolver == nil {
		return nil
	}
	p, err := e.resolver.Resolve(ctx, identityID)
	if err != nil {
		e.log.Debugw("identity resolution failed", "identity", identityID, "err", err)
		return nil
	}
	return p
}

// publish resolves the event's channels and emits one frame per channel:
// conversation channels get the full event, dashboard channels get the
// compact delta built from the summary and that member's counter. publish is
// only ever called after the triggering write has durably committed.
func (e *Engine) publish(ev *model.Event, summary *model.LastMessage, counts map[string]int) {
	for _, ch := range channel.ChannelsFor(ev) {
		if ch.IsDashboard() && ev.Type != model.EventDashboardDelta {
			member := ch.DashboardIdentity()
			delta := &model.Event{
				Type:        model.EventDashboardDelta,
				Channel:     ch,
				Container:   ev.Container,
				LastMessage: summary,
			}
			if counts != nil {
				n := counts[member]
				delta.UnreadCount = &n
			}
			e.deliver(delta)
			continue
		}
		frame := *ev
		frame.Channel = ch
		e.deliver(&frame)
	}
}

// deliver pushes one frame to every locally subscribed session and mirrors it
// to the relay topic for the other gateway instances. A failed push is logged
// and not retried; the client re-fetches after reconnect.
func (e *Engine) deliver(frame *model.Event) {
	frame.ID = e.ids.Generate()
	frame.Origin = e.origin
	frame.Timestamp = time.Now().UTC()

	e.deliverLocal(frame)
	if e.relay != nil {
		if err := e.relay.Publish(frame); err != nil {
			e.log.Warnw("relay publish failed", "channel", frame.Channel, "err", err)
		}
	}
}

func (e *Engine) deliverLocal(frame *model.Event) {
	for _, conn := range e.registry.Subscribers(frame.Channel) {
		if err := conn.Deliver(frame); err != nil {
			e.log.Warnw("delivery dropped", "conn", conn.ID(), "channel", frame.Channel, "err", err)
		}
	}
}
