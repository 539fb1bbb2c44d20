package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/identity"
	"github.com/mahaj/staff-chat/pkg/model"
	"github.com/mahaj/staff-chat/pkg/registry"
	"github.com/mahaj/staff-chat/pkg/store"
)

type fakeConn struct {
	id       string
	identity string
	events   []*model.Event
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) Identity() string { return c.identity }
func (c *fakeConn) Deliver(ev *model.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) ofType(t model.EventType) []*model.Event {
	var out []*model.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *store.Memory
	room   *model.Room
}

func newFixture(t *testing.T, members ...string) *fixture {
	t.Helper()
	mem := store.NewMemory()
	room := &model.Room{Name: "eng"}
	for _, id := range members {
		room.Members = append(room.Members, model.Member{Identity: id, Role: "member"})
	}
	require.NoError(t, mem.CreateRoom(context.Background(), room))

	eng, err := New(zap.NewNop().Sugar(), mem, mem, registry.New(), Options{
		Resolver: identity.NewStatic(map[string]model.Profile{
			"emp1": {Identity: "emp1", DisplayName: "Asha"},
		}),
	})
	require.NoError(t, err)
	return &fixture{engine: eng, store: mem, room: room}
}

func (f *fixture) connect(t *testing.T, identityID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: "conn-" + identityID, identity: identityID}
	require.NoError(t, f.engine.Connect(context.Background(), c))
	return c
}

func TestConnectAutoSubscribes(t *testing.T) {
	f := newFixture(t, "emp1", "emp2")
	c := f.connect(t, "emp1")

	// The connection is reachable on its dashboard and on the member room.
	f.engine.deliverLocal(&model.Event{Type: model.EventDashboardDelta, Channel: model.DashboardChannel("emp1")})
	f.engine.deliverLocal(&model.Event{Type: model.EventMessageCreated, Channel: model.RoomChannel(f.room.ID.Hex())})
	require.Len(t, c.events, 2)
}

func TestSendFansOutToRoomAndDashboards(t *testing.T) {
	f := newFixture(t, "emp1", "emp2", "emp3")
	sender := f.connect(t, "emp1")
	member := f.connect(t, "emp2")

	msg, err := f.engine.Send(context.Background(), "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "standup in 5"},
	})
	require.NoError(t, err)
	require.Equal(t, "emp1", msg.Sender)

	created := member.ofType(model.EventMessageCreated)
	require.Len(t, created, 1)
	require.Equal(t, model.RoomChannel(f.room.ID.Hex()), created[0].Channel)
	require.Equal(t, "standup in 5", created[0].Message.Payload.Text)
	require.NotNil(t, created[0].Sender)
	require.Equal(t, "Asha", created[0].Sender.DisplayName)
	require.NotZero(t, created[0].ID)

	// Each member's dashboard receives a delta with their own counter.
	deltas := member.ofType(model.EventDashboardDelta)
	require.Len(t, deltas, 1)
	require.Equal(t, model.DashboardChannel("emp2"), deltas[0].Channel)
	require.Equal(t, "standup in 5", deltas[0].LastMessage.Preview)
	require.NotNil(t, deltas[0].UnreadCount)
	require.Equal(t, 1, *deltas[0].UnreadCount)

	senderDeltas := sender.ofType(model.EventDashboardDelta)
	require.Len(t, senderDeltas, 1)
	require.Equal(t, 0, *senderDeltas[0].UnreadCount)
}

func TestSendRejectedPublishesNothing(t *testing.T) {
	f := newFixture(t, "emp1", "emp2")
	member := f.connect(t, "emp2")

	_, err := f.engine.Send(context.Background(), "emp9", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "hi"},
	})
	require.ErrorIs(t, err, model.ErrAccessDenied)
	require.Empty(t, member.events)

	_, err = f.engine.Send(context.Background(), "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText},
	})
	require.ErrorIs(t, err, model.ErrValidation)
	require.Empty(t, member.events)
}

func TestSendDM(t *testing.T) {
	f := newFixture(t, "emp1")
	a := f.connect(t, "emp1")
	b := f.connect(t, "emp2")

	require.NoError(t, f.engine.Subscribe(context.Background(), a, model.DMChannel("emp1", "emp2")))
	require.NoError(t, f.engine.Subscribe(context.Background(), b, model.DMChannel("emp1", "emp2")))

	_, err := f.engine.Send(context.Background(), "emp1", SendCommand{
		Container: "dm:emp1-emp2",
		Payload:   model.Payload{Kind: model.KindText, Text: "ping"},
	})
	require.NoError(t, err)

	require.Len(t, b.ofType(model.EventMessageCreated), 1)
	deltas := b.ofType(model.EventDashboardDelta)
	require.Len(t, deltas, 1)
	require.Equal(t, 1, *deltas[0].UnreadCount)
}

func TestSubscribeAuthorization(t *testing.T) {
	f := newFixture(t, "emp1")
	ctx := context.Background()
	c := f.connect(t, "emp2")

	// Foreign dashboard.
	err := f.engine.Subscribe(ctx, c, model.DashboardChannel("emp1"))
	require.ErrorIs(t, err, model.ErrAccessDenied)

	// Room the identity is not a member of.
	err = f.engine.Subscribe(ctx, c, model.RoomChannel(f.room.ID.Hex()))
	require.ErrorIs(t, err, model.ErrAccessDenied)

	// DM the identity is not part of.
	err = f.engine.Subscribe(ctx, c, model.DMChannel("emp1", "emp3"))
	require.ErrorIs(t, err, model.ErrAccessDenied)

	// A denied subscribe leaves no association behind.
	f.engine.deliverLocal(&model.Event{Type: model.EventMessageCreated, Channel: model.RoomChannel(f.room.ID.Hex())})
	require.Empty(t, c.events)
}

func TestMarkReadPublishesToContainerOnly(t *testing.T) {
	f := newFixture(t, "emp1", "emp2")
	ctx := context.Background()
	sender := f.connect(t, "emp1")
	reader := f.connect(t, "emp2")

	msg, err := f.engine.Send(ctx, "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "hello"},
	})
	require.NoError(t, err)
	sender.events, reader.events = nil, nil

	updated, err := f.engine.MarkRead(ctx, "emp2", MarkReadCommand{
		Container:  "room:" + f.room.ID.Hex(),
		MessageIDs: []string{msg.ID.Hex()},
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	read := sender.ofType(model.EventMessageRead)
	require.Len(t, read, 1)
	require.Equal(t, "emp2", read[0].Reader)
	require.Empty(t, sender.ofType(model.EventDashboardDelta))

	// Idempotent re-apply publishes nothing.
	sender.events = nil
	updated, err = f.engine.MarkRead(ctx, "emp2", MarkReadCommand{
		Container:  "room:" + f.room.ID.Hex(),
		MessageIDs: []string{msg.ID.Hex()},
	})
	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.Empty(t, sender.events)
}

func TestMarkReadRequiresMembership(t *testing.T) {
	f := newFixture(t, "emp1")
	_, err := f.engine.MarkRead(context.Background(), "emp9", MarkReadCommand{
		Container:  "room:" + f.room.ID.Hex(),
		MessageIDs: []string{"ffffffffffffffffffffffff"},
	})
	require.ErrorIs(t, err, model.ErrAccessDenied)
}

func TestDeleteLatestRefreshesDashboards(t *testing.T) {
	f := newFixture(t, "emp1", "emp2")
	ctx := context.Background()
	f.connect(t, "emp1")
	member := f.connect(t, "emp2")

	oldest, err := f.engine.Send(ctx, "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "first"},
	})
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "keep"},
	})
	require.NoError(t, err)
	latest, err := f.engine.Send(ctx, "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "remove"},
	})
	require.NoError(t, err)

	// Deleting a non-latest message touches no dashboard.
	member.events = nil
	require.NoError(t, f.engine.Delete(ctx, "emp1", DeleteCommand{
		Container: "room:" + f.room.ID.Hex(),
		MessageID: oldest.ID.Hex(),
	}))
	require.Len(t, member.ofType(model.EventMessageDeleted), 1)
	require.Empty(t, member.ofType(model.EventDashboardDelta))

	// Deleting the latest promotes the surviving predecessor on dashboards.
	member.events = nil
	require.NoError(t, f.engine.Delete(ctx, "emp1", DeleteCommand{
		Container: "room:" + f.room.ID.Hex(),
		MessageID: latest.ID.Hex(),
	}))

	deleted := member.ofType(model.EventMessageDeleted)
	require.Len(t, deleted, 1)
	require.Equal(t, []string{latest.ID.Hex()}, deleted[0].MessageIDs)

	deltas := member.ofType(model.EventDashboardDelta)
	require.Len(t, deltas, 1)
	require.Equal(t, "keep", deltas[0].LastMessage.Preview)
	// Counters are untouched by deletion.
	require.Nil(t, deltas[0].UnreadCount)
}

func TestMemberAddedFansOutToRoom(t *testing.T) {
	f := newFixture(t, "emp1")
	member := f.connect(t, "emp1")

	require.NoError(t, f.engine.MemberAdded(context.Background(), f.room.ID.Hex(), model.Member{Identity: "emp2", Role: "member"}))

	evs := member.ofType(model.EventMemberAdded)
	require.Len(t, evs, 1)
	require.Equal(t, "emp2", evs[0].Member.Identity)

	room, err := f.store.Room(context.Background(), f.room.ID.Hex())
	require.NoError(t, err)
	require.True(t, room.IsMember("emp2"))
	require.Equal(t, 0, room.UnreadCounts["emp2"])
}

func TestDisconnectStopsDelivery(t *testing.T) {
	f := newFixture(t, "emp1")
	c := f.connect(t, "emp1")

	f.engine.Disconnect(context.Background(), c)
	f.engine.deliverLocal(&model.Event{Type: model.EventMessageCreated, Channel: model.RoomChannel(f.room.ID.Hex())})
	require.Empty(t, c.events)
}

func TestHistoryAuthorized(t *testing.T) {
	f := newFixture(t, "emp1")
	ctx := context.Background()

	_, err := f.engine.Send(ctx, "emp1", SendCommand{
		Container: "room:" + f.room.ID.Hex(),
		Payload:   model.Payload{Kind: model.KindText, Text: "hello"},
	})
	require.NoError(t, err)

	msgs, err := f.engine.History(ctx, "emp1", "room:"+f.room.ID.Hex(), 10, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = f.engine.History(ctx, "emp9", "room:"+f.room.ID.Hex(), 10, time.Now().UTC())
	require.ErrorIs(t, err, model.ErrAccessDenied)
}
