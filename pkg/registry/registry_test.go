package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/staff-chat/pkg/model"
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

func TestRegisterWithInitialChannels(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1", identity: "emp1"}
	r.Register(c, []model.Channel{model.DashboardChannel("emp1"), model.RoomChannel("r1")})

	require.True(t, r.Subscribed("c1", model.DashboardChannel("emp1")))
	require.True(t, r.Subscribed("c1", model.RoomChannel("r1")))
	require.Len(t, r.Subscribers(model.RoomChannel("r1")), 1)
}

func TestMultipleConnectionsPerIdentity(t *testing.T) {
	r := New()
	c1 := &fakeConn{id: "c1", identity: "emp1"}
	c2 := &fakeConn{id: "c2", identity: "emp1"}
	r.Register(c1, []model.Channel{model.RoomChannel("r1")})
	r.Register(c2, []model.Channel{model.RoomChannel("r1")})

	require.Len(t, r.Connections("emp1"), 2)
	require.Len(t, r.Subscribers(model.RoomChannel("r1")), 2)

	r.Deregister("c1")
	require.Len(t, r.Connections("emp1"), 1)
	require.Len(t, r.Subscribers(model.RoomChannel("r1")), 1)
}

func TestSubscribeUnknownConnection(t *testing.T) {
	r := New()
	require.False(t, r.Subscribe("ghost", model.RoomChannel("r1")))
	require.Empty(t, r.Subscribers(model.RoomChannel("r1")))
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1", identity: "emp1"}
	r.Register(c, []model.Channel{model.RoomChannel("r1")})

	r.Unsubscribe("c1", model.RoomChannel("r1"))
	require.False(t, r.Subscribed("c1", model.RoomChannel("r1")))
	require.Empty(t, r.Subscribers(model.RoomChannel("r1")))

	// The connection itself stays registered.
	require.Len(t, r.Connections("emp1"), 1)
}

func TestDeregisterCleansAllAssociations(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1", identity: "emp1"}
	r.Register(c, []model.Channel{
		model.DashboardChannel("emp1"),
		model.RoomChannel("r1"),
		model.DMChannel("emp1", "emp2"),
	})

	r.Deregister("c1")
	require.Empty(t, r.Connections("emp1"))
	require.Empty(t, r.Subscribers(model.RoomChannel("r1")))
	require.Empty(t, r.Subscribers(model.DMChannel("emp1", "emp2")))
	require.Nil(t, r.ChannelsOf("c1"))
}

func TestChannelsOf(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1", identity: "emp1"}
	r.Register(c, []model.Channel{model.RoomChannel("r1")})
	r.Subscribe("c1", model.RoomChannel("r2"))

	require.ElementsMatch(t,
		[]model.Channel{model.RoomChannel("r1"), model.RoomChannel("r2")},
		r.ChannelsOf("c1"))
}
