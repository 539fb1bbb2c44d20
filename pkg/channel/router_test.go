package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/staff-chat/pkg/model"
)

func TestChannelsForMessageCreated(t *testing.T) {
	ev := &model.Event{
		Type:       model.EventMessageCreated,
		Channel:    model.RoomChannel("r1"),
		Recipients: []string{"emp1", "emp2", "emp3"},
	}
	got := ChannelsFor(ev)
	require.Equal(t, []model.Channel{
		model.RoomChannel("r1"),
		model.DashboardChannel("emp1"),
		model.DashboardChannel("emp2"),
		model.DashboardChannel("emp3"),
	}, got)
}

func TestChannelsForMessageDeleted(t *testing.T) {
	ev := &model.Event{
		Type:       model.EventMessageDeleted,
		Channel:    model.DMChannel("emp1", "emp2"),
		Recipients: []string{"emp1", "emp2"},
	}
	got := ChannelsFor(ev)
	require.Len(t, got, 3)
	require.Equal(t, model.DMChannel("emp1", "emp2"), got[0])
}

func TestChannelsForReadStaysOffDashboards(t *testing.T) {
	ev := &model.Event{
		Type:       model.EventMessageRead,
		Channel:    model.RoomChannel("r1"),
		Recipients: []string{"emp1", "emp2"},
	}
	require.Equal(t, []model.Channel{model.RoomChannel("r1")}, ChannelsFor(ev))
}

func TestChannelsForMembership(t *testing.T) {
	for _, typ := range []model.EventType{model.EventMemberAdded, model.EventMemberRemoved} {
		ev := &model.Event{Type: typ, Channel: model.RoomChannel("r1")}
		require.Equal(t, []model.Channel{model.RoomChannel("r1")}, ChannelsFor(ev))
	}
}

func TestChannelsForDashboardDelta(t *testing.T) {
	ev := &model.Event{Type: model.EventDashboardDelta, Channel: model.DashboardChannel("emp1")}
	require.Equal(t, []model.Channel{model.DashboardChannel("emp1")}, ChannelsFor(ev))
}

func TestChannelsForUnknownType(t *testing.T) {
	require.Nil(t, ChannelsFor(&model.Event{Type: "bogus"}))
}
