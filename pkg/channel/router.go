// Package channel maps domain events to the channels that must receive them.
package channel

import "github.com/mahaj/staff-chat/pkg/model"

// ChannelsFor is a pure function from a domain event to the set of channels
// that must receive it. The conversation channel carries the full event for
// active viewers; dashboard channels carry a bandwidth-minimized delta for
// conversation-list views.
//
//   - message.created / message.deleted: the container channel, plus the
//     dashboard of every recipient (the summary and counters changed).
//   - message.read: the container channel only; read receipts are never
//     rebroadcast to dashboards.
//   - room.memberAdded / room.memberRemoved: the room channel only.
//   - dashboard.delta: already addressed to a single dashboard.
func ChannelsFor(ev *model.Event) []model.Channel {
	switch ev.Type {
	case model.EventMessageCreated, model.EventMessageDeleted:
		channels := make([]model.Channel, 0, len(ev.Recipients)+1)
		channels = append(channels, ev.Channel)
		for _, identity := range ev.Recipients {
			channels = append(channels, model.DashboardChannel(identity))
		}
		return channels
	case model.EventMessageRead, model.EventMemberAdded, model.EventMemberRemoved:
		return []model.Channel{ev.Channel}
	case model.EventDashboardDelta:
		return []model.Channel{ev.Channel}
	default:
		return nil
	}
}
