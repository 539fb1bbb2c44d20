package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mahaj/staff-chat/pkg/model"
)

// Memory implements Store and Ledger in process. It backs the package tests
// and single-node development runs where no MongoDB is configured; semantics
// mirror the Mongo implementation exactly.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]*model.Room
	messages map[string][]*model.Message // container key -> messages
	threads  map[string]*model.DMThread
	clock    func() time.Time
}

var (
	_ Store  = (*Memory)(nil)
	_ Ledger = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*model.Room),
		messages: make(map[string][]*model.Message),
		threads:  make(map[string]*model.DMThread),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Memory) CreateRoom(_ context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.ID.IsZero() {
		room.ID = primitive.NewObjectID()
	}
	now := s.clock()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.IsActive = true
	if room.UnreadCounts == nil {
		room.UnreadCounts = make(map[string]int, len(room.Members))
	}
	for _, m := range room.Members {
		if _, ok := room.UnreadCounts[m.Identity]; !ok {
			room.UnreadCounts[m.Identity] = 0
		}
	}
	s.rooms[room.ID.Hex()] = room
	return nil
}

func (s *Memory) room(roomID string) (*model.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", model.ErrNotFound, roomID)
	}
	return room, nil
}

func (s *Memory) Room(_ context.Context, roomID string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	return cloneRoom(room), nil
}

func (s *Memory) RoomsFor(_ context.Context, identity string) ([]*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Room
	for _, room := range s.rooms {
		if room.IsActive && room.IsMember(identity) {
			out = append(out, cloneRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.Timestamp
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.Timestamp
		}
		return ti.After(tj)
	})
	return out, nil
}

func (s *Memory) AddMember(_ context.Context, roomID string, m model.Member) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(m.Identity) {
		room.Members = append(room.Members, m)
		room.UnreadCounts[m.Identity] = 0
		room.UpdatedAt = s.clock()
	}
	return cloneRoom(room), nil
}

func (s *Memory) RemoveMember(_ context.Context, roomID, identity string) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	members := room.Members[:0]
	for _, m := range room.Members {
		if m.Identity != identity {
			members = append(members, m)
		}
	}
	room.Members = members
	delete(room.UnreadCounts, identity)
	room.UpdatedAt = s.clock()
	return cloneRoom(room), nil
}

func (s *Memory) Append(_ context.Context, c model.Container, sender string, p model.Payload, replyTo string) (*model.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &model.Message{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Payload:   p,
		CreatedAt: s.clock(),
	}

	switch c.Kind {
	case model.ContainerRoom:
		room, err := s.room(c.RoomID)
		if err != nil {
			return nil, err
		}
		if !room.IsMember(sender) {
			return nil, fmt.Errorf("%w: %s is not a member of room %s", model.ErrAccessDenied, sender, c.RoomID)
		}
		msg.RoomID = c.RoomID
	case model.ContainerDM:
		if !c.Participant(sender) {
			return nil, fmt.Errorf("%w: %s is not a participant of %s", model.ErrAccessDenied, sender, c.Key())
		}
		msg.Participants = []string{c.A, c.B}
	default:
		return nil, fmt.Errorf("%w: message without container", model.ErrValidation)
	}

	if replyTo != "" {
		parent := s.findMessage(replyTo)
		if parent == nil || parent.Deleted {
			return nil, fmt.Errorf("%w: reply parent %s", model.ErrNotFound, replyTo)
		}
		if parent.Container().Key() != c.Key() {
			return nil, fmt.Errorf("%w: parent %s lives in %s", model.ErrInvalidReply, replyTo, parent.Container().Key())
		}
		msg.ReplyTo = parent.ID
		msg.ReplySnap = parent.Snapshot()
	}

	s.messages[c.Key()] = append(s.messages[c.Key()], msg)
	s.setLastMessageLocked(c, msg.Summary())
	return cloneMessage(msg), nil
}

// findMessage scans every container. Parents from foreign containers must be
// found so the cross-container case fails with ErrInvalidReply, not NotFound.
func (s *Memory) findMessage(id string) *model.Message {
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID.Hex() == id {
				return m
			}
		}
	}
	return nil
}

func (s *Memory) setLastMessageLocked(c model.Container, summary *model.LastMessage) {
	if c.Kind == model.ContainerDM {
		thread := s.threadLocked(c)
		thread.LastMessage = summary
		thread.UpdatedAt = s.clock()
		return
	}
	if room, ok := s.rooms[c.RoomID]; ok {
		room.LastMessage = summary
		room.UpdatedAt = s.clock()
	}
}

func (s *Memory) threadLocked(c model.Container) *model.DMThread {
	thread, ok := s.threads[c.Key()]
	if !ok {
		thread = &model.DMThread{
			ID:           c.Key(),
			Participants: []string{c.A, c.B},
			UnreadCounts: make(map[string]int),
		}
		s.threads[c.Key()] = thread
	}
	return thread
}

func (s *Memory) MarkRead(_ context.Context, c model.Container, messageIDs []string, reader string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	updated := 0
	for _, m := range s.messages[c.Key()] {
		if _, ok := wanted[m.ID.Hex()]; !ok {
			continue
		}
		if m.Sender == reader || m.ReadByUser(reader) {
			continue
		}
		m.IsRead = true
		m.ReadBy = append(m.ReadBy, model.ReadReceipt{Reader: reader, ReadAt: s.clock()})
		updated++
	}
	return updated, nil
}

func (s *Memory) DeleteMessage(_ context.Context, c model.Container, messageID, requester string) (*model.LastMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg *model.Message
	for _, m := range s.messages[c.Key()] {
		if m.ID.Hex() == messageID && !m.Deleted {
			msg = m
			break
		}
	}
	if msg == nil {
		return nil, false, fmt.Errorf("%w: message %s", model.ErrNotFound, messageID)
	}
	if msg.Sender != requester {
		return nil, false, fmt.Errorf("%w: only the sender may delete a message", model.ErrAccessDenied)
	}
	msg.Deleted = true

	current := s.currentSummaryLocked(c)
	if current != nil && current.Timestamp.Equal(msg.CreatedAt) && current.Sender == msg.Sender {
		summary := s.recomputeLocked(c)
		s.setLastMessageLocked(c, summary)
		return summary, true, nil
	}
	return nil, false, nil
}

func (s *Memory) currentSummaryLocked(c model.Container) *model.LastMessage {
	if c.Kind == model.ContainerDM {
		return s.threadLocked(c).LastMessage
	}
	if room, ok := s.rooms[c.RoomID]; ok {
		return room.LastMessage
	}
	return nil
}

func (s *Memory) recomputeLocked(c model.Container) *model.LastMessage {
	msgs := s.messages[c.Key()]
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Deleted {
			return msgs[i].Summary()
		}
	}
	return nil
}

func (s *Memory) RecomputeLastMessage(_ context.Context, c model.Container) (*model.LastMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recomputeLocked(c), nil
}

func (s *Memory) History(_ context.Context, c model.Container, limit int64, before time.Time) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Message
	for _, m := range s.messages[c.Key()] {
		if m.Deleted {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *Memory) ReplyCount(_ context.Context, c model.Container, parentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, m := range s.messages[c.Key()] {
		if !m.Deleted && !m.ReplyTo.IsZero() && m.ReplyTo.Hex() == parentID {
			count++
		}
	}
	return count, nil
}

func (s *Memory) OnNewMessage(_ context.Context, c model.Container, sender string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Kind == model.ContainerDM {
		thread := s.threadLocked(c)
		thread.UnreadCounts[c.Other(sender)]++
		return cloneCounts(thread.UnreadCounts), nil
	}

	room, err := s.room(c.RoomID)
	if err != nil {
		return nil, err
	}
	for _, m := range room.Members {
		if m.Identity != sender {
			room.UnreadCounts[m.Identity]++
		}
	}
	return cloneCounts(room.UnreadCounts), nil
}

func (s *Memory) OnRead(_ context.Context, c model.Container, reader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Kind == model.ContainerDM {
		s.threadLocked(c).UnreadCounts[reader] = 0
		return nil
	}
	room, err := s.room(c.RoomID)
	if err != nil {
		return err
	}
	if _, ok := room.UnreadCounts[reader]; ok {
		room.UnreadCounts[reader] = 0
	}
	return nil
}

func (s *Memory) UnreadCount(_ context.Context, c model.Container, identity string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c.Kind == model.ContainerDM {
		if thread, ok := s.threads[c.Key()]; ok {
			return thread.UnreadCounts[identity], nil
		}
		return 0, nil
	}
	room, err := s.room(c.RoomID)
	if err != nil {
		return 0, err
	}
	return room.UnreadCounts[identity], nil
}

func cloneRoom(r *model.Room) *model.Room {
	out := *r
	out.Members = append([]model.Member(nil), r.Members...)
	out.UnreadCounts = cloneCounts(r.UnreadCounts)
	if r.LastMessage != nil {
		lm := *r.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.ReadBy = append([]model.ReadReceipt(nil), m.ReadBy...)
	if m.ReplySnap != nil {
		snap := *m.ReplySnap
		out.ReplySnap = &snap
	}
	return &out
}

func cloneCounts(c map[string]int) map[string]int {
	out := make(map[string]int, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
