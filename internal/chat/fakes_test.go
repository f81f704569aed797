package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/wayfare/internal/data"
)

// fakeConn records everything pushed to it.
type fakeConn struct {
	mu     sync.Mutex
	events []Outbound
	closed bool
	err    error
}

func (f *fakeConn) Send(ev Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) named(name string) []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Outbound
	for _, ev := range f.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// memMessages mirrors the status guards of data.MessagesStore.
type memMessages struct {
	mu         sync.Mutex
	docs       map[string]*data.Message
	failInsert error
}

func newMemMessages() *memMessages {
	return &memMessages{docs: make(map[string]*data.Message)}
}

func (m *memMessages) Insert(ctx context.Context, msg *data.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return m.failInsert
	}
	if _, ok := m.docs[msg.ID]; ok {
		return data.ErrAlreadyExists
	}
	cp := *msg
	m.docs[msg.ID] = &cp
	return nil
}

func (m *memMessages) Get(ctx context.Context, id string) (*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.docs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.docs[id]
	if !ok {
		return false, data.ErrNotFound
	}
	if !msg.Status.CanAdvanceTo(data.StatusDelivered) {
		return false, nil
	}
	msg.Status = data.StatusDelivered
	msg.DeliveredAt = &at
	return true, nil
}

func (m *memMessages) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.docs[id]
	if !ok {
		return false, data.ErrNotFound
	}
	if !msg.Status.CanAdvanceTo(data.StatusRead) {
		return false, nil
	}
	msg.Status = data.StatusRead
	msg.ReadAt = &at
	return true, nil
}

func (m *memMessages) Undelivered(ctx context.Context, conversationID, receiverID string) ([]*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.Message
	for _, msg := range m.docs {
		if msg.ConversationID == conversationID && msg.ReceiverID == receiverID && msg.Status == data.StatusSent {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memMessages) status(id string) data.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.docs[id]; ok {
		return msg.Status
	}
	return ""
}

type memConversations struct {
	mu   sync.Mutex
	docs map[string]*data.Conversation
	// failRecord makes the next RecordMessage calls fail.
	failRecord int
}

func newMemConversations(convs ...*data.Conversation) *memConversations {
	m := &memConversations{docs: make(map[string]*data.Conversation)}
	for _, c := range convs {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		m.docs[c.ID] = c
	}
	return m
}

func (m *memConversations) Get(ctx context.Context, id string) (*data.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) ForParticipant(ctx context.Context, userID string) ([]*data.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.Conversation
	for _, c := range m.docs {
		if c.HasParticipant(userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConversations) RecordMessage(ctx context.Context, id string, last data.LastMessage, receiverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord > 0 {
		m.failRecord--
		return errors.New("write concern timeout")
	}
	c, ok := m.docs[id]
	if !ok {
		return data.ErrNotFound
	}
	if c.LastMessage != nil && c.LastMessage.MessageID == last.MessageID {
		return nil
	}
	c.LastMessage = &last
	c.UnreadCounts[receiverID]++
	return nil
}

func (m *memConversations) ResetUnread(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok {
		return data.ErrNotFound
	}
	c.UnreadCounts[userID] = 0
	return nil
}

func (m *memConversations) unread(id, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].UnreadCounts[userID]
}

type presenceCall struct {
	userID   string
	online   bool
	lastSeen *time.Time
}

type memPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (m *memPresence) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, presenceCall{userID: userID, online: online, lastSeen: lastSeen})
	return nil
}

type countingTx struct{ calls int }

func (c *countingTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}
