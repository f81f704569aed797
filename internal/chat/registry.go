package chat

import (
	"errors"
	"sync"
)

// ErrOffline is returned when pushing to a user with no registered connection.
var ErrOffline = errors.New("user not connected")

// Sender is the registry's view of a live connection.
type Sender interface {
	Send(Outbound) error
	Close() error
}

// Registry maps connected user ids to their connection. A user has at most
// one entry; registering again replaces the previous connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Sender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Sender)}
}

// Register makes s the connection of userID and returns the connection it
// replaced, if any.
func (r *Registry) Register(userID string, s Sender) Sender {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = s
	return prev
}

// Unregister removes userID only while s is still its registered connection.
// It reports whether an entry was removed.
func (r *Registry) Unregister(userID string, s Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[userID]; ok && cur == s {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Lookup returns the connection of userID.
func (r *Registry) Lookup(userID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.conns[userID]
	return s, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// SendToUser pushes ev to the connection of userID. A connection that fails
// the send is closed; its transport then disconnects it.
func (r *Registry) SendToUser(userID string, ev Outbound) error {
	s, ok := r.Lookup(userID)
	if !ok {
		return ErrOffline
	}
	if err := s.Send(ev); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Len is the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
