package services

import (
	"fmt"
	"sort"
	"sync"

	"auction-relay/internal/domain"
)

// ConnectionRegistry tracks the connections held by this process and the
// rooms each one has joined.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // connectionID -> joined room ids
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]map[string]struct{}),
	}
}

func (r *ConnectionRegistry) Register(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connectionID]; exists {
		return fmt.Errorf("register %s: %w", connectionID, domain.ErrDuplicateConnection)
	}
	r.conns[connectionID] = make(map[string]struct{})
	return nil
}

// Unregister removes the connection and returns the rooms it belonged to.
func (r *ConnectionRegistry) Unregister(connectionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, exists := r.conns[connectionID]
	if !exists {
		return nil, fmt.Errorf("unregister %s: %w", connectionID, domain.ErrUnknownConnection)
	}
	delete(r.conns, connectionID)
	return sortedKeys(rooms), nil
}

func (r *ConnectionRegistry) RoomsOf(connectionID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms, exists := r.conns[connectionID]
	if !exists {
		return nil, fmt.Errorf("rooms of %s: %w", connectionID, domain.ErrUnknownConnection)
	}
	return sortedKeys(rooms), nil
}

func (r *ConnectionRegistry) IsRegistered(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.conns[connectionID]
	return exists
}

// Connections returns every registered connection id in sorted order.
func (r *ConnectionRegistry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// attach and detach are only called by RoomManager while it holds the
// room lock, which keeps both sides of the membership relation in step.
func (r *ConnectionRegistry) attach(connectionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, exists := r.conns[connectionID]
	if !exists {
		return fmt.Errorf("attach %s to %s: %w", connectionID, roomID, domain.ErrUnknownConnection)
	}
	rooms[roomID] = struct{}{}
	return nil
}

func (r *ConnectionRegistry) detach(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rooms, exists := r.conns[connectionID]; exists {
		delete(rooms, roomID)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
