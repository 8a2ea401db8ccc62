package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

// JoinResult describes a successful join. Roster is what the joining
// connection receives; Existing are the members that a new peer arrived
// in front of.
type JoinResult struct {
	RoomID        string
	Member        domain.Member
	Roster        []string
	Existing      []domain.Member
	AlreadyMember bool
}

// LeaveResult describes a removal from a room.
type LeaveResult struct {
	RoomID    string
	Departed  domain.Member
	Remaining []domain.Member
}

type room struct {
	mu      sync.Mutex
	id      string
	members []domain.Member // join order
	dropped bool
}

func (r *room) indexOf(connectionID string) int {
	for i, m := range r.members {
		if m.ConnectionID == connectionID {
			return i
		}
	}
	return -1
}

func (r *room) others(connectionID string) []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		if m.ConnectionID != connectionID {
			out = append(out, m)
		}
	}
	return out
}

// reconcile replaces the remote part of the view with the shared roster
// while keeping every member held by this instance.
func (r *room) reconcile(shared []domain.Member, instanceID string) {
	local := make(map[string]domain.Member)
	for _, m := range r.members {
		if m.InstanceID == instanceID {
			local[m.ConnectionID] = m
		}
	}

	merged := make([]domain.Member, 0, len(shared)+len(local))
	for _, m := range shared {
		if m.InstanceID != instanceID {
			merged = append(merged, m)
			continue
		}
		if lm, ok := local[m.ConnectionID]; ok {
			merged = append(merged, lm)
			delete(local, m.ConnectionID)
		}
	}
	for _, m := range r.members {
		if _, ok := local[m.ConnectionID]; ok {
			merged = append(merged, m)
		}
	}
	r.members = merged
}

// RoomManager owns this process's view of every room: the members held
// locally plus those held by other instances, as learned from the
// backbone. A room exists only while it has members.
type RoomManager struct {
	instanceID string
	registry   *ConnectionRegistry
	fanOut     domain.FanOut
	log        logger.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func NewRoomManager(instanceID string, registry *ConnectionRegistry, fanOut domain.FanOut, log logger.Logger) *RoomManager {
	return &RoomManager{
		instanceID: instanceID,
		registry:   registry,
		fanOut:     fanOut,
		log:        log,
		rooms:      make(map[string]*room),
	}
}

// lockRoom returns the room locked, creating it when create is set.
func (m *RoomManager) lockRoom(roomID string, create bool) *room {
	for {
		m.mu.Lock()
		r, exists := m.rooms[roomID]
		if !exists {
			if !create {
				m.mu.Unlock()
				return nil
			}
			r = &room{id: roomID}
			m.rooms[roomID] = r
		}
		m.mu.Unlock()

		r.mu.Lock()
		if !r.dropped {
			return r
		}
		// Emptied and discarded between lookup and lock.
		r.mu.Unlock()
	}
}

// dropIfEmpty must be called with r.mu held.
func (m *RoomManager) dropIfEmpty(r *room) {
	if len(r.members) > 0 {
		return
	}
	r.dropped = true
	m.mu.Lock()
	if current, ok := m.rooms[r.id]; ok && current == r {
		delete(m.rooms, r.id)
	}
	m.mu.Unlock()
}

func (m *RoomManager) Join(ctx context.Context, roomID, connectionID string) (*JoinResult, error) {
	if !m.registry.IsRegistered(connectionID) {
		return nil, domain.ErrUnknownConnection
	}

	r := m.lockRoom(roomID, true)
	defer r.mu.Unlock()

	self := domain.Member{ConnectionID: connectionID, InstanceID: m.instanceID}

	if r.indexOf(connectionID) >= 0 {
		existing := r.others(connectionID)
		return &JoinResult{
			RoomID:        roomID,
			Member:        self,
			Roster:        memberIDs(existing),
			Existing:      existing,
			AlreadyMember: true,
		}, nil
	}

	shared, err := m.fanOut.Reserve(ctx, roomID, self, domain.RoomCapacity)
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		m.dropIfEmpty(r)
		return nil, domain.ErrRoomFull
	case err != nil:
		m.log.Warn("Backbone reservation failed, using local roster",
			"room_id", roomID, "connection_id", connectionID, "error", err)
		shared = nil
	case shared != nil:
		r.reconcile(shared, m.instanceID)
	}
	reserved := err == nil && shared != nil

	if len(r.members) >= domain.RoomCapacity {
		if reserved {
			m.release(ctx, roomID, self)
		}
		m.dropIfEmpty(r)
		return nil, domain.ErrRoomFull
	}

	if err := m.registry.attach(connectionID, roomID); err != nil {
		if reserved {
			m.release(ctx, roomID, self)
		}
		m.dropIfEmpty(r)
		return nil, err
	}

	existing := r.others(connectionID)
	r.members = append(r.members, self)

	return &JoinResult{
		RoomID:   roomID,
		Member:   self,
		Roster:   memberIDs(existing),
		Existing: existing,
	}, nil
}

// Leave removes a local connection from a room. It reports false when the
// connection was not a member.
func (m *RoomManager) Leave(ctx context.Context, roomID, connectionID string) (*LeaveResult, bool) {
	r := m.lockRoom(roomID, false)
	if r == nil {
		m.registry.detach(connectionID, roomID)
		return nil, false
	}
	defer r.mu.Unlock()

	idx := r.indexOf(connectionID)
	if idx < 0 {
		m.registry.detach(connectionID, roomID)
		m.dropIfEmpty(r)
		return nil, false
	}

	departed := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	m.registry.detach(connectionID, roomID)
	if departed.InstanceID == m.instanceID {
		m.release(ctx, roomID, departed)
	}

	remaining := append([]domain.Member(nil), r.members...)
	m.dropIfEmpty(r)

	return &LeaveResult{RoomID: roomID, Departed: departed, Remaining: remaining}, true
}

// ApplyRemoteJoin mirrors a join observed on another instance. Duplicate
// and self-originated events are ignored.
func (m *RoomManager) ApplyRemoteJoin(roomID string, member domain.Member) bool {
	if member.InstanceID == m.instanceID {
		return false
	}

	r := m.lockRoom(roomID, true)
	defer r.mu.Unlock()

	if r.indexOf(member.ConnectionID) >= 0 {
		return false
	}
	if len(r.members) >= domain.RoomCapacity {
		m.log.Warn("Ignoring remote join beyond capacity",
			"room_id", roomID, "connection_id", member.ConnectionID, "instance_id", member.InstanceID)
		m.dropIfEmpty(r)
		return false
	}
	r.members = append(r.members, member)
	return true
}

// ApplyRemoteLeave mirrors a departure observed on another instance.
// Members held by this instance are never removed this way.
func (m *RoomManager) ApplyRemoteLeave(roomID, connectionID string) (*LeaveResult, bool) {
	r := m.lockRoom(roomID, false)
	if r == nil {
		return nil, false
	}
	defer r.mu.Unlock()

	idx := r.indexOf(connectionID)
	if idx < 0 || r.members[idx].InstanceID == m.instanceID {
		return nil, false
	}

	departed := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	remaining := append([]domain.Member(nil), r.members...)
	m.dropIfEmpty(r)

	return &LeaveResult{RoomID: roomID, Departed: departed, Remaining: remaining}, true
}

func (m *RoomManager) RosterExcluding(roomID, connectionID string) []string {
	r := m.lockRoom(roomID, false)
	if r == nil {
		return []string{}
	}
	defer r.mu.Unlock()
	return memberIDs(r.others(connectionID))
}

func (m *RoomManager) Snapshot(roomID string) (domain.RoomSnapshot, bool) {
	r := m.lockRoom(roomID, false)
	if r == nil {
		return domain.RoomSnapshot{RoomID: roomID, Members: []domain.Member{}}, false
	}
	defer r.mu.Unlock()
	return domain.RoomSnapshot{
		RoomID:  roomID,
		Members: append([]domain.Member(nil), r.members...),
	}, true
}

// Locate finds the member with the given connection id in any room view.
func (m *RoomManager) Locate(connectionID string) (domain.Member, bool) {
	for _, roomID := range m.Rooms() {
		r := m.lockRoom(roomID, false)
		if r == nil {
			continue
		}
		idx := r.indexOf(connectionID)
		var found domain.Member
		if idx >= 0 {
			found = r.members[idx]
		}
		r.mu.Unlock()
		if idx >= 0 {
			return found, true
		}
	}
	return domain.Member{}, false
}

func (m *RoomManager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close discards every room view.
func (m *RoomManager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.dropped = true
		r.members = nil
		r.mu.Unlock()
	}
}

// Resync repairs the shared roster entries owned by this instance after
// changes that could not be written while the backbone was unreachable.
// owned is what the shared roster attributes to this instance. Entries no
// longer held here are released; held members missing from it are
// reserved again. Both lists are returned so the caller can announce them.
func (m *RoomManager) Resync(ctx context.Context, owned map[string][]string) (released, restored []RoomMembership, err error) {
	roomIDs := make(map[string]struct{}, len(owned))
	for roomID := range owned {
		roomIDs[roomID] = struct{}{}
	}
	for _, roomID := range m.Rooms() {
		roomIDs[roomID] = struct{}{}
	}

	for _, roomID := range sortedKeys(roomIDs) {
		rel, res, err := m.resyncRoom(ctx, roomID, owned[roomID])
		released = append(released, rel...)
		restored = append(restored, res...)
		if err != nil {
			return released, restored, err
		}
	}
	return released, restored, nil
}

// RoomMembership names one member of one room.
type RoomMembership struct {
	RoomID string
	Member domain.Member
}

func (m *RoomManager) resyncRoom(ctx context.Context, roomID string, claimed []string) (released, restored []RoomMembership, err error) {
	r := m.lockRoom(roomID, false)
	if r != nil {
		defer r.mu.Unlock()
	}

	var held []domain.Member
	if r != nil {
		for _, member := range r.members {
			if member.InstanceID == m.instanceID {
				held = append(held, member)
			}
		}
	}

	claimedSet := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		claimedSet[id] = struct{}{}
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, member := range held {
		heldSet[member.ConnectionID] = struct{}{}
	}

	for _, id := range claimed {
		if _, ok := heldSet[id]; ok {
			continue
		}
		stale := domain.Member{ConnectionID: id, InstanceID: m.instanceID}
		if err := m.fanOut.Release(ctx, roomID, stale); err != nil {
			return released, restored, err
		}
		released = append(released, RoomMembership{RoomID: roomID, Member: stale})
	}

	for _, member := range held {
		if _, ok := claimedSet[member.ConnectionID]; ok {
			continue
		}
		shared, err := m.fanOut.Reserve(ctx, roomID, member, domain.RoomCapacity)
		switch {
		case errors.Is(err, domain.ErrRoomFull):
			// Filled up elsewhere during the outage; the member stays
			// visible here only.
			m.log.Warn("Cannot restore member into full shared roster",
				"room_id", roomID, "connection_id", member.ConnectionID)
			continue
		case err != nil:
			return released, restored, err
		case shared != nil:
			r.reconcile(shared, m.instanceID)
		}
		restored = append(restored, RoomMembership{RoomID: roomID, Member: member})
	}

	if r != nil {
		m.dropIfEmpty(r)
	}
	return released, restored, nil
}

func (m *RoomManager) release(ctx context.Context, roomID string, member domain.Member) {
	if err := m.fanOut.Release(ctx, roomID, member); err != nil {
		m.log.Warn("Failed to release backbone reservation",
			"room_id", roomID, "connection_id", member.ConnectionID, "error", err)
	}
}

func memberIDs(members []domain.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ConnectionID)
	}
	return ids
}
