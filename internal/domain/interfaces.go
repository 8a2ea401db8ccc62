package domain

import (
	"context"
	"time"
)

// FanOut makes room-scoped events visible to every relay instance. The
// local implementation is a no-op; the backbone implementation shares
// rosters and events through redis.
type FanOut interface {
	// Reserve atomically claims a slot for member in roomID across all
	// instances and returns the shared roster including member. It
	// returns ErrRoomFull when the shared roster is already at capacity,
	// and a nil roster when there is no shared roster to consult.
	Reserve(ctx context.Context, roomID string, member Member, capacity int) ([]Member, error)
	Release(ctx context.Context, roomID string, member Member) error
	// Memberships returns the connection ids the shared roster attributes
	// to instanceID, keyed by room id. A nil map means there is no shared
	// roster.
	Memberships(ctx context.Context, instanceID string) (map[string][]string, error)
	Publish(ctx context.Context, event *RelayEvent) error
	// Subscribe blocks, invoking handler for events addressed to this
	// instance or to any room, until ctx is done.
	Subscribe(ctx context.Context, handler RelayEventHandler) error
	Close() error
}

type RelayEventHandler func(event *RelayEvent) error

// ConnectionSender writes outbound messages to a locally held transport.
type ConnectionSender interface {
	Send(connectionID string, message *Outbound) error
}

// Presence tracks instance liveness on the backbone.
type Presence interface {
	Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) error
	DeadInstances(ctx context.Context) ([]string, error)
	// Evict removes every roster entry owned by instanceID and returns
	// the removed memberships keyed by room id.
	Evict(ctx context.Context, instanceID string) (map[string][]Member, error)
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Repository interfaces
type RoomEventRepository interface {
	SaveRoomEvent(ctx context.Context, record *RoomEventRecord) error
	GetRoomEvents(ctx context.Context, roomID string, limit int) ([]*RoomEventRecord, error)
}
