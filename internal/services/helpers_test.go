package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"auction-relay/internal/domain"
	"auction-relay/internal/infrastructure/fanout"
	"auction-relay/pkg/logger"

	"github.com/stretchr/testify/require"
)

// recordingSender captures everything a relay sends to local connections.
type recordingSender struct {
	mu   sync.Mutex
	sent []domain.Outbound
}

func (s *recordingSender) Send(connectionID string, message *domain.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, *message)
	return nil
}

func (s *recordingSender) messagesFor(connectionID, event string) []domain.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Outbound
	for _, m := range s.sent {
		if m.To == connectionID && m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// memoryBackbone stands in for redis: one shared roster per room plus
// synchronous delivery of published events to the other instances.
type memoryBackbone struct {
	mu       sync.Mutex
	rosters  map[string][]domain.Member
	handlers map[string]domain.RelayEventHandler
	down     bool
}

func newMemoryBackbone() *memoryBackbone {
	return &memoryBackbone{
		rosters:  make(map[string][]domain.Member),
		handlers: make(map[string]domain.RelayEventHandler),
	}
}

func (b *memoryBackbone) attach(instanceID string, handler domain.RelayEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[instanceID] = handler
}

func (b *memoryBackbone) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *memoryBackbone) roster(roomID string) []domain.Member {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Member(nil), b.rosters[roomID]...)
}

type memoryFanOut struct {
	b          *memoryBackbone
	instanceID string
}

func (b *memoryBackbone) fanOut(instanceID string) *memoryFanOut {
	return &memoryFanOut{b: b, instanceID: instanceID}
}

func (f *memoryFanOut) Reserve(ctx context.Context, roomID string, member domain.Member, capacity int) ([]domain.Member, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if f.b.down {
		return nil, domain.ErrBackboneUnavailable
	}
	roster := f.b.rosters[roomID]
	for _, m := range roster {
		if m.ConnectionID == member.ConnectionID {
			return append([]domain.Member(nil), roster...), nil
		}
	}
	if len(roster) >= capacity {
		return nil, domain.ErrRoomFull
	}
	roster = append(roster, member)
	f.b.rosters[roomID] = roster
	return append([]domain.Member(nil), roster...), nil
}

func (f *memoryFanOut) Release(ctx context.Context, roomID string, member domain.Member) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if f.b.down {
		return domain.ErrBackboneUnavailable
	}
	roster := f.b.rosters[roomID]
	for i, m := range roster {
		if m.ConnectionID == member.ConnectionID && m.InstanceID == member.InstanceID {
			roster = append(roster[:i], roster[i+1:]...)
			break
		}
	}
	if len(roster) == 0 {
		delete(f.b.rosters, roomID)
	} else {
		f.b.rosters[roomID] = roster
	}
	return nil
}

func (f *memoryFanOut) Memberships(ctx context.Context, instanceID string) (map[string][]string, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if f.b.down {
		return nil, domain.ErrBackboneUnavailable
	}
	owned := make(map[string][]string)
	for roomID, roster := range f.b.rosters {
		for _, m := range roster {
			if m.InstanceID == instanceID {
				owned[roomID] = append(owned[roomID], m.ConnectionID)
			}
		}
	}
	return owned, nil
}

func (f *memoryFanOut) Publish(ctx context.Context, event *domain.RelayEvent) error {
	f.b.mu.Lock()
	if f.b.down {
		f.b.mu.Unlock()
		return domain.ErrBackboneUnavailable
	}
	var targets []domain.RelayEventHandler
	for instanceID, h := range f.b.handlers {
		if event.Type == domain.Deliver {
			if event.Member != nil && event.Member.InstanceID == instanceID {
				targets = append(targets, h)
			}
			continue
		}
		targets = append(targets, h)
	}
	f.b.mu.Unlock()

	// Round-trip through the wire encoding like the real backbone.
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, h := range targets {
		var decoded domain.RelayEvent
		if err := json.Unmarshal(body, &decoded); err != nil {
			return err
		}
		if err := h(&decoded); err != nil {
			return err
		}
	}
	return nil
}

func (f *memoryFanOut) Subscribe(ctx context.Context, handler domain.RelayEventHandler) error {
	f.b.attach(f.instanceID, handler)
	<-ctx.Done()
	return ctx.Err()
}

func (f *memoryFanOut) Close() error {
	return nil
}

func newLocalRelay(t *testing.T) (*Relay, *recordingSender) {
	t.Helper()
	relay := NewRelay("relay-1", fanout.NewLocalFanOut(), nil, logger.NewNop())
	sender := &recordingSender{}
	relay.SetSender(sender)
	return relay, sender
}

func newClusteredRelay(t *testing.T, b *memoryBackbone, instanceID string) (*Relay, *recordingSender) {
	t.Helper()
	relay := NewRelay(instanceID, b.fanOut(instanceID), nil, logger.NewNop())
	sender := &recordingSender{}
	relay.SetSender(sender)
	b.attach(instanceID, relay.HandleRemoteEvent)
	return relay, sender
}

func connect(t *testing.T, relay *Relay, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, relay.Connect(context.Background(), id))
	}
}

func decodeRoster(t *testing.T, out domain.Outbound) []string {
	t.Helper()
	var roster []string
	require.NoError(t, json.Unmarshal(out.Payload, &roster))
	return roster
}
