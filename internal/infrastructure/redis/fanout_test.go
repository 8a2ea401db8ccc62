package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFanOut(t *testing.T, instanceID string) (*RedisFanOut, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFanOut(client, instanceID, logger.NewNop()), mr
}

func member(conn, instance string) domain.Member {
	return domain.Member{ConnectionID: conn, InstanceID: instance}
}

func TestReserveEnforcesCapacity(t *testing.T) {
	f, _ := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	var roster []domain.Member
	for i := 0; i < domain.RoomCapacity; i++ {
		instance := fmt.Sprintf("relay-%d", i%2+1)
		var err error
		roster, err = f.Reserve(ctx, "A1", member(fmt.Sprintf("c%d", i), instance), domain.RoomCapacity)
		require.NoError(t, err)
	}
	require.Len(t, roster, domain.RoomCapacity)
	assert.Equal(t, member("c0", "relay-1"), roster[0])
	assert.Equal(t, member("c5", "relay-2"), roster[5])

	_, err := f.Reserve(ctx, "A1", member("late", "relay-1"), domain.RoomCapacity)
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// Members already present are not refused at capacity.
	roster, err = f.Reserve(ctx, "A1", member("c3", "relay-2"), domain.RoomCapacity)
	require.NoError(t, err)
	assert.Len(t, roster, domain.RoomCapacity)
}

func TestReserveIsIdempotent(t *testing.T) {
	f, mr := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	_, err := f.Reserve(ctx, "A1", member("x", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)
	roster, err := f.Reserve(ctx, "A1", member("x", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)

	assert.Equal(t, []domain.Member{member("x", "relay-1")}, roster)
	assert.Equal(t, []string{"A1" + membershipSep + "x"}, mustMembers(t, mr, instanceMembershipsKey("relay-1")))
}

func TestReleaseRequiresOwner(t *testing.T) {
	f, _ := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	_, err := f.Reserve(ctx, "A1", member("x", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)

	require.NoError(t, f.Release(ctx, "A1", member("x", "relay-2")))
	roster, err := f.Reserve(ctx, "A1", member("y", "relay-2"), domain.RoomCapacity)
	require.NoError(t, err)
	assert.Equal(t, []domain.Member{member("x", "relay-1"), member("y", "relay-2")}, roster)
}

func TestReleaseDeletesEmptyRoom(t *testing.T) {
	f, mr := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	_, err := f.Reserve(ctx, "A1", member("x", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)
	_, err = f.Reserve(ctx, "A1", member("y", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)

	require.NoError(t, f.Release(ctx, "A1", member("x", "relay-1")))
	assert.True(t, mr.Exists(roomMembersKey("A1")))

	require.NoError(t, f.Release(ctx, "A1", member("y", "relay-1")))
	assert.False(t, mr.Exists(roomMembersKey("A1")))
	assert.False(t, mr.Exists(roomOrderKey("A1")))
	assert.False(t, mr.Exists(roomSeqKey("A1")))
	assert.False(t, mr.Exists(instanceMembershipsKey("relay-1")))
}

func TestMemberships(t *testing.T) {
	f, _ := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	for _, rm := range []struct{ room, conn, instance string }{
		{"A1", "x", "relay-1"},
		{"A1", "y", "relay-2"},
		{"room:with:colons", "z", "relay-1"},
	} {
		_, err := f.Reserve(ctx, rm.room, member(rm.conn, rm.instance), domain.RoomCapacity)
		require.NoError(t, err)
	}

	owned, err := f.Memberships(ctx, "relay-1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A1": {"x"}, "room:with:colons": {"z"}}, owned)

	owned, err = f.Memberships(ctx, "relay-9")
	require.NoError(t, err)
	assert.NotNil(t, owned)
	assert.Empty(t, owned)
}

func TestHeartbeatAndEvict(t *testing.T) {
	f, mr := newTestFanOut(t, "relay-1")
	ctx := context.Background()

	require.NoError(t, f.Heartbeat(ctx, "relay-1", time.Minute))
	require.NoError(t, f.Heartbeat(ctx, "relay-2", 10*time.Second))
	for _, rm := range []struct{ room, conn, instance string }{
		{"A1", "x", "relay-2"},
		{"A1", "y", "relay-1"},
		{"A2", "z", "relay-2"},
	} {
		_, err := f.Reserve(ctx, rm.room, member(rm.conn, rm.instance), domain.RoomCapacity)
		require.NoError(t, err)
	}

	dead, err := f.DeadInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)

	mr.FastForward(20 * time.Second)
	dead, err = f.DeadInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"relay-2"}, dead)

	evicted, err := f.Evict(ctx, "relay-2")
	require.NoError(t, err)
	assert.Equal(t, map[string][]domain.Member{
		"A1": {member("x", "relay-2")},
		"A2": {member("z", "relay-2")},
	}, evicted)

	roster, err := f.Reserve(ctx, "A1", member("y", "relay-1"), domain.RoomCapacity)
	require.NoError(t, err)
	assert.Equal(t, []domain.Member{member("y", "relay-1")}, roster)
	assert.False(t, mr.Exists(roomMembersKey("A2")))

	dead, err = f.DeadInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestPublishSubscribe(t *testing.T) {
	f, _ := newTestFanOut(t, "relay-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *domain.RelayEvent, 64)
	done := make(chan error, 1)
	go func() {
		done <- f.Subscribe(ctx, func(event *domain.RelayEvent) error {
			received <- event
			return nil
		})
	}()

	joined := member("x", "relay-2")
	require.Eventually(t, func() bool {
		// Published until the subscription is live.
		_ = f.Publish(context.Background(), &domain.RelayEvent{
			Type: domain.MemberJoined, Origin: "relay-2", RoomID: "A1", Member: &joined,
		})
		return len(received) > 0
	}, 2*time.Second, 20*time.Millisecond)

	event := <-received
	assert.Equal(t, domain.MemberJoined, event.Type)
	assert.Equal(t, "A1", event.RoomID)
	assert.Equal(t, joined, *event.Member)

	// Directed deliveries for this instance arrive too.
	owner := member("c", "relay-1")
	require.NoError(t, f.Publish(context.Background(), &domain.RelayEvent{
		Type: domain.Deliver, Origin: "relay-2", Member: &owner,
		Message: &domain.Outbound{To: "c", Event: domain.EventManualDisconnect},
	}))
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-received:
				if ev.Type == domain.Deliver {
					return ev.Message.To == "c"
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func mustMembers(t *testing.T, mr *miniredis.Miniredis, key string) []string {
	t.Helper()
	members, err := mr.Members(key)
	require.NoError(t, err)
	return members
}
