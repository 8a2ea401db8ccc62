package leader

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestElection(t *testing.T, ttl time.Duration) (*RedisLeaderElection, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLeaderElection(client, "", ttl), mr
}

func TestLeaderElection(t *testing.T) {
	election, mr := newTestElection(t, time.Minute)
	ctx := context.Background()

	became, err := election.BecomeLeader(ctx, "relay-1")
	require.NoError(t, err)
	assert.True(t, became)

	became, err = election.BecomeLeader(ctx, "relay-2")
	require.NoError(t, err)
	assert.False(t, became)

	isLeader, err := election.IsLeader(ctx, "relay-1")
	require.NoError(t, err)
	assert.True(t, isLeader)
	isLeader, err = election.IsLeader(ctx, "relay-2")
	require.NoError(t, err)
	assert.False(t, isLeader)

	// Only the holder can release.
	require.NoError(t, election.ReleaseLeadership(ctx, "relay-2"))
	assert.True(t, mr.Exists(DefaultKey))

	require.NoError(t, election.ReleaseLeadership(ctx, "relay-1"))
	assert.False(t, mr.Exists(DefaultKey))

	became, err = election.BecomeLeader(ctx, "relay-2")
	require.NoError(t, err)
	assert.True(t, became)
}

func TestLeadershipExpires(t *testing.T) {
	election, mr := newTestElection(t, time.Hour)
	ctx := context.Background()

	became, err := election.BecomeLeader(ctx, "relay-1")
	require.NoError(t, err)
	require.True(t, became)

	mr.FastForward(2 * time.Hour)

	isLeader, err := election.IsLeader(ctx, "relay-1")
	require.NoError(t, err)
	assert.False(t, isLeader)

	became, err = election.BecomeLeader(ctx, "relay-2")
	require.NoError(t, err)
	assert.True(t, became)
}

func TestLeadershipIsExtended(t *testing.T) {
	election, mr := newTestElection(t, 300*time.Millisecond)
	ctx := context.Background()

	became, err := election.BecomeLeader(ctx, "relay-1")
	require.NoError(t, err)
	require.True(t, became)

	mr.FastForward(200 * time.Millisecond)

	// The refresher runs every ttl/3 and restores the full ttl.
	require.Eventually(t, func() bool {
		return mr.TTL(DefaultKey) > 250*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond)

	mr.FastForward(200 * time.Millisecond)
	isLeader, err := election.IsLeader(ctx, "relay-1")
	require.NoError(t, err)
	assert.True(t, isLeader)
}
