package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// RedisFanOut shares room rosters and relay events between instances.
type RedisFanOut struct {
	client     *redis.Client
	instanceID string
	log        logger.Logger
}

func NewRedisFanOut(client *redis.Client, instanceID string, log logger.Logger) *RedisFanOut {
	return &RedisFanOut{
		client:     client,
		instanceID: instanceID,
		log:        log,
	}
}

func (f *RedisFanOut) Reserve(ctx context.Context, roomID string, member domain.Member, capacity int) ([]domain.Member, error) {
	keys := []string{
		roomMembersKey(roomID),
		roomOrderKey(roomID),
		roomSeqKey(roomID),
		instanceMembershipsKey(member.InstanceID),
	}

	result, err := reserveScript.Run(ctx, f.client, keys,
		member.ConnectionID, member.InstanceID, strconv.Itoa(capacity), roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reserve %s: %v", domain.ErrBackboneUnavailable, roomID, err)
	}

	return parseReserveResult(result)
}

func parseReserveResult(result interface{}) ([]domain.Member, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("unexpected reserve result %v", result)
	}
	if status, _ := values[0].(int64); status == 0 {
		return nil, domain.ErrRoomFull
	}

	pairs := values[1:]
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("unexpected reserve roster length %d", len(pairs))
	}
	roster := make([]domain.Member, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		conn, _ := pairs[i].(string)
		owner, _ := pairs[i+1].(string)
		roster = append(roster, domain.Member{ConnectionID: conn, InstanceID: owner})
	}
	return roster, nil
}

func (f *RedisFanOut) Release(ctx context.Context, roomID string, member domain.Member) error {
	keys := []string{
		roomMembersKey(roomID),
		roomOrderKey(roomID),
		roomSeqKey(roomID),
		instanceMembershipsKey(member.InstanceID),
	}
	if err := releaseScript.Run(ctx, f.client, keys, member.ConnectionID, member.InstanceID, roomID).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %v", domain.ErrBackboneUnavailable, roomID, err)
	}
	return nil
}

// Memberships reads the per-instance index maintained by the reserve and
// release scripts.
func (f *RedisFanOut) Memberships(ctx context.Context, instanceID string) (map[string][]string, error) {
	entries, err := f.client.SMembers(ctx, instanceMembershipsKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: memberships %s: %v", domain.ErrBackboneUnavailable, instanceID, err)
	}

	owned := make(map[string][]string)
	for _, entry := range entries {
		roomID, connectionID, ok := splitMembership(entry)
		if !ok {
			f.log.Warn("Skipping malformed membership entry", "instance_id", instanceID, "entry", entry)
			continue
		}
		owned[roomID] = append(owned[roomID], connectionID)
	}
	return owned, nil
}

func (f *RedisFanOut) Publish(ctx context.Context, event *domain.RelayEvent) error {
	channel, err := channelFor(event)
	if err != nil {
		return err
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrBackboneUnavailable, channel, err)
	}
	return nil
}

func (f *RedisFanOut) Subscribe(ctx context.Context, handler domain.RelayEventHandler) error {
	pubsub := f.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	if err := pubsub.Subscribe(ctx, instanceChannel(f.instanceID)); err != nil {
		return fmt.Errorf("%w: subscribe: %v", domain.ErrBackboneUnavailable, err)
	}
	// Wait for the subscription to be confirmed so a broken backbone is
	// reported to the caller instead of silently producing nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe: %v", domain.ErrBackboneUnavailable, err)
	}

	ch := pubsub.Channel()

	f.log.Info("Subscribed to relay events", "instance_id", f.instanceID)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: subscription closed", domain.ErrBackboneUnavailable)
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				f.log.Error("Failed to parse event", "channel", msg.Channel, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				f.log.Error("Failed to handle event", "type", event.Type, "origin", event.Origin, "error", err)
			}

		case <-ctx.Done():
			f.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

// Heartbeat marks instanceID alive for ttl.
func (f *RedisFanOut) Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) error {
	pipe := f.client.TxPipeline()
	pipe.Set(ctx, instanceAliveKey(instanceID), time.Now().Unix(), ttl)
	pipe.SAdd(ctx, instancesKey, instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: heartbeat: %v", domain.ErrBackboneUnavailable, err)
	}
	return nil
}

// DeadInstances lists known instances whose heartbeat has expired.
func (f *RedisFanOut) DeadInstances(ctx context.Context) ([]string, error) {
	instances, err := f.client.SMembers(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list instances: %v", domain.ErrBackboneUnavailable, err)
	}

	var dead []string
	for _, id := range instances {
		n, err := f.client.Exists(ctx, instanceAliveKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: check %s: %v", domain.ErrBackboneUnavailable, id, err)
		}
		if n == 0 {
			dead = append(dead, id)
		}
	}
	return dead, nil
}

// Evict drops every roster entry owned by instanceID.
func (f *RedisFanOut) Evict(ctx context.Context, instanceID string) (map[string][]domain.Member, error) {
	entries, err := f.client.SMembers(ctx, instanceMembershipsKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: evict %s: %v", domain.ErrBackboneUnavailable, instanceID, err)
	}

	evicted := make(map[string][]domain.Member)
	for _, entry := range entries {
		roomID, connectionID, ok := splitMembership(entry)
		if !ok {
			f.log.Warn("Skipping malformed membership entry", "instance_id", instanceID, "entry", entry)
			continue
		}
		member := domain.Member{ConnectionID: connectionID, InstanceID: instanceID}
		if err := f.Release(ctx, roomID, member); err != nil {
			return evicted, err
		}
		evicted[roomID] = append(evicted[roomID], member)
	}

	pipe := f.client.TxPipeline()
	pipe.Del(ctx, instanceMembershipsKey(instanceID))
	pipe.SRem(ctx, instancesKey, instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return evicted, fmt.Errorf("%w: evict %s: %v", domain.ErrBackboneUnavailable, instanceID, err)
	}
	return evicted, nil
}

func (f *RedisFanOut) Close() error {
	return f.client.Close()
}

var (
	_ domain.FanOut   = (*RedisFanOut)(nil)
	_ domain.Presence = (*RedisFanOut)(nil)
)
