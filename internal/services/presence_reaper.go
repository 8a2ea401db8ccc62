package services

import (
	"context"
	"time"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"

	"github.com/robfig/cron/v3"
)

// PresenceReaper keeps this instance's heartbeat fresh and, while leader,
// evicts the roster entries of instances whose heartbeat expired. The
// evictions are published as member_left on behalf of the dead instance so
// every surviving instance, this one included, notifies its members.
type PresenceReaper struct {
	cron       *cron.Cron
	resync     Resyncer
	schedule   string
	presence   domain.Presence
	leader     domain.LeaderElection
	fanOut     domain.FanOut
	instanceID string
	ttl        time.Duration
	log        logger.Logger
}

// Resyncer repairs this instance's shared roster entries.
type Resyncer interface {
	Resync(ctx context.Context) error
}

func NewPresenceReaper(presence domain.Presence, leader domain.LeaderElection, fanOut domain.FanOut,
	instanceID, schedule string, ttl time.Duration, log logger.Logger) *PresenceReaper {
	return &PresenceReaper{
		cron:       cron.New(cron.WithSeconds()),
		schedule:   schedule,
		presence:   presence,
		leader:     leader,
		fanOut:     fanOut,
		instanceID: instanceID,
		ttl:        ttl,
		log:        log,
	}
}

// SetResync makes every successful heartbeat also repair the shared
// roster entries owned by this instance.
func (r *PresenceReaper) SetResync(resync Resyncer) {
	r.resync = resync
}

func (r *PresenceReaper) Start(ctx context.Context) error {
	r.log.Info("Starting presence reaper", "schedule", r.schedule)

	// Announce liveness before the first tick.
	if err := r.presence.Heartbeat(ctx, r.instanceID, r.ttl); err != nil {
		r.log.Warn("Initial heartbeat failed", "error", err)
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.tick(ctx)
	}); err != nil {
		return err
	}

	r.cron.Start()
	return nil
}

func (r *PresenceReaper) Stop() error {
	r.log.Info("Stopping presence reaper")
	<-r.cron.Stop().Done()
	return nil
}

func (r *PresenceReaper) tick(ctx context.Context) {
	if err := r.presence.Heartbeat(ctx, r.instanceID, r.ttl); err != nil {
		r.log.Warn("Heartbeat failed", "error", err)
		return
	}

	if r.resync != nil {
		if err := r.resync.Resync(ctx); err != nil {
			r.log.Warn("Shared roster repair incomplete", "error", err)
		}
	}

	isLeader, err := r.leader.IsLeader(ctx, r.instanceID)
	if err != nil {
		r.log.Warn("Failed to check leadership", "error", err)
		return
	}
	if !isLeader {
		became, err := r.leader.BecomeLeader(ctx, r.instanceID)
		if err != nil || !became {
			return
		}
		r.log.Info("Became presence reaper leader")
	}

	r.reap(ctx)
}

func (r *PresenceReaper) reap(ctx context.Context) {
	dead, err := r.presence.DeadInstances(ctx)
	if err != nil {
		r.log.Warn("Failed to list dead instances", "error", err)
		return
	}

	for _, instanceID := range dead {
		if instanceID == r.instanceID {
			continue
		}

		evicted, err := r.presence.Evict(ctx, instanceID)
		if err != nil {
			r.log.Error("Failed to evict instance", "dead_instance_id", instanceID, "error", err)
		}

		count := 0
		for roomID, members := range evicted {
			for _, m := range members {
				member := m
				event := &domain.RelayEvent{
					Type:      domain.MemberLeft,
					Origin:    instanceID,
					RoomID:    roomID,
					Member:    &member,
					Timestamp: time.Now().UTC(),
				}
				if err := r.fanOut.Publish(ctx, event); err != nil {
					r.log.Warn("Failed to publish eviction", "room_id", roomID,
						"connection_id", m.ConnectionID, "error", err)
				}
				count++
			}
		}
		r.log.Info("Reaped dead instance", "dead_instance_id", instanceID, "members", count)
	}
}
