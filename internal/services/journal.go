package services

import (
	"context"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// RoomEventJournal persists membership changes seen on the backbone so
// room history can be queried after the rooms themselves are gone.
type RoomEventJournal struct {
	repo domain.RoomEventRepository
	log  logger.Logger
}

func NewRoomEventJournal(repo domain.RoomEventRepository, log logger.Logger) *RoomEventJournal {
	return &RoomEventJournal{repo: repo, log: log}
}

// Start consumes backbone events until ctx is done.
func (j *RoomEventJournal) Start(ctx context.Context, fanOut domain.FanOut) error {
	j.log.Info("Starting room event journal")
	return RunSubscription(ctx, fanOut, func(event *domain.RelayEvent) error {
		return j.Record(ctx, event)
	}, 0, nil, j.log)
}

// Record saves membership events and ignores directed deliveries.
func (j *RoomEventJournal) Record(ctx context.Context, event *domain.RelayEvent) error {
	if event == nil || event.Member == nil {
		return nil
	}
	if event.Type != domain.MemberJoined && event.Type != domain.MemberLeft {
		return nil
	}

	record := &domain.RoomEventRecord{
		RoomID:       event.RoomID,
		ConnectionID: event.Member.ConnectionID,
		InstanceID:   event.Member.InstanceID,
		Type:         event.Type,
		OccurredAt:   event.Timestamp,
	}
	if err := j.repo.SaveRoomEvent(ctx, record); err != nil {
		j.log.Error("Failed to journal room event", "room_id", event.RoomID, "type", event.Type, "error", err)
		return err
	}

	j.log.Debug("Journaled room event", "room_id", event.RoomID, "type", event.Type, "id", record.ID)
	return nil
}

func (j *RoomEventJournal) History(ctx context.Context, roomID string, limit int) ([]*domain.RoomEventRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return j.repo.GetRoomEvents(ctx, roomID, limit)
}
