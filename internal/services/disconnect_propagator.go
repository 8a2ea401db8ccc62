package services

import (
	"context"
	"errors"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

// DisconnectPropagator removes a closed connection from every room it
// joined and produces the userDisconnected notifications for the members
// left behind.
type DisconnectPropagator struct {
	instanceID string
	registry   *ConnectionRegistry
	rooms      *RoomManager
	log        logger.Logger
}

func NewDisconnectPropagator(instanceID string, registry *ConnectionRegistry, rooms *RoomManager, log logger.Logger) *DisconnectPropagator {
	return &DisconnectPropagator{
		instanceID: instanceID,
		registry:   registry,
		rooms:      rooms,
		log:        log,
	}
}

// Disconnect handles graceful and abrupt closes alike. A connection that is
// already gone yields no results.
func (p *DisconnectPropagator) Disconnect(ctx context.Context, connectionID string) ([]*LeaveResult, []domain.Outbound) {
	rooms, err := p.registry.Unregister(connectionID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownConnection) {
			p.log.Debug("Disconnect for unregistered connection ignored", "connection_id", connectionID)
		}
		return nil, nil
	}

	var (
		results   []*LeaveResult
		outbounds []domain.Outbound
	)
	for _, roomID := range rooms {
		res, left := p.rooms.Leave(ctx, roomID, connectionID)
		if !left {
			continue
		}
		results = append(results, res)
		outbounds = append(outbounds, p.PeerLeft(res)...)
	}

	p.log.Info("Connection disconnected", "connection_id", connectionID, "rooms", len(results))
	return results, outbounds
}

// PeerLeft builds userDisconnected messages for the remaining members held
// by this instance. Other instances notify their own members when the
// departure reaches them over the backbone.
func (p *DisconnectPropagator) PeerLeft(res *LeaveResult) []domain.Outbound {
	if res == nil {
		return nil
	}
	payload := mustMarshal(domain.UserDisconnectedPayload{ID: res.Departed.ConnectionID})

	outbounds := make([]domain.Outbound, 0, len(res.Remaining))
	for _, m := range res.Remaining {
		if m.InstanceID != p.instanceID {
			continue
		}
		outbounds = append(outbounds, domain.Outbound{
			To:      m.ConnectionID,
			Event:   domain.EventUserDisconnected,
			Payload: payload,
		})
	}
	return outbounds
}

// DisconnectAll asks every other member of the room, wherever it is held,
// to close. Nothing is torn down here; each member leaves when its own
// transport closes.
func (p *DisconnectPropagator) DisconnectAll(roomID, invokerID string) []domain.Outbound {
	snapshot, _ := p.rooms.Snapshot(roomID)

	outbounds := make([]domain.Outbound, 0, len(snapshot.Members))
	for _, m := range snapshot.Members {
		if m.ConnectionID == invokerID {
			continue
		}
		outbounds = append(outbounds, domain.Outbound{
			To:    m.ConnectionID,
			Event: domain.EventManualDisconnect,
		})
	}
	return outbounds
}
