package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

// SignalMessage is one directed signaling payload. Payload is never
// inspected.
type SignalMessage struct {
	SenderID string
	TargetID string
	Payload  json.RawMessage
	Kind     domain.SignalKind
	// Event names the outbound event for SignalOpaque messages.
	Event string
}

// SignalingRouter turns a signal into an outbound message for its target.
// Sender and target are not required to share a room.
type SignalingRouter struct {
	registry *ConnectionRegistry
	rooms    *RoomManager
	log      logger.Logger
}

func NewSignalingRouter(registry *ConnectionRegistry, rooms *RoomManager, log logger.Logger) *SignalingRouter {
	return &SignalingRouter{
		registry: registry,
		rooms:    rooms,
		log:      log,
	}
}

// Route returns the message to deliver, or ErrUnknownTarget when the target
// is neither held locally nor known as a member held by another instance.
func (r *SignalingRouter) Route(msg SignalMessage) (*domain.Outbound, error) {
	if !r.reachable(msg.TargetID) {
		return nil, fmt.Errorf("route %s signal to %q: %w", msg.Kind, msg.TargetID, domain.ErrUnknownTarget)
	}

	signal := msg.Payload
	if len(signal) == 0 {
		signal = json.RawMessage("null")
	}

	var (
		event   string
		payload interface{}
	)
	switch msg.Kind {
	case domain.SignalOffer:
		event = domain.EventUserJoinedAuction
		payload = domain.UserJoinedAuctionPayload{Signal: signal, UserJoined: msg.SenderID}
	case domain.SignalAnswer:
		event = domain.EventGotSignal
		payload = domain.GotSignalPayload{Signal: signal, ID: msg.SenderID}
	case domain.SignalOpaque:
		if msg.Event == "" {
			return nil, errors.New("opaque signal without event name")
		}
		return &domain.Outbound{To: msg.TargetID, Event: msg.Event, Payload: signal}, nil
	default:
		return nil, fmt.Errorf("unsupported signal kind %d", msg.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &domain.Outbound{To: msg.TargetID, Event: event, Payload: body}, nil
}

func (r *SignalingRouter) reachable(connectionID string) bool {
	if connectionID == "" {
		return false
	}
	if r.registry.IsRegistered(connectionID) {
		return true
	}
	_, ok := r.rooms.Locate(connectionID)
	return ok
}
