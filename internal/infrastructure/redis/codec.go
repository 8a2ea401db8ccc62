package redis

import (
	"encoding/json"
	"fmt"

	"auction-relay/internal/domain"
)

func encodeEvent(event *domain.RelayEvent) ([]byte, error) {
	return json.Marshal(event)
}

func decodeEvent(payload string) (*domain.RelayEvent, error) {
	var event domain.RelayEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("invalid relay event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("invalid relay event: missing type")
	}
	return &event, nil
}

// channelFor picks the channel an event travels on: directed deliveries go
// to the owning instance, membership changes to the room.
func channelFor(event *domain.RelayEvent) (string, error) {
	switch event.Type {
	case domain.Deliver:
		if event.Member == nil || event.Member.InstanceID == "" {
			return "", fmt.Errorf("deliver event without owning instance")
		}
		return instanceChannel(event.Member.InstanceID), nil
	case domain.MemberJoined, domain.MemberLeft:
		if event.RoomID == "" {
			return "", fmt.Errorf("%s event without room", event.Type)
		}
		return roomChannel(event.RoomID), nil
	default:
		return "", fmt.Errorf("unknown relay event type %q", event.Type)
	}
}
