package domain

import (
	"encoding/json"
	"time"
)

// RoomCapacity is the maximum number of participants in one auction room.
const RoomCapacity = 6

// Inbound event names.
const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventSendingSignal  = "sendingSignal"
	EventReceivedSignal = "receivedSignal"
	EventDisconnectAll  = "disconnectAll"
)

// Outbound event names.
const (
	EventConnected           = "connected"
	EventOtherUsersInAuction = "otherUsersInAuction"
	EventAuctionFull         = "auctionFull"
	EventUserJoinedAuction   = "userJoinedAuction"
	EventGotSignal           = "gotSignal"
	EventUserDisconnected    = "userDisconnected"
	EventManualDisconnect    = "manualDisconnect"
)

// Member is one participant of a room together with the relay instance
// holding its transport connection.
type Member struct {
	ConnectionID string `json:"connection_id"`
	InstanceID   string `json:"instance_id"`
}

// RoomSnapshot is a point-in-time copy of a room's membership in join order.
type RoomSnapshot struct {
	RoomID  string   `json:"room_id"`
	Members []Member `json:"members"`
}

// MemberIDs returns the connection ids of the snapshot in join order.
func (s RoomSnapshot) MemberIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.ConnectionID)
	}
	return ids
}

// Outbound is a message the boundary layer must deliver to one connection.
type Outbound struct {
	To      string          `json:"to"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SignalKind distinguishes the shapes of a directed signaling relay.
type SignalKind int

const (
	// SignalOffer is sent to an existing member by a newly joined peer.
	SignalOffer SignalKind = iota
	// SignalAnswer is the existing member's reply to an offer.
	SignalAnswer
	// SignalOpaque forwards any other payload untouched.
	SignalOpaque
)

func (k SignalKind) String() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Inbound payloads.

type SendingSignalRequest struct {
	UserToSignal string          `json:"userToSignal"`
	Signal       json.RawMessage `json:"signal"`
	UserJoined   string          `json:"userJoined"`
}

type ReceivedSignalRequest struct {
	UserJoined string          `json:"userJoined"`
	Signal     json.RawMessage `json:"signal"`
}

type DisconnectAllRequest struct {
	AuctionID string `json:"auctionId"`
}

// Outbound payloads.

type ConnectedPayload struct {
	ID string `json:"id"`
}

type UserJoinedAuctionPayload struct {
	Signal     json.RawMessage `json:"signal"`
	UserJoined string          `json:"userJoined"`
}

type GotSignalPayload struct {
	Signal json.RawMessage `json:"signal"`
	ID     string          `json:"id"`
}

type UserDisconnectedPayload struct {
	ID string `json:"id"`
}

// RelayEvent is what crosses the shared backbone between relay instances.
type RelayEvent struct {
	Type      RelayEventType `json:"type"`
	Origin    string         `json:"origin"`
	RoomID    string         `json:"room_id,omitempty"`
	Member    *Member        `json:"member,omitempty"`
	Message   *Outbound      `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type RelayEventType string

const (
	// MemberJoined and MemberLeft are published on the room channel.
	MemberJoined RelayEventType = "member_joined"
	MemberLeft   RelayEventType = "member_left"
	// Deliver carries one Outbound to the instance owning its target.
	Deliver RelayEventType = "deliver"
)

// RoomEventRecord is a journaled membership change.
type RoomEventRecord struct {
	ID           int64          `json:"id"`
	RoomID       string         `json:"room_id"`
	ConnectionID string         `json:"connection_id"`
	InstanceID   string         `json:"instance_id"`
	Type         RelayEventType `json:"type"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
