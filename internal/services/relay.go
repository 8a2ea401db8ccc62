package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"auction-relay/internal/domain"
	"auction-relay/internal/metrics"
	"auction-relay/pkg/logger"
)

// Relay is the per-process auction-room signaling relay. Transport handlers
// call it once per inbound event; it updates room state, delivers outbound
// messages to local connections through the ConnectionSender and forwards
// everything else over the FanOut.
type Relay struct {
	instanceID string
	registry   *ConnectionRegistry
	rooms      *RoomManager
	router     *SignalingRouter
	propagator *DisconnectPropagator
	fanOut     domain.FanOut
	sender     domain.ConnectionSender
	metrics    *metrics.RelayMetrics
	log        logger.Logger
}

func NewRelay(instanceID string, fanOut domain.FanOut, relayMetrics *metrics.RelayMetrics, log logger.Logger) *Relay {
	registry := NewConnectionRegistry()
	rooms := NewRoomManager(instanceID, registry, fanOut, log)

	return &Relay{
		instanceID: instanceID,
		registry:   registry,
		rooms:      rooms,
		router:     NewSignalingRouter(registry, rooms, log),
		propagator: NewDisconnectPropagator(instanceID, registry, rooms, log),
		fanOut:     fanOut,
		metrics:    relayMetrics,
		log:        log.With("instance_id", instanceID),
	}
}

// SetSender wires the transport layer, which itself needs the relay.
func (r *Relay) SetSender(sender domain.ConnectionSender) {
	r.sender = sender
}

func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Connect registers a new transport connection and tells it its id.
func (r *Relay) Connect(ctx context.Context, connectionID string) error {
	if err := r.registry.Register(connectionID); err != nil {
		r.log.Error("Failed to register connection", "connection_id", connectionID, "error", err)
		return err
	}
	r.metrics.SetConnections(r.registry.Count())

	r.dispatch(ctx, domain.Outbound{
		To:      connectionID,
		Event:   domain.EventConnected,
		Payload: mustMarshal(domain.ConnectedPayload{ID: connectionID}),
	})
	return nil
}

func (r *Relay) JoinRoom(ctx context.Context, connectionID, roomID string) {
	if roomID == "" {
		r.log.Warn("Join without room id ignored", "connection_id", connectionID)
		return
	}

	res, err := r.rooms.Join(ctx, roomID, connectionID)
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		r.metrics.Join("full")
		r.log.Info("Room full", "room_id", roomID, "connection_id", connectionID)
		r.dispatch(ctx, domain.Outbound{To: connectionID, Event: domain.EventAuctionFull})
		return
	case err != nil:
		r.metrics.Join("error")
		r.log.Error("Failed to join room", "room_id", roomID, "connection_id", connectionID, "error", err)
		return
	}

	r.metrics.Join("accepted")
	r.metrics.SetRooms(r.rooms.RoomCount())
	r.log.Info("Joined room", "room_id", roomID, "connection_id", connectionID,
		"existing", len(res.Existing), "already_member", res.AlreadyMember)

	r.dispatch(ctx, domain.Outbound{
		To:      connectionID,
		Event:   domain.EventOtherUsersInAuction,
		Payload: mustMarshal(res.Roster),
	})

	if !res.AlreadyMember {
		member := res.Member
		r.publish(ctx, &domain.RelayEvent{
			Type:   domain.MemberJoined,
			RoomID: roomID,
			Member: &member,
		})
	}
}

// LeaveRoom removes the connection from one room without closing it.
func (r *Relay) LeaveRoom(ctx context.Context, connectionID, roomID string) {
	res, left := r.rooms.Leave(ctx, roomID, connectionID)
	if !left {
		return
	}
	r.metrics.SetRooms(r.rooms.RoomCount())
	r.announceLeave(ctx, res)
}

// SendingSignal relays a new peer's offer to an existing member.
func (r *Relay) SendingSignal(ctx context.Context, connectionID string, req domain.SendingSignalRequest) {
	sender := req.UserJoined
	if sender == "" {
		sender = connectionID
	}
	r.relaySignal(ctx, SignalMessage{
		SenderID: sender,
		TargetID: req.UserToSignal,
		Payload:  req.Signal,
		Kind:     domain.SignalOffer,
	})
}

// ReceivedSignal relays an existing member's answer back to the new peer.
func (r *Relay) ReceivedSignal(ctx context.Context, connectionID string, req domain.ReceivedSignalRequest) {
	r.relaySignal(ctx, SignalMessage{
		SenderID: connectionID,
		TargetID: req.UserJoined,
		Payload:  req.Signal,
		Kind:     domain.SignalAnswer,
	})
}

// RelaySignal forwards an arbitrary directed message.
func (r *Relay) RelaySignal(ctx context.Context, msg SignalMessage) {
	r.relaySignal(ctx, msg)
}

func (r *Relay) relaySignal(ctx context.Context, msg SignalMessage) {
	out, err := r.router.Route(msg)
	if err != nil {
		r.metrics.Signal(msg.Kind.String(), "dropped")
		r.log.Debug("Signal dropped", "from", msg.SenderID, "to", msg.TargetID, "kind", msg.Kind.String(), "error", err)
		return
	}
	r.metrics.Signal(msg.Kind.String(), "routed")
	r.dispatch(ctx, *out)
}

// Disconnect is called exactly when the transport goes away. Repeated
// calls are no-ops.
func (r *Relay) Disconnect(ctx context.Context, connectionID string) {
	results, outbounds := r.propagator.Disconnect(ctx, connectionID)
	for _, out := range outbounds {
		r.dispatch(ctx, out)
	}
	for _, res := range results {
		departed := res.Departed
		r.publish(ctx, &domain.RelayEvent{
			Type:   domain.MemberLeft,
			RoomID: res.RoomID,
			Member: &departed,
		})
	}
	r.metrics.SetConnections(r.registry.Count())
	r.metrics.SetRooms(r.rooms.RoomCount())
}

func (r *Relay) DisconnectAll(ctx context.Context, connectionID string, req domain.DisconnectAllRequest) {
	outbounds := r.propagator.DisconnectAll(req.AuctionID, connectionID)
	r.log.Info("Disconnecting room members", "room_id", req.AuctionID, "connection_id", connectionID, "targets", len(outbounds))
	for _, out := range outbounds {
		r.dispatch(ctx, out)
	}
}

// Run applies backbone events to this instance until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	return RunSubscription(ctx, r.fanOut, r.HandleRemoteEvent, 0, func(error) {
		r.metrics.BackboneError("subscribe")
	}, r.log)
}

// HandleRemoteEvent applies an event received from the backbone.
func (r *Relay) HandleRemoteEvent(event *domain.RelayEvent) error {
	if event == nil || event.Origin == r.instanceID {
		return nil
	}
	ctx := context.Background()

	switch event.Type {
	case domain.MemberJoined:
		if event.Member == nil {
			return errors.New("member_joined without member")
		}
		if r.rooms.ApplyRemoteJoin(event.RoomID, *event.Member) {
			r.metrics.SetRooms(r.rooms.RoomCount())
		}
	case domain.MemberLeft:
		if event.Member == nil {
			return errors.New("member_left without member")
		}
		res, left := r.rooms.ApplyRemoteLeave(event.RoomID, event.Member.ConnectionID)
		if !left {
			return nil
		}
		r.metrics.SetRooms(r.rooms.RoomCount())
		for _, out := range r.propagator.PeerLeft(res) {
			r.dispatch(ctx, out)
		}
	case domain.Deliver:
		if event.Message == nil {
			return errors.New("deliver without message")
		}
		if !r.registry.IsRegistered(event.Message.To) {
			r.log.Debug("Remote delivery target not held here", "connection_id", event.Message.To)
			return nil
		}
		r.sendLocal(*event.Message)
	default:
		r.log.Warn("Unknown relay event", "type", event.Type, "origin", event.Origin)
	}
	return nil
}

// Resync brings the shared roster back in line with the members held
// here and announces every correction to the other instances. It is run
// on each heartbeat so changes made during a backbone outage converge.
func (r *Relay) Resync(ctx context.Context) error {
	owned, err := r.fanOut.Memberships(ctx, r.instanceID)
	if err != nil {
		r.metrics.BackboneError("resync")
		return err
	}
	if owned == nil {
		return nil
	}

	released, restored, err := r.rooms.Resync(ctx, owned)
	for _, rm := range released {
		member := rm.Member
		r.publish(ctx, &domain.RelayEvent{Type: domain.MemberLeft, RoomID: rm.RoomID, Member: &member})
	}
	for _, rm := range restored {
		member := rm.Member
		r.publish(ctx, &domain.RelayEvent{Type: domain.MemberJoined, RoomID: rm.RoomID, Member: &member})
	}
	r.metrics.SetRooms(r.rooms.RoomCount())

	if len(released) > 0 || len(restored) > 0 {
		r.log.Info("Repaired shared roster", "released", len(released), "restored", len(restored))
	}
	if err != nil {
		r.metrics.BackboneError("resync")
	}
	return err
}

// Roster returns this instance's view of a room.
func (r *Relay) Roster(roomID string) (domain.RoomSnapshot, bool) {
	return r.rooms.Snapshot(roomID)
}

func (r *Relay) RosterExcluding(roomID, connectionID string) []string {
	return r.rooms.RosterExcluding(roomID, connectionID)
}

func (r *Relay) RoomsOf(connectionID string) ([]string, error) {
	return r.registry.RoomsOf(connectionID)
}

func (r *Relay) ConnectionCount() int {
	return r.registry.Count()
}

func (r *Relay) RoomCount() int {
	return r.rooms.RoomCount()
}

// Close disconnects every local connection and discards all room views.
func (r *Relay) Close(ctx context.Context) {
	for _, id := range r.registry.Connections() {
		r.Disconnect(ctx, id)
	}
	r.rooms.Close()
	r.metrics.SetRooms(0)
	r.log.Info("Relay closed")
}

func (r *Relay) announceLeave(ctx context.Context, res *LeaveResult) {
	for _, out := range r.propagator.PeerLeft(res) {
		r.dispatch(ctx, out)
	}
	departed := res.Departed
	r.publish(ctx, &domain.RelayEvent{
		Type:   domain.MemberLeft,
		RoomID: res.RoomID,
		Member: &departed,
	})
}

// dispatch delivers locally when possible, forwards to the owning
// instance when the target is a known remote member, and otherwise drops.
func (r *Relay) dispatch(ctx context.Context, out domain.Outbound) {
	if r.registry.IsRegistered(out.To) {
		r.sendLocal(out)
		return
	}

	owner, ok := r.rooms.Locate(out.To)
	if !ok || owner.InstanceID == r.instanceID {
		r.log.Debug("Outbound dropped, no such connection", "connection_id", out.To, "event", out.Event)
		return
	}

	message := out
	r.publish(ctx, &domain.RelayEvent{
		Type:    domain.Deliver,
		Member:  &owner,
		Message: &message,
	})
}

func (r *Relay) sendLocal(out domain.Outbound) {
	if r.sender == nil {
		r.log.Warn("No sender configured, outbound dropped", "connection_id", out.To, "event", out.Event)
		return
	}
	if err := r.sender.Send(out.To, &out); err != nil {
		r.log.Warn("Failed to send", "connection_id", out.To, "event", out.Event, "error", err)
	}
}

func (r *Relay) publish(ctx context.Context, event *domain.RelayEvent) {
	event.Origin = r.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := r.fanOut.Publish(ctx, event); err != nil {
		r.metrics.BackboneError("publish")
		r.log.Warn("Backbone publish failed, delivering locally only",
			"type", event.Type, "room_id", event.RoomID, "error", err)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body
}
