package handlers

import (
	"context"
	"net/http"

	"auction-relay/internal/domain"
	"auction-relay/internal/infrastructure/websocket"
	"auction-relay/internal/services"
	"auction-relay/pkg/logger"
	"auction-relay/pkg/utils"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocketHandler terminates client websockets and feeds their frames to
// the relay. One connection id is minted per socket.
type WebSocketHandler struct {
	relay       *services.Relay
	connections *websocket.ConnectionManager
	upgrader    gws.Upgrader
	sendBuffer  int
	log         logger.Logger
}

func NewWebSocketHandler(relay *services.Relay, connections *websocket.ConnectionManager,
	allowedOrigins []string, sendBuffer int, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		relay:       relay,
		connections: connections,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer: sendBuffer,
		log:        log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *WebSocketHandler) HandleConnection(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "remote_addr", c.RealIP(), "error", err)
		return nil
	}

	connectionID := utils.GenerateID("conn")
	conn := websocket.NewConnection(connectionID, ws, h.sendBuffer, h.log)
	if err := h.connections.Add(conn); err != nil {
		h.log.Error("Failed to add connection", "connection_id", connectionID, "error", err)
		ws.Close()
		return nil
	}
	go conn.WritePump()

	// Relay work outlives the request once the peer is gone.
	ctx := context.WithoutCancel(c.Request().Context())

	if err := h.relay.Connect(ctx, connectionID); err != nil {
		h.connections.Remove(connectionID)
		conn.Close()
		return nil
	}
	h.log.Info("Client connected", "connection_id", connectionID, "remote_addr", c.RealIP())

	conn.ReadPump(func(message []byte) {
		h.handleFrame(ctx, connectionID, message)
	})

	h.relay.Disconnect(ctx, connectionID)
	h.connections.Remove(connectionID)
	conn.Close()
	h.log.Info("Client disconnected", "connection_id", connectionID)
	return nil
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, connectionID string, message []byte) {
	frame, err := websocket.DecodeFrame(message)
	if err != nil {
		h.log.Debug("Dropping malformed frame", "connection_id", connectionID, "error", err)
		return
	}

	switch frame.Event {
	case domain.EventJoinRoom:
		roomID, err := frame.RoomID()
		if err != nil {
			h.rejectFrame(connectionID, err)
			return
		}
		h.relay.JoinRoom(ctx, connectionID, roomID)

	case domain.EventLeaveRoom:
		roomID, err := frame.RoomID()
		if err != nil {
			h.rejectFrame(connectionID, err)
			return
		}
		h.relay.LeaveRoom(ctx, connectionID, roomID)

	case domain.EventSendingSignal:
		var req domain.SendingSignalRequest
		if err := frame.Decode(&req); err != nil {
			h.rejectFrame(connectionID, err)
			return
		}
		h.relay.SendingSignal(ctx, connectionID, req)

	case domain.EventReceivedSignal:
		var req domain.ReceivedSignalRequest
		if err := frame.Decode(&req); err != nil {
			h.rejectFrame(connectionID, err)
			return
		}
		h.relay.ReceivedSignal(ctx, connectionID, req)

	case domain.EventDisconnectAll:
		var req domain.DisconnectAllRequest
		if err := frame.Decode(&req); err != nil {
			h.rejectFrame(connectionID, err)
			return
		}
		h.relay.DisconnectAll(ctx, connectionID, req)

	default:
		h.log.Debug("Unknown event", "connection_id", connectionID, "event", frame.Event)
	}
}

func (h *WebSocketHandler) rejectFrame(connectionID string, err error) {
	h.log.Debug("Invalid frame", "connection_id", connectionID, "error", err)
}
