package handlers

import (
	"net/http"

	"auction-relay/internal/domain"
	"auction-relay/internal/services"
	"auction-relay/pkg/logger"

	"github.com/labstack/echo/v4"
)

type RoomHandler struct {
	relay *services.Relay
	log   logger.Logger
}

type RoomResponse struct {
	RoomID   string          `json:"room_id"`
	Members  []domain.Member `json:"members"`
	Size     int             `json:"size"`
	Capacity int             `json:"capacity"`
}

func NewRoomHandler(relay *services.Relay, log logger.Logger) *RoomHandler {
	return &RoomHandler{relay: relay, log: log}
}

// GetRoom reports this instance's view of a room.
func (h *RoomHandler) GetRoom(c echo.Context) error {
	roomID := c.Param("id")

	snapshot, ok := h.relay.Roster(roomID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	}

	return c.JSON(http.StatusOK, RoomResponse{
		RoomID:   snapshot.RoomID,
		Members:  snapshot.Members,
		Size:     len(snapshot.Members),
		Capacity: domain.RoomCapacity,
	})
}
