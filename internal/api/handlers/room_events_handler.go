package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"auction-relay/internal/services"
	"auction-relay/pkg/logger"

	"github.com/gorilla/mux"
)

type RoomEventsHandler struct {
	journal *services.RoomEventJournal
	log     logger.Logger
}

func NewRoomEventsHandler(journal *services.RoomEventJournal, log logger.Logger) *RoomEventsHandler {
	return &RoomEventsHandler{journal: journal, log: log}
}

func (h *RoomEventsHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/rooms/{id}/events", h.GetRoomEvents).Methods(http.MethodGet)
}

func (h *RoomEventsHandler) GetRoomEvents(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.journal.History(r.Context(), roomID, limit)
	if err != nil {
		h.log.Error("Failed to load room events", "room_id", roomID, "error", err)
		http.Error(w, "failed to load room events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"room_id": roomID,
		"events":  records,
	})
}
