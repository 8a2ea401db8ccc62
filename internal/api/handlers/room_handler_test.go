package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"auction-relay/internal/domain"
	"auction-relay/internal/infrastructure/fanout"
	"auction-relay/internal/services"
	"auction-relay/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardSender struct{}

func (discardSender) Send(string, *domain.Outbound) error { return nil }

func TestGetRoom(t *testing.T) {
	relay := services.NewRelay("relay-1", fanout.NewLocalFanOut(), nil, logger.NewNop())
	relay.SetSender(discardSender{})
	ctx := context.Background()
	require.NoError(t, relay.Connect(ctx, "A"))
	require.NoError(t, relay.Connect(ctx, "B"))
	relay.JoinRoom(ctx, "A", "r1")
	relay.JoinRoom(ctx, "B", "r1")

	handler := NewRoomHandler(relay, logger.NewNop())
	e := echo.New()

	tests := []struct {
		name     string
		roomID   string
		wantCode int
		wantSize int
	}{
		{name: "existing room", roomID: "r1", wantCode: http.StatusOK, wantSize: 2},
		{name: "unknown room", roomID: "nope", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+tt.roomID, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.roomID)

			require.NoError(t, handler.GetRoom(c))
			assert.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusOK {
				var resp RoomResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.roomID, resp.RoomID)
				assert.Equal(t, tt.wantSize, resp.Size)
				assert.Equal(t, domain.RoomCapacity, resp.Capacity)
				assert.Equal(t, "A", resp.Members[0].ConnectionID)
			}
		})
	}
}
