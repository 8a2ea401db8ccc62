package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"auction-relay/internal/domain"
)

// Frame is the envelope of every text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeOutbound renders a relay outbound as a wire frame.
func EncodeOutbound(out *domain.Outbound) ([]byte, error) {
	return json.Marshal(Frame{Event: out.Event, Data: out.Payload})
}

func DecodeFrame(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event == "" {
		return nil, errors.New("decode frame: missing event")
	}
	return &frame, nil
}

// RoomID reads a room id sent either as a bare string or as {"auctionId": "..."}.
func (f *Frame) RoomID() (string, error) {
	var id string
	if err := json.Unmarshal(f.Data, &id); err == nil {
		return id, nil
	}

	var req domain.DisconnectAllRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		return "", fmt.Errorf("%s: room id must be a string: %w", f.Event, err)
	}
	return req.AuctionID, nil
}

// Decode unmarshals the frame data into v.
func (f *Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: missing data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: %w", f.Event, err)
	}
	return nil
}
