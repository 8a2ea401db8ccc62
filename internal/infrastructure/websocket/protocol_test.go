package websocket

import (
	"encoding/json"
	"testing"

	"auction-relay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOutbound(t *testing.T) {
	tests := []struct {
		name string
		out  domain.Outbound
		want string
	}{
		{
			name: "with payload",
			out:  domain.Outbound{To: "A", Event: domain.EventConnected, Payload: json.RawMessage(`{"id":"A"}`)},
			want: `{"event":"connected","data":{"id":"A"}}`,
		},
		{
			name: "without payload",
			out:  domain.Outbound{To: "A", Event: domain.EventAuctionFull},
			want: `{"event":"auctionFull"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeOutbound(&tt.out)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"event":"joinRoom","data":"auction-7"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventJoinRoom, frame.Event)

	roomID, err := frame.RoomID()
	require.NoError(t, err)
	assert.Equal(t, "auction-7", roomID)

	_, err = DecodeFrame([]byte(`{"data":"x"}`))
	assert.Error(t, err)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestFrameRoomIDAcceptsObject(t *testing.T) {
	frame := &Frame{Event: domain.EventDisconnectAll, Data: json.RawMessage(`{"auctionId":"r9"}`)}
	roomID, err := frame.RoomID()
	require.NoError(t, err)
	assert.Equal(t, "r9", roomID)

	frame = &Frame{Event: domain.EventJoinRoom, Data: json.RawMessage(`42`)}
	_, err = frame.RoomID()
	assert.Error(t, err)
}

func TestFrameDecodeKeepsSignalOpaque(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"event":"sendingSignal","data":{"userToSignal":"B","userJoined":"A","signal":{"type":"offer","sdp":"v=0"}}}`))
	require.NoError(t, err)

	var req domain.SendingSignalRequest
	require.NoError(t, frame.Decode(&req))
	assert.Equal(t, "B", req.UserToSignal)
	assert.Equal(t, "A", req.UserJoined)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(req.Signal))

	empty := &Frame{Event: domain.EventReceivedSignal}
	assert.Error(t, empty.Decode(&req))
}
