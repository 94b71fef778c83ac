package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	raw := EncodeFrame(msg)
	r := binary.NewReader(raw)
	got, err := DecodeFrame(r)
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())
	return got
}

func TestConnectHelloRoundTrip(t *testing.T) {
	require.Equal(t, &Connect{ProtocolVersion: 1}, roundTrip(t, &Connect{ProtocolVersion: 1}))
	require.Equal(t, &Hello{SessionToken: []byte("tok")}, roundTrip(t, &Hello{SessionToken: []byte("tok")}))
}

func TestDisconnectHeartbeatAckRoundTrip(t *testing.T) {
	require.Equal(t, &Disconnect{Reason: 2}, roundTrip(t, &Disconnect{Reason: 2}))
	require.Equal(t, &HeartbeatAck{Epoch: 999}, roundTrip(t, &HeartbeatAck{Epoch: 999}))
}

func TestSplitPacketRoundTrip(t *testing.T) {
	sp := &SplitPacket{SplitID: 3, Index: 1, Total: 4, Chunk: []byte("chunk")}
	require.Equal(t, sp, roundTrip(t, sp))
	require.Equal(t, &SplitOk{SplitID: 3}, roundTrip(t, &SplitOk{SplitID: 3}))
}

func TestPayloadRoundTrip(t *testing.T) {
	require.Equal(t, &Payload{Body: []byte("hello")}, roundTrip(t, &Payload{Body: []byte("hello")}))
}

func TestDecodeFrameRejectsWrongFrameID(t *testing.T) {
	w := binary.NewWriter()
	w.U16(1) // wrong frame id
	w.Bytes32([]byte{IDConnect, 0, 0, 0, 1})
	r := binary.NewReader(w.Bytes())
	_, err := DecodeFrame(r)
	require.Error(t, err)
}
