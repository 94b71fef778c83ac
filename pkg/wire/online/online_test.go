package online

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/pkg/wire/binary"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

func decodeOne(t *testing.T, raw []byte) Packet {
	t.Helper()
	r := binary.NewReader(raw)
	p, err := Decode(r)
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())
	return p
}

func TestPingPongRoundTrip(t *testing.T) {
	got := decodeOne(t, Encode(&Ping{PingTime: 42}))
	require.Equal(t, &Ping{PingTime: 42}, got)

	got = decodeOne(t, Encode(&Pong{PingTime: 99}))
	require.Equal(t, &Pong{PingTime: 99}, got)
}

func TestDatagramPacketRoundTrip(t *testing.T) {
	dg := dataset.NewDatagram(5)
	dg.Push(&dataset.DataSet{Seq: 1, Payload: []byte("x")})
	got := decodeOne(t, Encode(&DatagramPacket{Datagram: dg}))
	dp, ok := got.(*DatagramPacket)
	require.True(t, ok)
	require.Equal(t, uint32(5), dp.Datagram.Sequence)
	require.Len(t, dp.Datagram.Sets, 1)
}

func TestAcknowledgementRoundTripWithoutSplits(t *testing.T) {
	ack := &Acknowledgement{Variant: AckVariantAck, Seqs: []uint32{1, 2, 3}}
	got := decodeOne(t, Encode(ack))
	require.Equal(t, ack, got)
}

func TestAcknowledgementRoundTripWithSplits(t *testing.T) {
	ack := &Acknowledgement{Variant: AckVariantNack, Seqs: []uint32{7}, Splits: []uint16{1, 2}}
	got := decodeOne(t, Encode(ack))
	require.Equal(t, ack, got)
}

func TestDiscriminantIsLittleEndian(t *testing.T) {
	raw := Encode(&Ping{PingTime: 1})
	// u16-LE encoding of IDPing(0) is 0x00 0x00.
	require.Equal(t, []byte{0x00, 0x00}, raw[:2])

	raw = Encode(&Pong{PingTime: 1})
	require.Equal(t, []byte{0x01, 0x00}, raw[:2])
}
