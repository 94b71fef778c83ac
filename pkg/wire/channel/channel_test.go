package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

func TestTopicRoundTrip(t *testing.T) {
	topic := &Topic{ID: 1, Name: "news", Permissions: PermissionSubscribe | PermissionPublish}
	w := binary.NewWriter()
	topic.Encode(w)
	r := binary.NewReader(w.Bytes())
	got, err := DecodeTopic(r)
	require.NoError(t, err)
	require.Equal(t, topic, got)
}

func TestChannelRoundTripWithTopics(t *testing.T) {
	ch := &Channel{
		ID:          5,
		Subscribers: 120,
		Topics: []*Topic{
			{ID: 1, Name: "general", Permissions: PermissionSubscribe},
			{ID: 2, Name: "admin", Permissions: PermissionAdmin},
		},
		HasAPI:      true,
		MessageType: MessageTypePropagate,
	}
	w := binary.NewWriter()
	ch.Encode(w)
	r := binary.NewReader(w.Bytes())
	got, err := DecodeChannel(r)
	require.NoError(t, err)
	require.Equal(t, ch, got)
}

func TestChannelRoundTripNoTopics(t *testing.T) {
	ch := &Channel{ID: 1, Subscribers: 0, MessageType: MessageTypeBroadcast}
	w := binary.NewWriter()
	ch.Encode(w)
	r := binary.NewReader(w.Bytes())
	got, err := DecodeChannel(r)
	require.NoError(t, err)
	require.Equal(t, ch.ID, got.ID)
	require.Empty(t, got.Topics)
}

func TestPermissionAllows(t *testing.T) {
	p := PermissionSubscribe | PermissionPublish
	require.True(t, p.Allows(PermissionSubscribe))
	require.True(t, p.Allows(PermissionPublish))
	require.False(t, p.Allows(PermissionAdmin))
}
