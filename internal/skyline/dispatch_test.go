package skyline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/internal/logging"
	wirebinary "github.com/skyline-net/skyline/pkg/wire/binary"
	wirechannel "github.com/skyline-net/skyline/pkg/wire/channel"
	wireskyline "github.com/skyline-net/skyline/pkg/wire/skyline"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) SendBytes(raw []byte) error {
	f.sent = append(f.sent, raw)
	return nil
}

func (f *fakeSender) lastPacket(t *testing.T) wireskyline.Packet {
	t.Helper()
	require.NotEmpty(t, f.sent)
	r := wirebinary.NewReader(f.sent[len(f.sent)-1])
	p, err := wireskyline.Decode(r)
	require.NoError(t, err)
	return p
}

func encodeRaw(t *testing.T, p wireskyline.Packet) []byte {
	t.Helper()
	raw, err := wireskyline.Encode(p)
	require.NoError(t, err)
	return raw
}

func TestDispatcherLoginAcceptedWithAllowAll(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, logging.Nop())
	sess := NewSession(uuid.New())
	send := &fakeSender{}

	err := d.HandlePayload(sess, encodeRaw(t, &wireskyline.LoginPacket{Username: "alice", Token: "x"}), send)
	require.NoError(t, err)
	require.True(t, sess.LoggedIn)

	resp, ok := send.lastPacket(t).(*wireskyline.LoginResponse)
	require.True(t, ok)
	require.True(t, resp.Accepted)
}

func TestDispatcherLoginRejectedByStaticAuth(t *testing.T) {
	auth := NewStaticAuthenticator(map[string]string{"alice": "correct"})
	d := NewDispatcher(NewRegistry(), auth, logging.Nop())
	sess := NewSession(uuid.New())
	send := &fakeSender{}

	err := d.HandlePayload(sess, encodeRaw(t, &wireskyline.LoginPacket{Username: "alice", Token: "wrong"}), send)
	require.NoError(t, err)
	require.False(t, sess.LoggedIn)

	resp, ok := send.lastPacket(t).(*wireskyline.LoginResponse)
	require.True(t, ok)
	require.False(t, resp.Accepted)
}

func TestDispatcherChannelOperationBeforeLoginFails(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, logging.Nop())
	sess := NewSession(uuid.New())
	send := &fakeSender{}

	err := d.HandlePayload(sess, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinRequest, ChannelID: 1}), send)
	require.Error(t, err)
}

func TestDispatcherJoinRequestAndMessageFanOut(t *testing.T) {
	reg := NewRegistry()
	reg.Declare(&wirechannel.Channel{ID: 1, MessageType: wirechannel.MessageTypeBroadcast})

	d := NewDispatcher(reg, nil, logging.Nop())

	aliceID, bobID := uuid.New(), uuid.New()
	alice := NewSession(aliceID)
	bob := NewSession(bobID)
	alice.LoggedIn = true
	bob.LoggedIn = true

	aliceSend, bobSend := &fakeSender{}, &fakeSender{}
	d.RegisterSender(aliceID, aliceSend)
	d.RegisterSender(bobID, bobSend)

	require.NoError(t, d.HandlePayload(alice, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinRequest, ChannelID: 1}), aliceSend))
	require.NoError(t, d.HandlePayload(bob, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinRequest, ChannelID: 1}), bobSend))

	// bob's join response is encoded after both joins, so it reports both.
	joinResp, ok := bobSend.lastPacket(t).(*wireskyline.ChannelPacket)
	require.True(t, ok)
	require.True(t, joinResp.Accepted)
	require.EqualValues(t, 2, joinResp.Channel.Subscribers)

	alice.Permissions[1] = wirechannel.PermissionPublish

	require.NoError(t, d.HandlePayload(alice, encodeRaw(t, &wireskyline.ChannelPacket{
		Op:        wireskyline.ChannelOpMessage,
		ChannelID: 1,
	}), aliceSend))

	require.Len(t, bobSend.sent, 2, "bob should receive the join response plus the fanned-out message")
	fanned, ok := bobSend.lastPacket(t).(*wireskyline.ChannelPacket)
	require.True(t, ok)
	require.Equal(t, wireskyline.ChannelOpMessage, fanned.Op)
}

func TestDispatcherMessageWithoutPublishPermissionFails(t *testing.T) {
	reg := NewRegistry()
	reg.Declare(&wirechannel.Channel{ID: 1})
	d := NewDispatcher(reg, nil, logging.Nop())

	peerID := uuid.New()
	sess := NewSession(peerID)
	sess.LoggedIn = true
	send := &fakeSender{}
	d.RegisterSender(peerID, send)
	require.NoError(t, d.HandlePayload(sess, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinRequest, ChannelID: 1}), send))

	err := d.HandlePayload(sess, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpMessage, ChannelID: 1}), send)
	require.Error(t, err)
}

func TestDispatcherDisconnectLeavesAllChannels(t *testing.T) {
	reg := NewRegistry()
	reg.Declare(&wirechannel.Channel{ID: 1})
	d := NewDispatcher(reg, nil, logging.Nop())

	peerID := uuid.New()
	sess := NewSession(peerID)
	sess.LoggedIn = true
	send := &fakeSender{}
	d.RegisterSender(peerID, send)
	require.NoError(t, d.HandlePayload(sess, encodeRaw(t, &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinRequest, ChannelID: 1}), send))
	require.Len(t, reg.Members(1), 1)

	require.NoError(t, d.HandlePayload(sess, encodeRaw(t, &wireskyline.Disconnect{Reason: "bye"}), send))
	require.Empty(t, reg.Members(1))
}
