package skyline

import (
	"github.com/skyline-net/skyline/internal/tcp"
	"github.com/skyline-net/skyline/internal/udp"
)

// UDPSender adapts a udp.Conn to Sender, sending every application
// payload reliably at Medium priority. Channel 0 is used as the
// ordering channel only for payloads large enough to be split;
// unsplit payloads carry no order info, so their delivery order is
// not guaranteed.
type UDPSender struct {
	Conn *udp.Conn
}

func (s UDPSender) SendBytes(raw []byte) error {
	return s.Conn.Enqueue(raw, udp.PriorityMedium, 0)
}

// TCPSender adapts a tcp.Conn to Sender. TCP is already
// reliable/ordered, so payloads go straight to SendPayload, which
// transparently splits any payload over the TCP split threshold.
type TCPSender struct {
	Conn *tcp.Conn
}

func (s TCPSender) SendBytes(raw []byte) error {
	s.Conn.SendPayload(raw)
	return nil
}
