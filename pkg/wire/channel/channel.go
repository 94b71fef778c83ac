// Package channel implements the Skyline API's pub/sub Channel and
// Topic wire types, per spec.md §6 and grounded on original_source's
// channel.rs.
package channel

import (
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

// ChannelPermission bits gate who may publish/subscribe/administer a
// topic.
type ChannelPermission uint8

const (
	PermissionNone      ChannelPermission = 0
	PermissionSubscribe ChannelPermission = 1
	PermissionPublish   ChannelPermission = 2
	PermissionAdmin     ChannelPermission = 4
)

// ChannelMessageType selects a channel's delivery semantics.
type ChannelMessageType uint8

const (
	MessageTypeBroadcast ChannelMessageType = iota
	MessageTypeDirect
	MessageTypePropagate
	MessageTypeQueue
)

// Topic is a named subdivision of a Channel with its own permission
// mask.
type Topic struct {
	ID          uint32
	Name        string
	Permissions ChannelPermission
}

func (t *Topic) Encode(w *binary.Writer) {
	w.VarU32(t.ID)
	w.String(t.Name)
	w.U8(uint8(t.Permissions))
}

func DecodeTopic(r *binary.Reader) (*Topic, error) {
	id, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("channel: decode topic.id: %w", err)
	}
	name, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("channel: decode topic.name: %w", err)
	}
	perms, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("channel: decode topic.permissions: %w", err)
	}
	return &Topic{ID: id, Name: name, Permissions: ChannelPermission(perms)}, nil
}

// Channel groups a set of subscribers under zero or more Topics, with
// an optional application-level API surface.
type Channel struct {
	ID          uint32
	Subscribers uint32
	Topics      []*Topic
	HasAPI      bool
	MessageType ChannelMessageType
}

func (c *Channel) Encode(w *binary.Writer) {
	w.VarU32(c.ID)
	w.VarU32(c.Subscribers)
	w.VarU32(uint32(len(c.Topics)))
	for _, t := range c.Topics {
		t.Encode(w)
	}
	var hasAPI uint8
	if c.HasAPI {
		hasAPI = 1
	}
	w.U8(hasAPI)
	w.U8(uint8(c.MessageType))
}

func DecodeChannel(r *binary.Reader) (*Channel, error) {
	id, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("channel: decode channel.id: %w", err)
	}
	subs, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("channel: decode channel.subscribers: %w", err)
	}
	topicCount, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("channel: decode channel.topics_len: %w", err)
	}
	var topics []*Topic
	if topicCount > 0 {
		topics = make([]*Topic, 0, topicCount)
	}
	for i := uint32(0); i < topicCount; i++ {
		topic, err := DecodeTopic(r)
		if err != nil {
			return nil, fmt.Errorf("channel: decode topics[%d]: %w", i, err)
		}
		topics = append(topics, topic)
	}
	hasAPI, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("channel: decode channel.has_api: %w", err)
	}
	msgType, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("channel: decode channel.message_type: %w", err)
	}
	return &Channel{
		ID:          id,
		Subscribers: subs,
		Topics:      topics,
		HasAPI:      hasAPI != 0,
		MessageType: ChannelMessageType(msgType),
	}, nil
}

// Allows reports whether perms grants the given capability.
func (p ChannelPermission) Allows(required ChannelPermission) bool {
	return uint8(p)&uint8(required) == uint8(required)
}
