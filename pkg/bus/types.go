package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by Reply once the outbox is closed.
var ErrClosed = errors.New("outbox closed")

// OutboundReply is a queued chat reply.
type OutboundReply struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// Sender delivers a reply to a platform. Platform repliers implement it.
type Sender interface {
	Reply(ctx context.Context, channelID, text string) error
}
