// Package bus queues outbound chat replies so event handlers never block on
// platform APIs. A single worker delivers them in order.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sipeed/msgcollector/pkg/logger"
)

const (
	DefaultQueueSize = 100
	sendTimeout      = 10 * time.Second
)

// Outbox is a bounded reply queue in front of a Sender. When the queue is
// full the oldest reply is dropped.
type Outbox struct {
	sender   Sender
	outbound chan OutboundReply

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewOutbox creates an outbox for sender. size <= 0 uses DefaultQueueSize.
func NewOutbox(sender Sender, size int) *Outbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Outbox{
		sender:   sender,
		outbound: make(chan OutboundReply, size),
	}
}

// Reply enqueues text for channelID. It never blocks.
func (o *Outbox) Reply(_ context.Context, channelID, text string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}

	msg := OutboundReply{ChannelID: channelID, Text: text}
	select {
	case o.outbound <- msg:
		return nil
	default:
	}

	// Full: drop oldest and retry
	select {
	case old := <-o.outbound:
		o.dropped.Add(1)
		logger.WarnCF("outbox", "Queue full, dropped oldest reply", map[string]interface{}{
			"channel_id": old.ChannelID,
		})
	default:
	}
	select {
	case o.outbound <- msg:
	default:
		o.dropped.Add(1)
	}
	return nil
}

// Run delivers queued replies until Close is called and the queue is
// drained. Sends are detached from ctx cancellation so replies queued during
// shutdown still go out, each bounded by a timeout.
func (o *Outbox) Run(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for msg := range o.outbound {
		o.send(base, msg)
	}
}

func (o *Outbox) send(base context.Context, msg OutboundReply) {
	ctx, cancel := context.WithTimeout(base, sendTimeout)
	defer cancel()

	if err := o.sender.Reply(ctx, msg.ChannelID, msg.Text); err != nil {
		o.failed.Add(1)
		logger.WarnCF("outbox", "Reply failed", map[string]interface{}{
			"channel_id": msg.ChannelID,
			"error":      err.Error(),
		})
		return
	}
	o.sent.Add(1)
}

// Close stops accepting replies. Run returns after the queue is drained.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.outbound)
		o.mu.Unlock()
	})
}

// Stats returns delivery counters.
func (o *Outbox) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queued":  len(o.outbound),
		"sent":    o.sent.Load(),
		"failed":  o.failed.Load(),
		"dropped": o.dropped.Load(),
	}
}
