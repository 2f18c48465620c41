// Package collector gathers messages posted in a channel after a triggering
// message. Candidates that pass a filter are collected until a count limit
// or a deadline is reached, whichever comes first, and the result is
// reported exactly once.
//
// Deliveries from the event source and the deadline timer may arrive on any
// goroutine. They are serialized by the collector's mutex, so each one is
// processed to completion (filter call included) before the next is looked at.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// ErrFilterPanic wraps the value recovered from a panicking filter.
var ErrFilterPanic = errors.New("collector: filter panicked")

// State is the collector lifecycle. It moves from Collecting to Finished once.
type State int

const (
	StateCollecting State = iota
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FinishReason records which condition ended the collection.
type FinishReason string

const (
	ReasonLimit   FinishReason = "limit"
	ReasonTimeout FinishReason = "timeout"
	ReasonStopped FinishReason = "stopped"
)

func (r FinishReason) String() string { return string(r) }

// Result is the completion payload. Messages is never modified after the
// collector finishes.
type Result struct {
	CollectorID  string
	Trigger      domain.Message
	Messages     *Collection
	Reason       FinishReason
	Limit        int
	Timeout      time.Duration
	FilterErrors int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Len returns the number of collected messages.
func (r *Result) Len() int { return r.Messages.Len() }

// FinishedFunc observes the completion of a collector.
type FinishedFunc func(*Result)

// Collector is a bounded, single-use message collector. Create it with New.
type Collector struct {
	id      string
	source  domain.EventSource
	trigger domain.Message
	filter  Filter
	cfg     Config

	// deliverMu serializes deliveries, including the filter call.
	// Lock order is deliverMu then mu.
	deliverMu sync.Mutex

	mu           sync.Mutex
	state        State
	collected    *Collection
	filterErrors int
	startedAt    time.Time
	timer        *time.Timer
	subID        domain.SubscriptionID
	result       *Result
	listeners    []FinishedFunc
	done         chan struct{}
}

// New subscribes to message-created events on source and arms the deadline.
// A nil filter admits every candidate that passes the built-in checks
// (same channel as trigger, not trigger itself, not written by a bot).
func New(source domain.EventSource, trigger domain.Message, filter Filter, opts Options) (*Collector, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	cfg, err := NewConfig(opts)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = MatchAll()
	}

	c := &Collector{
		id:        uuid.NewString(),
		source:    source,
		trigger:   trigger,
		filter:    filter,
		cfg:       cfg,
		state:     StateCollecting,
		collected: newCollection(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	// Held until both the subscription and the timer exist, so an early
	// delivery or a zero timeout waits for construction to finish.
	c.mu.Lock()
	c.subID = source.Subscribe(domain.EventMessageCreated, c.handleEvent)
	c.timer = time.AfterFunc(cfg.Timeout(), c.onDeadline)
	c.mu.Unlock()

	logger.DebugCF("collector", "Collector started", map[string]interface{}{
		"collector_id": c.id,
		"channel_id":   trigger.ChannelID,
		"trigger_id":   trigger.ID,
		"limit":        cfg.Limit(),
		"timeout":      cfg.Timeout().String(),
	})
	return c, nil
}

// ID returns the collector's generated identifier.
func (c *Collector) ID() string { return c.id }

// Trigger returns the message that started the collection.
func (c *Collector) Trigger() domain.Message { return c.trigger }

// Config returns the validated configuration.
func (c *Collector) Config() Config { return c.cfg }

// State returns the current lifecycle state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Collected returns the messages gathered so far. While collecting it is a
// snapshot; once finished it is the final collection.
func (c *Collector) Collected() *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result != nil {
		return c.result.Messages
	}
	return c.collected.clone()
}

// Done is closed once the collector has finished, cleaned up and notified
// its listeners.
func (c *Collector) Done() <-chan struct{} { return c.done }

// Result returns the completion payload, if the collector has finished.
func (c *Collector) Result() (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.result != nil
}

// Wait blocks until the collector finishes or ctx is done. Cancelling ctx
// does not stop the collector; use Stop for that.
func (c *Collector) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-c.done:
		res, _ := c.Result()
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnFinished registers fn to receive the result. Listeners run once, in
// registration order, after cleanup and before Done is closed.
// Registering on a finished collector calls fn immediately.
func (c *Collector) OnFinished(fn FinishedFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.result == nil {
		c.listeners = append(c.listeners, fn)
		c.mu.Unlock()
		return
	}
	res := c.result
	c.mu.Unlock()
	c.notify(fn, res)
}

// Stop finishes the collection early with ReasonStopped. It is a no-op on a
// finished collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.state != StateCollecting {
		c.mu.Unlock()
		return
	}
	res, listeners := c.finishLocked(ReasonStopped)
	c.mu.Unlock()
	c.complete(res, listeners)
}

func (c *Collector) handleEvent(e domain.Event) {
	msg, ok := domain.MessageFromEvent(e)
	if !ok {
		return
	}

	c.deliverMu.Lock()
	res, listeners := c.admit(msg)
	c.deliverMu.Unlock()
	if res != nil {
		c.complete(res, listeners)
	}
}

// admit runs the checks and the filter for one delivery and returns a
// non-nil result when msg completed the collection. c.deliverMu must be held.
func (c *Collector) admit(msg domain.Message) (*Result, []FinishedFunc) {
	c.mu.Lock()
	ok := c.state == StateCollecting && c.eligible(msg)
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	// The filter runs without mu so it may inspect or stop the collector.
	admitted, err := c.runFilter(msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.filterErrors++
		logger.WarnCF("collector", "Filter failed, candidate rejected", map[string]interface{}{
			"collector_id": c.id,
			"message_id":   msg.ID,
			"error":        err.Error(),
		})
	}
	if !admitted || c.state != StateCollecting {
		return nil, nil
	}

	c.collected.set(msg)
	if c.collected.Len() < c.cfg.Limit() {
		return nil, nil
	}
	return c.finishLocked(ReasonLimit)
}

// eligible applies the fixed checks that run before the filter.
func (c *Collector) eligible(msg domain.Message) bool {
	return msg.SameChannel(c.trigger) &&
		msg.ID != c.trigger.ID &&
		!msg.AuthorIsBot
}

func (c *Collector) runFilter(msg domain.Message) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrFilterPanic, r)
		}
	}()
	ok, err = c.filter(msg)
	if err != nil {
		ok = false
	}
	return ok, err
}

func (c *Collector) onDeadline() {
	c.mu.Lock()
	if c.state != StateCollecting {
		c.mu.Unlock()
		return
	}
	res, listeners := c.finishLocked(ReasonTimeout)
	c.mu.Unlock()
	c.complete(res, listeners)
}

// finishLocked performs the single Collecting -> Finished transition.
// c.mu must be held.
func (c *Collector) finishLocked(reason FinishReason) (*Result, []FinishedFunc) {
	c.state = StateFinished
	c.result = &Result{
		CollectorID:  c.id,
		Trigger:      c.trigger,
		Messages:     c.collected,
		Reason:       reason,
		Limit:        c.cfg.Limit(),
		Timeout:      c.cfg.Timeout(),
		FilterErrors: c.filterErrors,
		StartedAt:    c.startedAt,
		FinishedAt:   time.Now(),
	}
	listeners := c.listeners
	c.listeners = nil
	return c.result, listeners
}

// complete runs outside c.mu so sources and listeners may call back into
// the collector.
func (c *Collector) complete(res *Result, listeners []FinishedFunc) {
	c.timer.Stop()
	c.source.Unsubscribe(domain.EventMessageCreated, c.subID)

	logger.DebugCF("collector", "Collector finished", map[string]interface{}{
		"collector_id": c.id,
		"reason":       string(res.Reason),
		"collected":    res.Len(),
		"elapsed":      res.FinishedAt.Sub(res.StartedAt).String(),
	})

	for _, fn := range listeners {
		c.notify(fn, res)
	}
	close(c.done)
}

func (c *Collector) notify(fn FinishedFunc, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("collector", "Finished listener panicked", map[string]interface{}{
				"collector_id": c.id,
				"panic":        r,
			})
		}
	}()
	fn(res)
}
