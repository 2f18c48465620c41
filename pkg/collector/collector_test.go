package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
)

// fakeSource keeps the last registered handler so tests can deliver events
// even after the collector unsubscribed.
type fakeSource struct {
	mu           sync.Mutex
	handler      domain.EventHandler
	subscribed   int
	unsubscribed int
}

func (f *fakeSource) Subscribe(eventType domain.EventType, h domain.EventHandler) domain.SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.subscribed++
	return "sub-1"
}

func (f *fakeSource) Unsubscribe(eventType domain.EventType, id domain.SubscriptionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
	return id == "sub-1"
}

func (f *fakeSource) deliver(msg domain.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(domain.NewMessageCreatedEvent(msg))
}

func (f *fakeSource) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

var trigger = domain.Message{ID: "t1", ChannelID: "c1", AuthorID: "u1", Content: "!collect"}

func candidate(id string) domain.Message {
	return domain.Message{ID: id, ChannelID: "c1", AuthorID: "u2", Content: "answer " + id}
}

func waitResult(t *testing.T, c *Collector, within time.Duration) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	res, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("collector did not finish within %s: %v", within, err)
	}
	return res
}

func countFinished(c *Collector) *atomic.Int32 {
	var n atomic.Int32
	c.OnFinished(func(*Result) { n.Add(1) })
	return &n
}

func TestIgnoresOtherChannels(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	other := candidate("m1")
	other.ChannelID = "c2"
	src.deliver(other)

	if c.State() != StateCollecting {
		t.Fatalf("state = %s, want collecting", c.State())
	}
	if c.Collected().Len() != 0 {
		t.Errorf("collected %d messages from another channel", c.Collected().Len())
	}
}

func TestNeverCollectsTrigger(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, MatchAll(), Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	src.deliver(trigger)

	if c.Collected().Has(trigger.ID) {
		t.Error("trigger message was collected")
	}
	if c.State() != StateCollecting {
		t.Errorf("state = %s, want collecting", c.State())
	}
}

func TestNeverCollectsBots(t *testing.T) {
	src := &fakeSource{}
	filterCalls := 0
	filter := Predicate(func(domain.Message) bool {
		filterCalls++
		return true
	})
	c, err := New(src, trigger, filter, Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	bot := candidate("m1")
	bot.AuthorIsBot = true
	src.deliver(bot)

	if c.Collected().Len() != 0 {
		t.Error("bot message was collected")
	}
	if filterCalls != 0 {
		t.Errorf("filter called %d times for a bot message", filterCalls)
	}
}

func TestFilterRejection(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, ContentContains("yes", true), Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	no := candidate("m1")
	no.Content = "no thanks"
	src.deliver(no)
	if c.Collected().Len() != 0 {
		t.Fatal("rejected candidate was collected")
	}

	yes := candidate("m2")
	yes.Content = "YES please"
	src.deliver(yes)

	res := waitResult(t, c, time.Second)
	if !res.Messages.Has("m2") || res.Len() != 1 {
		t.Errorf("collected %v, want [m2]", res.Messages.IDs())
	}
}

func TestLimitCompletesExactlyOnce(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 2, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	finished := countFinished(c)

	src.deliver(candidate("m1"))
	if c.State() != StateCollecting {
		t.Fatal("finished after the first admission")
	}
	src.deliver(candidate("m2"))

	if c.State() != StateFinished {
		t.Fatal("not finished after the second admission")
	}
	res, ok := c.Result()
	if !ok {
		t.Fatal("no result after finishing")
	}
	if res.Reason != ReasonLimit {
		t.Errorf("reason = %s, want limit", res.Reason)
	}
	if res.Len() != 2 {
		t.Errorf("collected %d, want 2", res.Len())
	}

	// Past the original deadline: the stopped timer must not fire again.
	time.Sleep(200 * time.Millisecond)
	if got := finished.Load(); got != 1 {
		t.Errorf("finished fired %d times, want 1", got)
	}
	if src.unsubscribeCount() != 1 {
		t.Errorf("unsubscribed %d times, want 1", src.unsubscribeCount())
	}
}

func TestTimeoutCompletesWithPartialResult(t *testing.T) {
	for _, n := range []int{0, 1} {
		t.Run(fmt.Sprintf("%d collected", n), func(t *testing.T) {
			src := &fakeSource{}
			c, err := New(src, trigger, nil, Options{Limit: 5, Timeout: 50 * time.Millisecond})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			finished := countFinished(c)

			for i := 0; i < n; i++ {
				src.deliver(candidate(fmt.Sprintf("m%d", i)))
			}

			res := waitResult(t, c, 2*time.Second)
			if res.Reason != ReasonTimeout {
				t.Errorf("reason = %s, want timeout", res.Reason)
			}
			if res.Len() != n {
				t.Errorf("collected %d, want %d", res.Len(), n)
			}
			if elapsed := res.FinishedAt.Sub(res.StartedAt); elapsed < 50*time.Millisecond {
				t.Errorf("finished after %s, before the deadline", elapsed)
			}

			time.Sleep(50 * time.Millisecond)
			if got := finished.Load(); got != 1 {
				t.Errorf("finished fired %d times, want 1", got)
			}
		})
	}
}

func TestZeroTimeoutFinishesImmediately(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := waitResult(t, c, time.Second)
	if res.Reason != ReasonTimeout || res.Len() != 0 {
		t.Errorf("got reason %s with %d messages, want timeout with 0", res.Reason, res.Len())
	}
}

func TestDuplicateIDOverwrites(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 2, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	first := candidate("m1")
	first.Content = "first"
	second := candidate("m1")
	second.Content = "second"

	src.deliver(first)
	src.deliver(second)

	got := c.Collected()
	if got.Len() != 1 {
		t.Fatalf("collected %d, want 1", got.Len())
	}
	msg, _ := got.Get("m1")
	if msg.Content != "second" {
		t.Errorf("content = %q, want second", msg.Content)
	}
	if c.State() != StateCollecting {
		t.Error("duplicate id must not count toward the limit")
	}
}

func TestInertAfterFinish(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 1, Timeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	finished := countFinished(c)

	src.deliver(candidate("m1"))
	res := waitResult(t, c, time.Second)

	// A source that keeps delivering after unsubscribe must not change anything.
	src.deliver(candidate("m2"))
	src.deliver(candidate("m3"))
	c.onDeadline()
	c.Stop()
	time.Sleep(60 * time.Millisecond)

	if res.Len() != 1 || !res.Messages.Has("m1") {
		t.Errorf("final set changed: %v", res.Messages.IDs())
	}
	if c.Collected() != res.Messages {
		t.Error("Collected after finish should return the final collection")
	}
	if got := finished.Load(); got != 1 {
		t.Errorf("finished fired %d times, want 1", got)
	}
}

func TestStop(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 3, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.deliver(candidate("m1"))
	c.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	res, _ := c.Result()
	if res.Reason != ReasonStopped || res.Len() != 1 {
		t.Errorf("got reason %s with %d messages, want stopped with 1", res.Reason, res.Len())
	}
	if src.unsubscribeCount() != 1 {
		t.Errorf("unsubscribed %d times, want 1", src.unsubscribeCount())
	}
}

func TestFailingFilterRejectsCandidate(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name   string
		filter Filter
	}{
		{"error", func(domain.Message) (bool, error) { return true, errBoom }},
		{"panic", func(domain.Message) (bool, error) { panic("kaboom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			c, err := New(src, trigger, tt.filter, Options{Limit: 1, Timeout: time.Minute})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			src.deliver(candidate("m1"))
			src.deliver(candidate("m2"))
			c.Stop()

			res, _ := c.Result()
			if res.Len() != 0 {
				t.Errorf("collected %d messages through a failing filter", res.Len())
			}
			if res.FilterErrors != 2 {
				t.Errorf("FilterErrors = %d, want 2", res.FilterErrors)
			}
		})
	}
}

func TestOnFinishedAfterCompletion(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.deliver(candidate("m1"))

	var got *Result
	c.OnFinished(func(r *Result) { got = r })
	if got == nil || got.Len() != 1 {
		t.Fatal("late listener was not called with the result")
	}
}

func TestListenerPanicDoesNotBlockOthers(t *testing.T) {
	src := &fakeSource{}
	c, err := New(src, trigger, nil, Options{Limit: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.OnFinished(func(*Result) { panic("listener") })
	called := false
	c.OnFinished(func(*Result) { called = true })

	src.deliver(candidate("m1"))
	if !called {
		t.Error("second listener not called")
	}
}

func TestNewValidation(t *testing.T) {
	src := &fakeSource{}
	tests := []struct {
		name    string
		source  domain.EventSource
		opts    Options
		wantErr error
	}{
		{"negative limit", src, Options{Limit: -1, Timeout: time.Second}, ErrInvalidLimit},
		{"negative timeout", src, Options{Limit: 1, Timeout: -time.Second}, ErrInvalidTimeout},
		{"nil source", nil, Options{Limit: 1, Timeout: time.Second}, ErrNilSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.source, trigger, nil, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if src.subscribed != 0 {
		t.Errorf("invalid config subscribed %d times", src.subscribed)
	}
}

func TestConcurrentDeliveriesOnBus(t *testing.T) {
	bus := eventbus.New()
	const limit = 10
	c, err := New(bus, trigger, nil, Options{Limit: limit, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	finished := countFinished(c)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				bus.Publish(domain.NewMessageCreatedEvent(candidate(fmt.Sprintf("g%d-m%d", g, i))))
			}
		}(g)
	}
	wg.Wait()

	res := waitResult(t, c, time.Second)
	if res.Len() != limit {
		t.Errorf("collected %d, want %d", res.Len(), limit)
	}
	if got := finished.Load(); got != 1 {
		t.Errorf("finished fired %d times, want 1", got)
	}
	if bus.HandlerCount() != 0 {
		t.Errorf("collector still subscribed: %d handlers", bus.HandlerCount())
	}
}

func TestFilterMayCallBackIntoCollector(t *testing.T) {
	src := &fakeSource{}
	var c *Collector
	var seen []int
	filter := Predicate(func(msg domain.Message) bool {
		seen = append(seen, c.Collected().Len())
		if c.State() != StateCollecting {
			return false
		}
		if msg.ID == "stop" {
			c.Stop()
		}
		return true
	})
	c, err := New(src, trigger, filter, Options{Limit: 5, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	delivered := make(chan struct{})
	go func() {
		src.deliver(candidate("m1"))
		src.deliver(candidate("m2"))
		src.deliver(candidate("stop"))
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery blocked while the filter read its collector")
	}

	res := waitResult(t, c, time.Second)
	if res.Reason != ReasonStopped {
		t.Errorf("reason = %s, want stopped", res.Reason)
	}
	if res.Len() != 2 || res.Messages.Has("stop") {
		t.Errorf("collected %v, want [m1 m2]", res.Messages.IDs())
	}
	if fmt.Sprint(seen) != "[0 1 2]" {
		t.Errorf("filter saw sizes %v, want [0 1 2]", seen)
	}
}
