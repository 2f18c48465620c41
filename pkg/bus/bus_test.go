package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	got   []OutboundReply
	fail  map[string]bool
	block chan struct{}
}

func (s *recordingSender) Reply(ctx context.Context, channelID, text string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[text] {
		return errors.New("send failed")
	}
	s.got = append(s.got, OutboundReply{ChannelID: channelID, Text: text})
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, r := range s.got {
		out[i] = r.Text
	}
	return out
}

func runOutbox(o *Outbox) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		o.Run(context.Background())
		close(done)
	}()
	return done
}

func TestOutboxDeliversInOrder(t *testing.T) {
	sender := &recordingSender{fail: map[string]bool{"bad": true}}
	o := NewOutbox(sender, 0)
	done := runOutbox(o)

	for _, text := range []string{"one", "bad", "two", "three"} {
		if err := o.Reply(context.Background(), "c1", text); err != nil {
			t.Fatalf("Reply(%q): %v", text, err)
		}
	}
	o.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	got := sender.texts()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	stats := o.Stats()
	if stats["sent"] != int64(3) || stats["failed"] != int64(1) {
		t.Errorf("stats = %v", stats)
	}
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	sender := &recordingSender{}
	o := NewOutbox(sender, 2)

	// No worker yet, so the queue fills up.
	for _, text := range []string{"a", "b", "c"} {
		if err := o.Reply(context.Background(), "c1", text); err != nil {
			t.Fatalf("Reply: %v", err)
		}
	}
	o.Close()
	o.Run(context.Background())

	got := sender.texts()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("sent %v, want [b c]", got)
	}
	if o.Stats()["dropped"] != int64(1) {
		t.Errorf("dropped = %v, want 1", o.Stats()["dropped"])
	}
}

func TestOutboxReplyAfterClose(t *testing.T) {
	o := NewOutbox(&recordingSender{}, 1)
	o.Close()
	o.Close()
	if err := o.Reply(context.Background(), "c1", "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestOutboxReplyDoesNotBlockOnSlowSender(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	o := NewOutbox(sender, 4)
	done := runOutbox(o)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			o.Reply(context.Background(), "c1", "x")
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Reply blocked on a slow sender")
	}

	close(sender.block)
	o.Close()
	<-done
}
