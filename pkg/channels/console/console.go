// Package console turns lines typed in a terminal into chat messages so
// collectors and presets can be tried without a chat platform.
//
// A line "alice: yes" is posted by alice; any other line is posted by the
// default user. The author name "bot" marks the message as automated.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
)

// ChannelID is the single channel every console message is posted in.
const ChannelID = "console"

// Source reads lines with readline and publishes them on its own bus.
type Source struct {
	bus           *eventbus.InProcessEventBus
	defaultAuthor string

	mu  sync.Mutex
	out io.Writer
}

// NewSource creates a console source. Replies go to out until Run starts,
// then to the readline terminal.
func NewSource(defaultAuthor string, out io.Writer) *Source {
	if defaultAuthor == "" {
		defaultAuthor = "you"
	}
	return &Source{bus: eventbus.New(), defaultAuthor: defaultAuthor, out: out}
}

func (s *Source) Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	return s.bus.Subscribe(eventType, handler)
}

func (s *Source) Unsubscribe(eventType domain.EventType, id domain.SubscriptionID) bool {
	return s.bus.Unsubscribe(eventType, id)
}

// Post publishes a single line as if it had been typed.
func (s *Source) Post(line string) (domain.Message, bool) {
	msg, ok := ParseLine(line, s.defaultAuthor)
	if !ok {
		return msg, false
	}
	s.bus.Publish(domain.NewMessageCreatedEvent(msg))
	return msg, true
}

// Run reads lines until ctx is done, EOF or Ctrl-C.
func (s *Source) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	s.mu.Lock()
	s.out = rl.Stdout()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read line: %w", err)
		}
		s.Post(line)
	}
}

// Reply prints text prefixed with the channel it was addressed to.
func (s *Source) Reply(_ context.Context, channelID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	_, err := fmt.Fprintf(s.out, "[%s] %s\n", channelID, text)
	return err
}

// ParseLine converts a typed line into a message. Blank lines are dropped.
func ParseLine(line, defaultAuthor string) (domain.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Message{}, false
	}

	author, content := defaultAuthor, line
	if name, rest, ok := strings.Cut(line, ":"); ok && isName(name) {
		author, content = name, strings.TrimSpace(rest)
	}

	return domain.Message{
		ID:          domain.NewID().String(),
		ChannelID:   ChannelID,
		AuthorID:    author,
		AuthorName:  author,
		AuthorIsBot: strings.EqualFold(author, "bot"),
		Content:     content,
		Platform:    domain.ChannelConsole,
		CreatedAt:   time.Now().UTC(),
	}, true
}

func isName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
