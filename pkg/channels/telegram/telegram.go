// Package telegram feeds telego updates into an in-process event bus so
// collectors can subscribe to them.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
)

// NewBot creates a telego bot for token.
func NewBot(token string) (*telego.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// Source publishes converted Telegram messages on its own bus.
type Source struct {
	bus *eventbus.InProcessEventBus
}

func NewSource() *Source {
	return &Source{bus: eventbus.New()}
}

func (s *Source) Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	return s.bus.Subscribe(eventType, handler)
}

func (s *Source) Unsubscribe(eventType domain.EventType, id domain.SubscriptionID) bool {
	return s.bus.Unsubscribe(eventType, id)
}

// Pump drains updates until ctx is done or updates is closed. Only new
// messages and channel posts are published; edits are skipped.
func (s *Source) Pump(ctx context.Context, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			m := u.Message
			if m == nil {
				m = u.ChannelPost
			}
			if m == nil {
				continue
			}
			s.bus.Publish(domain.NewMessageCreatedEvent(ToMessage(m)))
		}
	}
}

// ToMessage converts a telego message. Captions stand in for text on media
// messages.
func ToMessage(m *telego.Message) domain.Message {
	msg := domain.Message{
		ID:        strconv.Itoa(m.MessageID),
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Content:   m.Text,
		Platform:  domain.ChannelTelegram,
		CreatedAt: time.Unix(m.Date, 0).UTC(),
	}
	if msg.Content == "" {
		msg.Content = m.Caption
	}

	switch {
	case m.From != nil:
		msg.AuthorID = strconv.FormatInt(m.From.ID, 10)
		msg.AuthorName = displayName(m.From)
		msg.AuthorIsBot = m.From.IsBot
	case m.SenderChat != nil:
		msg.AuthorID = strconv.FormatInt(m.SenderChat.ID, 10)
		msg.AuthorName = m.SenderChat.Title
	}

	if m.MessageThreadID != 0 {
		msg.Metadata.Set("thread_id", strconv.Itoa(m.MessageThreadID))
	}
	if m.Chat.Type != "" {
		msg.Metadata.Set("chat_type", m.Chat.Type)
	}
	return msg
}

func displayName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Replier sends plain text replies through the Bot API.
type Replier struct {
	bot *telego.Bot
}

func NewReplier(bot *telego.Bot) *Replier {
	return &Replier{bot: bot}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", channelID, err)
	}
	_, err = r.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %s: %w", channelID, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
