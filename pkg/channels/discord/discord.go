// Package discord adapts a discordgo session to the collector's event
// source contract and sends replies through the REST API.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// Intents needed to see message content in guilds and DMs.
const Intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentMessageContent

// NewSession creates a bot session with Intents set. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Source implements domain.EventSource on top of discordgo handlers.
// Only domain.EventMessageCreated is supported.
type Source struct {
	session  *discordgo.Session
	mu       sync.Mutex
	removers map[domain.SubscriptionID]func()
}

// NewSource wraps an existing session.
func NewSource(session *discordgo.Session) *Source {
	return &Source{
		session:  session,
		removers: make(map[domain.SubscriptionID]func()),
	}
}

// Subscribe registers handler for messages created on the session.
func (s *Source) Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	if eventType != domain.EventMessageCreated {
		logger.WarnCF("discord", "Unsupported event type", map[string]interface{}{
			"event_type": string(eventType),
		})
		return ""
	}

	remove := s.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil {
			return
		}
		handler(domain.NewMessageCreatedEvent(ToMessage(m.Message)))
	})

	id := domain.SubscriptionID(uuid.NewString())
	s.mu.Lock()
	s.removers[id] = remove
	s.mu.Unlock()
	return id
}

// Unsubscribe removes a handler registered with Subscribe.
func (s *Source) Unsubscribe(eventType domain.EventType, id domain.SubscriptionID) bool {
	s.mu.Lock()
	remove, ok := s.removers[id]
	delete(s.removers, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	// With SyncEvents discordgo dispatches while holding its handler lock,
	// and removal needs that lock.
	if s.session.SyncEvents {
		go remove()
	} else {
		remove()
	}
	return true
}

// Subscriptions returns the number of live handlers.
func (s *Source) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.removers)
}

// ToMessage converts a discordgo message. Webhook posts count as bot messages.
func ToMessage(m *discordgo.Message) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Platform:  domain.ChannelDiscord,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
	}
	if m.WebhookID != "" {
		msg.AuthorIsBot = true
		msg.Metadata.Set("webhook_id", m.WebhookID)
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		msg.Metadata.Set("reply_to", m.MessageReference.MessageID)
	}
	return msg
}

// Replier posts plain text replies to a channel.
type Replier struct {
	session *discordgo.Session
}

func NewReplier(session *discordgo.Session) *Replier {
	return &Replier{session: session}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	if _, err := r.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %s: %w", channelID, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
