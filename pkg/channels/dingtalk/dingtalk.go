// Package dingtalk feeds DingTalk chatbot callbacks, received over Stream
// Mode, into an in-process event bus so collectors can subscribe to them.
//
// DingTalk only delivers group messages that mention the bot, so in group
// conversations collectors see the subset of replies addressed to it.
package dingtalk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// NewStreamClient creates a Stream Mode client that delivers chatbot
// callbacks to source. Start it with Start(ctx).
func NewStreamClient(clientID, clientSecret string, source *Source) (*client.StreamClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("dingtalk client id and client secret are required")
	}
	sc := client.NewStreamClient(
		client.WithAppCredential(client.NewAppCredentialConfig(clientID, clientSecret)),
		client.WithAutoReconnect(true),
	)
	sc.RegisterChatBotCallbackRouter(source.OnChatBotMessage)
	return sc, nil
}

// Source publishes converted DingTalk messages on its own bus and remembers
// the session webhook of each conversation for replies.
type Source struct {
	bus      *eventbus.InProcessEventBus
	webhooks sync.Map // conversation id -> session webhook
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

// OnChatBotMessage is the Stream Mode chatbot callback.
func (s *Source) OnChatBotMessage(_ context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if data == nil || data.ConversationId == "" {
		return nil, nil
	}
	if data.SessionWebhook != "" {
		s.webhooks.Store(data.ConversationId, data.SessionWebhook)
	}
	s.bus.Publish(domain.NewMessageCreatedEvent(ToMessage(data)))
	return nil, nil
}

// Webhook returns the latest session webhook seen for conversationID.
func (s *Source) Webhook(conversationID string) (string, bool) {
	v, ok := s.webhooks.Load(conversationID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// ToMessage converts a chatbot callback. The conversation id is the channel
// for both single and group chats.
func ToMessage(data *chatbot.BotCallbackDataModel) domain.Message {
	msg := domain.Message{
		ID:         data.MsgId,
		ChannelID:  data.ConversationId,
		GuildID:    data.SenderCorpId,
		AuthorID:   data.SenderStaffId,
		AuthorName: data.SenderNick,
		Content:    data.Text.Content,
		Platform:   domain.ChannelDingTalk,
	}
	if msg.AuthorID == "" {
		msg.AuthorID = data.SenderId
	}
	if msg.Content == "" {
		if m, ok := data.Content.(map[string]interface{}); ok {
			if text, ok := m["content"].(string); ok {
				msg.Content = text
			}
		}
	}
	if data.CreateAt > 0 {
		msg.CreatedAt = time.UnixMilli(data.CreateAt).UTC()
	}
	if data.ConversationType != "" {
		msg.Metadata.Set("conversation_type", data.ConversationType)
	}
	if data.ConversationTitle != "" {
		msg.Metadata.Set("conversation_title", data.ConversationTitle)
	}
	return msg
}

// WebhookLookup resolves the session webhook of a conversation.
type WebhookLookup interface {
	Webhook(conversationID string) (string, bool)
}

// Replier answers through the session webhook of the conversation, so it
// can only reply where a message has been received.
type Replier struct {
	webhooks WebhookLookup
	replier  *chatbot.ChatbotReplier
}

func NewReplier(webhooks WebhookLookup) *Replier {
	return &Replier{webhooks: webhooks, replier: chatbot.NewChatbotReplier()}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	webhook, ok := r.webhooks.Webhook(channelID)
	if !ok {
		logger.WarnCF("dingtalk", "No session webhook for conversation", map[string]interface{}{
			"conversation_id": channelID,
		})
		return fmt.Errorf("dingtalk reply to %s: no session webhook", channelID)
	}
	if err := r.replier.SimpleReplyText(ctx, webhook, []byte(text)); err != nil {
		return fmt.Errorf("dingtalk reply to %s: %w", channelID, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
