// Package feishu feeds Feishu (Lark) message events, received over the
// long-connection websocket, into an in-process event bus so collectors can
// subscribe to them.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// NewClient creates the Open API client used for replies.
func NewClient(appID, appSecret string) (*lark.Client, error) {
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("feishu app id and app secret are required")
	}
	return lark.NewClient(appID, appSecret), nil
}

// NewWSClient creates the long-connection client that delivers
// im.message.receive_v1 events to source.
func NewWSClient(appID, appSecret, verificationToken, encryptKey string, source *Source) *larkws.Client {
	dispatcher := larkdispatcher.NewEventDispatcher(verificationToken, encryptKey).
		OnP2MessageReceiveV1(source.HandleMessageReceive)
	return larkws.NewClient(appID, appSecret, larkws.WithEventHandler(dispatcher))
}

// Source publishes converted Feishu messages on its own bus.
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

// HandleMessageReceive is the dispatcher callback for received messages.
func (s *Source) HandleMessageReceive(_ context.Context, event *larkim.P2MessageReceiveV1) error {
	msg, ok := ToMessage(event)
	if !ok {
		logger.DebugC("feishu", "Skipping event without message")
		return nil
	}
	s.bus.Publish(domain.NewMessageCreatedEvent(msg))
	return nil
}

// ToMessage converts a receive event. Text payloads are unwrapped from
// their JSON envelope; other message types keep the raw content.
func ToMessage(event *larkim.P2MessageReceiveV1) (domain.Message, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return domain.Message{}, false
	}
	m := event.Event.Message
	sender := event.Event.Sender

	msg := domain.Message{
		ID:        value(m.MessageId),
		ChannelID: value(m.ChatId),
		AuthorID:  senderID(sender),
		Content:   content(m),
		Platform:  domain.ChannelFeishu,
		CreatedAt: parseMillis(value(m.CreateTime)),
	}
	if msg.ID == "" || msg.ChannelID == "" {
		return domain.Message{}, false
	}
	if sender != nil {
		msg.AuthorIsBot = value(sender.SenderType) == "app"
		if tenant := value(sender.TenantKey); tenant != "" {
			msg.GuildID = tenant
		}
	}
	if t := value(m.ChatType); t != "" {
		msg.Metadata.Set("chat_type", t)
	}
	if t := value(m.MessageType); t != "" {
		msg.Metadata.Set("message_type", t)
	}
	if root := value(m.RootId); root != "" {
		msg.Metadata.Set("root_id", root)
	}
	return msg, true
}

// senderID prefers the tenant user id, then the open id, then the union id.
func senderID(sender *larkim.EventSender) string {
	if sender == nil || sender.SenderId == nil {
		return ""
	}
	for _, id := range []*string{sender.SenderId.UserId, sender.SenderId.OpenId, sender.SenderId.UnionId} {
		if v := value(id); v != "" {
			return v
		}
	}
	return ""
}

func content(m *larkim.EventMessage) string {
	raw := value(m.Content)
	if raw == "" || value(m.MessageType) != larkim.MsgTypeText {
		return raw
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	return payload.Text
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Replier sends plain text replies to chats through the Open API.
type Replier struct {
	client *lark.Client
}

func NewReplier(client *lark.Client) *Replier {
	return &Replier{client: client}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	req, err := textMessageRequest(channelID, text)
	if err != nil {
		return err
	}
	resp, err := r.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("feishu send to %s: %w", channelID, err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu send to %s: code=%d msg=%s", channelID, resp.Code, resp.Msg)
	}
	return nil
}

func textMessageRequest(chatID, text string) (*larkim.CreateMessageReq, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal feishu text: %w", err)
	}
	return larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(payload)).
			Build()).
		Build(), nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
