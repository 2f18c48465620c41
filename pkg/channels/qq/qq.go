// Package qq feeds QQ bot websocket events (direct messages and group
// messages that mention the bot) into an in-process event bus so
// collectors can subscribe to them.
package qq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/event"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"
	"golang.org/x/oauth2"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// Channel ids carry the conversation kind so replies pick the right API.
const (
	groupPrefix = "group:"
	userPrefix  = "user:"
)

// Bot bundles the token source and the Open API client.
type Bot struct {
	API    openapi.OpenAPI
	Tokens oauth2.TokenSource
}

// NewBot starts refreshing the access token for appID and creates the
// Open API client. The refresh stops when ctx ends.
func NewBot(ctx context.Context, appID, appSecret string, sandbox bool) (*Bot, error) {
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("qq app id and app secret are required")
	}
	tokens := token.NewQQBotTokenSource(&token.QQBotCredentials{AppID: appID, AppSecret: appSecret})
	if err := token.StartRefreshAccessToken(ctx, tokens); err != nil {
		return nil, fmt.Errorf("qq access token: %w", err)
	}
	api := botgo.NewOpenAPI(appID, tokens)
	if sandbox {
		api = botgo.NewSandboxOpenAPI(appID, tokens)
	}
	return &Bot{API: api.WithTimeout(10 * time.Second), Tokens: tokens}, nil
}

// Run connects the websocket session and delivers events to source. The
// session manager has no cancellation, so Run returns on ctx done while the
// session goroutine ends with the process.
func (b *Bot) Run(ctx context.Context, source *Source) error {
	intent := event.RegisterHandlers(source.C2CMessageHandler(), source.GroupATMessageHandler())
	ap, err := b.API.WS(ctx, nil, "")
	if err != nil {
		return fmt.Errorf("qq gateway: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- botgo.NewSessionManager().Start(ap, b.Tokens, &intent)
	}()
	logger.InfoC("qq", "Gateway connected")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("qq session: %w", err)
		}
		return nil
	}
}

// Source publishes converted QQ messages on its own bus and remembers the
// last message id per channel, which passive replies must reference.
type Source struct {
	bus    *eventbus.InProcessEventBus
	lastID sync.Map // channel id -> message id
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

// C2CMessageHandler handles direct messages.
func (s *Source) C2CMessageHandler() event.C2CMessageEventHandler {
	return func(_ *dto.WSPayload, data *dto.WSC2CMessageData) error {
		if data == nil || data.Author == nil || data.Author.ID == "" {
			return nil
		}
		s.publish(ToMessage((*dto.Message)(data), userPrefix+data.Author.ID))
		return nil
	}
}

// GroupATMessageHandler handles group messages that mention the bot.
func (s *Source) GroupATMessageHandler() event.GroupATMessageEventHandler {
	return func(_ *dto.WSPayload, data *dto.WSGroupATMessageData) error {
		if data == nil || data.GroupID == "" {
			return nil
		}
		s.publish(ToMessage((*dto.Message)(data), groupPrefix+data.GroupID))
		return nil
	}
}

func (s *Source) publish(msg domain.Message) {
	if msg.ID != "" {
		s.lastID.Store(msg.ChannelID, msg.ID)
	}
	s.bus.Publish(domain.NewMessageCreatedEvent(msg))
}

// LastMessageID returns the latest message id seen on channelID.
func (s *Source) LastMessageID(channelID string) string {
	v, ok := s.lastID.Load(channelID)
	if !ok {
		return ""
	}
	return v.(string)
}

// ToMessage converts a QQ message received on channelID. Group mentions
// arrive with a leading space, which is trimmed.
func ToMessage(m *dto.Message, channelID string) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: channelID,
		Content:   strings.TrimSpace(m.Content),
		Platform:  domain.ChannelQQ,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
	}
	if ts, err := time.Parse(time.RFC3339, string(m.Timestamp)); err == nil {
		msg.CreatedAt = ts.UTC()
	}
	return msg
}

// splitChannel reports the kind and raw id of an encoded channel id.
func splitChannel(channelID string) (group bool, id string, err error) {
	switch {
	case strings.HasPrefix(channelID, groupPrefix):
		return true, strings.TrimPrefix(channelID, groupPrefix), nil
	case strings.HasPrefix(channelID, userPrefix):
		return false, strings.TrimPrefix(channelID, userPrefix), nil
	}
	return false, "", fmt.Errorf("qq channel id %q has no group: or user: prefix", channelID)
}

// Replier posts passive replies to the last message seen on a channel.
type Replier struct {
	api    openapi.OpenAPI
	source *Source
}

func NewReplier(api openapi.OpenAPI, source *Source) *Replier {
	return &Replier{api: api, source: source}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	group, id, err := splitChannel(channelID)
	if err != nil {
		return err
	}
	msg := &dto.MessageToCreate{Content: text, MsgID: r.source.LastMessageID(channelID)}
	if group {
		_, err = r.api.PostGroupMessage(ctx, id, msg)
	} else {
		_, err = r.api.PostC2CMessage(ctx, id, msg)
	}
	if err != nil {
		return fmt.Errorf("qq send to %s: %w", channelID, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
