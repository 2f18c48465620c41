// Package slack feeds Slack Socket Mode message events into an in-process
// event bus so collectors can subscribe to them.
package slack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/eventbus"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// Subtypes that describe changes to existing messages, not new ones.
var ignoredSubtypes = map[string]bool{
	"message_changed": true,
	"message_deleted": true,
	"message_replied": true,
	"channel_join":    true,
	"channel_leave":   true,
}

// Acker acknowledges Socket Mode envelopes. *socketmode.Client implements it.
type Acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// NewClients creates the Web API client and the Socket Mode client.
func NewClients(botToken, appToken string, debug bool) (*slack.Client, *socketmode.Client, error) {
	if botToken == "" || appToken == "" {
		return nil, nil, fmt.Errorf("slack bot and app tokens are required")
	}
	if !strings.HasPrefix(appToken, "xapp-") {
		return nil, nil, fmt.Errorf("slack app token must start with xapp-")
	}
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken), slack.OptionDebug(debug))
	client := socketmode.New(api, socketmode.OptionDebug(debug))
	return api, client, nil
}

// Source publishes converted Slack messages on its own bus.
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

// Pump drains events until ctx is done or events is closed. Events API
// envelopes are acknowledged before their message is published.
func (s *Source) Pump(ctx context.Context, events <-chan socketmode.Event, ack Acker) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.handle(evt, ack)
		}
	}
}

func (s *Source) handle(evt socketmode.Event, ack Acker) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		logger.DebugC("slack", "Connecting to Socket Mode")
	case socketmode.EventTypeConnected:
		logger.InfoC("slack", "Connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		logger.WarnC("slack", "Socket Mode connection error")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil && ack != nil {
			ack.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		me, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || me == nil {
			return
		}
		msg, ok := ToMessage(me)
		if !ok {
			return
		}
		if apiEvent.TeamID != "" {
			msg.GuildID = apiEvent.TeamID
		}
		s.bus.Publish(domain.NewMessageCreatedEvent(msg))
	}
}

// ToMessage converts a Slack message event. It reports false for events
// that edit or delete existing messages. The message timestamp is used as
// the id, as Slack does.
func ToMessage(ev *slackevents.MessageEvent) (domain.Message, bool) {
	if ignoredSubtypes[ev.SubType] {
		return domain.Message{}, false
	}

	msg := domain.Message{
		ID:          ev.TimeStamp,
		ChannelID:   ev.Channel,
		AuthorID:    ev.User,
		AuthorName:  ev.Username,
		AuthorIsBot: ev.BotID != "" || ev.SubType == "bot_message",
		Content:     ev.Text,
		Platform:    domain.ChannelSlack,
		CreatedAt:   parseTimestamp(ev.TimeStamp),
	}
	if ev.ThreadTimeStamp != "" {
		msg.Metadata.Set("thread_ts", ev.ThreadTimeStamp)
	}
	if ev.ChannelType != "" {
		msg.Metadata.Set("channel_type", ev.ChannelType)
	}
	return msg, true
}

// parseTimestamp turns "1700000000.000100" into a time.
func parseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, usec*int64(time.Microsecond)).UTC()
}

// Replier posts plain text replies through the Web API.
type Replier struct {
	api *slack.Client
}

func NewReplier(api *slack.Client) *Replier {
	return &Replier{api: api}
}

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	if _, _, err := r.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post to %s: %w", channelID, err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ domain.EventSource = (*Source)(nil)
