package domain

import "time"

// Message is the platform-neutral view of a chat message. Adapters convert
// SDK payloads into this shape before publishing them.
type Message struct {
	ID          string      `json:"id"`
	ChannelID   string      `json:"channel_id"`
	GuildID     string      `json:"guild_id,omitempty"`
	AuthorID    string      `json:"author_id"`
	AuthorName  string      `json:"author_name,omitempty"`
	AuthorIsBot bool        `json:"author_is_bot"`
	Content     string      `json:"content"`
	Platform    ChannelType `json:"platform"`
	CreatedAt   time.Time   `json:"created_at"`
	Metadata    Metadata    `json:"metadata,omitempty"`
}

// SameChannel reports whether both messages were posted in the same channel.
func (m Message) SameChannel(other Message) bool {
	return m.ChannelID == other.ChannelID
}

// NewMessageCreatedEvent wraps a message in an EventMessageCreated event.
func NewMessageCreatedEvent(msg Message) BaseEvent {
	return NewEvent(EventMessageCreated, EntityID(msg.ID), msg)
}

// MessageFromEvent extracts the message payload of an EventMessageCreated
// event. Both value and pointer payloads are accepted.
func MessageFromEvent(e Event) (Message, bool) {
	if e == nil || e.EventType() != EventMessageCreated {
		return Message{}, false
	}
	switch p := e.Payload().(type) {
	case Message:
		return p, true
	case *Message:
		if p == nil {
			return Message{}, false
		}
		return *p, true
	default:
		return Message{}, false
	}
}
