package feishu

import (
	"context"
	"testing"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/sipeed/msgcollector/pkg/domain"
)

func str(s string) *string { return &s }

func receiveEvent(senderType, msgType, content string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: str("ou_1"), UnionId: str("on_1")},
				SenderType: str(senderType),
				TenantKey:  str("tenant-1"),
			},
			Message: &larkim.EventMessage{
				MessageId:   str("om_1"),
				ChatId:      str("oc_1"),
				ChatType:    str("group"),
				MessageType: str(msgType),
				Content:     str(content),
				CreateTime:  str("1700000000123"),
			},
		},
	}
}

func TestToMessage(t *testing.T) {
	tests := []struct {
		name        string
		event       *larkim.P2MessageReceiveV1
		wantOK      bool
		wantContent string
		wantBot     bool
	}{
		{"text", receiveEvent("user", "text", `{"text":"vote blue"}`), true, "vote blue", false},
		{"bad text json", receiveEvent("user", "text", `not json`), true, "not json", false},
		{"image keeps raw", receiveEvent("user", "image", `{"image_key":"k"}`), true, `{"image_key":"k"}`, false},
		{"app sender", receiveEvent("app", "text", `{"text":"beep"}`), true, "beep", true},
		{"nil event", nil, false, "", false},
		{"no message", &larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{}}, false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToMessage(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", got.Content, tt.wantContent)
			}
			if got.AuthorIsBot != tt.wantBot {
				t.Errorf("AuthorIsBot = %v, want %v", got.AuthorIsBot, tt.wantBot)
			}
			if got.ID != "om_1" || got.ChannelID != "oc_1" || got.AuthorID != "ou_1" || got.GuildID != "tenant-1" {
				t.Errorf("unexpected ids: %+v", got)
			}
			if got.Platform != domain.ChannelFeishu || got.Metadata.Get("chat_type") != "group" {
				t.Errorf("unexpected platform data: %+v", got)
			}
			if !got.CreatedAt.Equal(time.UnixMilli(1700000000123)) {
				t.Errorf("CreatedAt = %s", got.CreatedAt)
			}
		})
	}
}

func TestSenderIDPreference(t *testing.T) {
	sender := &larkim.EventSender{SenderId: &larkim.UserId{UserId: str("u_1"), OpenId: str("ou_1")}}
	if got := senderID(sender); got != "u_1" {
		t.Errorf("senderID = %q, want u_1", got)
	}
	if got := senderID(nil); got != "" {
		t.Errorf("senderID(nil) = %q", got)
	}
}

func TestHandleMessageReceivePublishes(t *testing.T) {
	src := NewSource()
	var got []domain.Message
	src.Subscribe(domain.EventMessageCreated, func(e domain.Event) {
		if m, ok := domain.MessageFromEvent(e); ok {
			got = append(got, m)
		}
	})

	if err := src.HandleMessageReceive(context.Background(), receiveEvent("user", "text", `{"text":"one"}`)); err != nil {
		t.Fatalf("HandleMessageReceive: %v", err)
	}
	if err := src.HandleMessageReceive(context.Background(), nil); err != nil {
		t.Fatalf("HandleMessageReceive(nil): %v", err)
	}
	if len(got) != 1 || got[0].Content != "one" {
		t.Errorf("published %+v, want one message", got)
	}
}

func TestTextMessageRequest(t *testing.T) {
	req, err := textMessageRequest("oc_1", `say "hi"`)
	if err != nil {
		t.Fatalf("textMessageRequest: %v", err)
	}
	body := req.Body
	if body == nil || value(body.ReceiveId) != "oc_1" || value(body.MsgType) != larkim.MsgTypeText {
		t.Fatalf("unexpected body: %+v", body)
	}
	if value(body.Content) != `{"text":"say \"hi\""}` {
		t.Errorf("Content = %s", value(body.Content))
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient("", "secret"); err == nil {
		t.Error("expected error without app id")
	}
	if _, err := NewClient("cli_1", "secret"); err != nil {
		t.Errorf("NewClient: %v", err)
	}
}
