package channel

import (
	"net/http"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ironwillhq/ironwill/internal/bus"
	"github.com/ironwillhq/ironwill/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if !ch.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, []string{"user1", "user2"})

	if !ch.IsAllowed("user1") {
		t.Error("should allow user1")
	}
	if ch.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewTelegramChannel(config.TelegramConfig{}, b)
	if err == nil {
		t.Error("expected error for empty token")
	}
}

type mockBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (m *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}
func (m *mockBot) StopReceivingUpdates() {}
func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}
func (m *mockBot) GetSelf() tgbotapi.User { return tgbotapi.User{UserName: "ironwill_test_bot"} }

func newTestChannel(t *testing.T, allowFrom []string) (*TelegramChannel, *mockBot, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(10)
	bot := &mockBot{}
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return bot, nil
	}
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "test-token", AllowFrom: allowFrom}, b, factory)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	ch.SetBot(bot)
	return ch, bot, b
}

func TestTelegramSend(t *testing.T) {
	ch, bot, _ := newTestChannel(t, nil)

	err := ch.Send(bus.OutboundMessage{ChatID: "42", Content: "NUDGE: 2 days without a check-in."})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", bot.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "NUDGE") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestTelegramSend_ChunksLongMessages(t *testing.T) {
	ch, bot, _ := newTestChannel(t, nil)

	long := strings.Repeat("line of intervention text\n", 400) // ~10k chars
	if err := ch.Send(bus.OutboundMessage{ChatID: "42", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) < 3 {
		t.Errorf("sent %d chunks, want at least 3", len(bot.sent))
	}
}

func TestTelegramSend_InvalidChatID(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}); err == nil {
		t.Error("expected error for invalid chat id")
	}
}

func TestTelegramHandleMessage_Allowed(t *testing.T) {
	ch, _, b := newTestChannel(t, []string{"100"})

	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 100, UserName: "disciplined_dev"},
		Chat:      &tgbotapi.Chat{ID: 555},
		Text:      "/checkin sleep=7.5 training=yes",
		Date:      int(time.Now().Unix()),
	}
	ch.handleMessage(msg)

	select {
	case in := <-b.Inbound:
		if in.SenderID != "100" || in.ChatID != "555" {
			t.Errorf("inbound = %+v", in)
		}
		if !strings.HasPrefix(in.Content, "/checkin") {
			t.Errorf("content = %q", in.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound message not published")
	}
}

func TestTelegramHandleMessage_Rejected(t *testing.T) {
	ch, _, b := newTestChannel(t, []string{"100"})

	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999},
		Chat: &tgbotapi.Chat{ID: 555},
		Text: "hello",
		Date: int(time.Now().Unix()),
	}
	ch.handleMessage(msg)

	select {
	case in := <-b.Inbound:
		t.Errorf("unexpected inbound from rejected sender: %+v", in)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelManager_NoChannelsEnabled(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("enabled = %v, want none", m.EnabledChannels())
	}
}
