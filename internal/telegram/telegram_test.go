package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_group_warden_bot/internal/config"
)

type fakeBot struct {
	startedWith context.Context
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

type recordedEvent struct {
	kind     string
	chatID   int64
	memberID int64
	nickname string
}

type fakeRecorder struct {
	events []recordedEvent
	err    error
}

func (r *fakeRecorder) RecordMessage(_ context.Context, chatID, memberID int64, nickname string) error {
	r.events = append(r.events, recordedEvent{"message", chatID, memberID, nickname})
	return r.err
}

func (r *fakeRecorder) RecordJoin(_ context.Context, chatID, memberID int64, nickname string) error {
	r.events = append(r.events, recordedEvent{"join", chatID, memberID, nickname})
	return r.err
}

func (r *fakeRecorder) RecordLeave(_ context.Context, chatID, memberID int64) error {
	r.events = append(r.events, recordedEvent{kind: "leave", chatID: chatID, memberID: memberID})
	return r.err
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 3 {
		t.Fatalf("expected 3 bot options (allowed updates, default handler, error handler), got %d", len(gotOptions))
	}
}

func TestNewClientAppliesRecorderAndCommandOptions(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotOptions []bot.Option
	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		gotOptions = options
		return &fakeBot{}, nil
	}

	commandOpts := []bot.Option{
		bot.WithMessageTextHandler("/bind", bot.MatchTypePrefix, func(context.Context, *bot.Bot, *models.Update) {}),
		bot.WithMessageTextHandler("/unbind", bot.MatchTypePrefix, func(context.Context, *bot.Bot, *models.Update) {}),
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := NewClient(config.Config{TelegramToken: "token"}, logrus.NewEntry(logger),
		WithActivityRecorder(&fakeRecorder{}),
		WithCommandOptions(commandOpts...),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	// base 3 + middleware + 2 command handlers
	if len(gotOptions) != 6 {
		t.Fatalf("expected 6 bot options, got %d", len(gotOptions))
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.Config{}, nil); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botRunner, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	client := &Client{
		bot:    &fakeBot{},
		logger: logrus.NewEntry(hookLogger),
	}

	ctx := context.Background()
	client.Start(ctx)

	if fb, ok := client.bot.(*fakeBot); ok {
		if fb.startedWith != ctx {
			t.Fatalf("expected bot to start with provided context")
		}
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}

	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestAPIUnboundReturnsErrors(t *testing.T) {
	api := NewAPI()

	if err := api.SendText(context.Background(), "-100", "hi"); err == nil {
		t.Fatalf("expected error from unbound facade")
	}
	if _, err := api.GetChat(context.Background(), &bot.GetChatParams{ChatID: int64(-100)}); err == nil {
		t.Fatalf("expected error from unbound facade")
	}
	if _, err := api.BanChatMember(context.Background(), &bot.BanChatMemberParams{}); err == nil {
		t.Fatalf("expected error from unbound facade")
	}

	var nilAPI *API
	if _, err := nilAPI.GetChatMember(context.Background(), &bot.GetChatMemberParams{}); err == nil {
		t.Fatalf("expected error from nil facade")
	}
}

func TestRecordActivityMessage(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	recorder := &fakeRecorder{}

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 42, FirstName: "Alice"},
			Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			Text: "hello",
		},
	}

	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), update)

	if len(recorder.events) != 1 {
		t.Fatalf("expected 1 recorded event, got %v", recorder.events)
	}
	got := recorder.events[0]
	if got.kind != "message" || got.chatID != -100 || got.memberID != 42 || got.nickname != "Alice" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestRecordActivityIgnoresPrivateChats(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	recorder := &fakeRecorder{}

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 42},
			Chat: models.Chat{ID: 42, Type: models.ChatTypePrivate},
			Text: "hello",
		},
	}

	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), update)

	if len(recorder.events) != 0 {
		t.Fatalf("private chats must not be tracked, got %v", recorder.events)
	}
}

func TestRecordActivityServiceMessages(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	recorder := &fakeRecorder{}

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 1, FirstName: "Admin"},
			Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			NewChatMembers: []models.User{
				{ID: 42, FirstName: "Alice"},
				{ID: 43, FirstName: "HelperBot", IsBot: true},
			},
		},
	}

	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), update)

	var joins []recordedEvent
	for _, ev := range recorder.events {
		if ev.kind == "join" {
			joins = append(joins, ev)
		}
	}
	if len(joins) != 1 || joins[0].memberID != 42 {
		t.Fatalf("expected only the human join recorded, got %v", recorder.events)
	}

	recorder.events = nil
	update = &models.Update{
		Message: &models.Message{
			From:           &models.User{ID: 42, FirstName: "Alice"},
			Chat:           models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			LeftChatMember: &models.User{ID: 42, FirstName: "Alice"},
		},
	}

	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), update)

	var leaves []recordedEvent
	for _, ev := range recorder.events {
		if ev.kind == "leave" {
			leaves = append(leaves, ev)
		}
	}
	if len(leaves) != 1 || leaves[0].memberID != 42 {
		t.Fatalf("expected one leave recorded, got %v", recorder.events)
	}
}

func TestRecordActivityChatMemberUpdates(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	recorder := &fakeRecorder{}

	join := &models.Update{
		ChatMember: &models.ChatMemberUpdated{
			Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			NewChatMember: models.ChatMember{
				Type:   models.ChatMemberTypeMember,
				Member: &models.ChatMemberMember{User: &models.User{ID: 42, FirstName: "Alice"}},
			},
		},
	}
	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), join)

	if len(recorder.events) != 1 || recorder.events[0].kind != "join" || recorder.events[0].memberID != 42 {
		t.Fatalf("expected join from chat_member update, got %v", recorder.events)
	}

	recorder.events = nil
	left := &models.Update{
		ChatMember: &models.ChatMemberUpdated{
			Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			NewChatMember: models.ChatMember{
				Type: models.ChatMemberTypeLeft,
				Left: &models.ChatMemberLeft{User: &models.User{ID: 42}},
			},
		},
	}
	recordActivity(context.Background(), recorder, logrus.NewEntry(logger), left)

	if len(recorder.events) != 1 || recorder.events[0].kind != "leave" || recorder.events[0].memberID != 42 {
		t.Fatalf("expected leave from chat_member update, got %v", recorder.events)
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10},
					Chat: models.Chat{ID: 20},
					Text: " hello ",
				},
			},
			want: updateMeta{userID: 10, chatID: 20, text: "hello", updateType: "message"},
		},
		{
			name: "edited message",
			update: &models.Update{
				EditedMessage: &models.Message{
					From: &models.User{ID: 11},
					Chat: models.Chat{ID: 21},
					Text: "updated",
				},
			},
			want: updateMeta{userID: 11, chatID: 21, text: "updated", updateType: "edited_message"},
		},
		{
			name: "my chat member",
			update: &models.Update{
				MyChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 13},
					Chat: models.Chat{ID: 23},
				},
			},
			want: updateMeta{userID: 13, chatID: 23, updateType: "my_chat_member"},
		},
		{
			name: "chat member",
			update: &models.Update{
				ChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 14},
					Chat: models.Chat{ID: 24},
				},
			},
			want: updateMeta{userID: 14, chatID: 24, updateType: "chat_member"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got.userID != tt.want.userID || got.chatID != tt.want.chatID || got.text != tt.want.text || got.updateType != tt.want.updateType {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultHandlerLogsUpdate(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)
	handler := defaultHandler(logrus.NewEntry(hookLogger))

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	}

	handler(context.Background(), nil, update)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry from handler")
	}

	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if entry.Data["text"] != "ping" {
		t.Fatalf("expected text=ping, got %v", entry.Data["text"])
	}
	if entry.Data["update_type"] != "message" {
		t.Fatalf("expected update_type=message, got %v", entry.Data["update_type"])
	}
}
