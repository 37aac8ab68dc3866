// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_group_warden_bot/internal/config"
	"tg_group_warden_bot/internal/logging"
)

// recordTimeout bounds activity-ledger writes triggered by updates.
const recordTimeout = 5 * time.Second

type botRunner interface {
	Start(ctx context.Context)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"my_chat_member",
		"chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// ActivityRecorder receives membership and activity events observed in group
// chats.
type ActivityRecorder interface {
	RecordMessage(ctx context.Context, chatID, memberID int64, nickname string) error
	RecordJoin(ctx context.Context, chatID, memberID int64, nickname string) error
	RecordLeave(ctx context.Context, chatID, memberID int64) error
}

// API is a late-bound facade over the bot's Telegram API methods. Components
// constructed before the bot exists (the roster service, the report sender)
// hold the facade; NewClient binds it to the real bot.
type API struct {
	mu  sync.RWMutex
	bot *bot.Bot
}

// NewAPI constructs an unbound API facade; NewClient binds it.
func NewAPI() *API {
	return &API{}
}

func (a *API) bind(b *bot.Bot) {
	a.mu.Lock()
	a.bot = b
	a.mu.Unlock()
}

func (a *API) delegate() (*bot.Bot, error) {
	if a == nil {
		return nil, errors.New("telegram api is not initialized")
	}

	a.mu.RLock()
	b := a.bot
	a.mu.RUnlock()

	if b == nil {
		return nil, errors.New("telegram api is not bound to a bot")
	}

	return b, nil
}

// SendText sends text to the chat identified by the decimal chatID.
func (a *API) SendText(ctx context.Context, chatID string, text string) error {
	b, err := a.delegate()
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: text}); err != nil {
		return fmt.Errorf("send message to %d: %w", id, err)
	}

	return nil
}

// GetChat delegates to the bound bot.
func (a *API) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	b, err := a.delegate()
	if err != nil {
		return nil, err
	}
	return b.GetChat(ctx, params)
}

// GetChatAdministrators delegates to the bound bot.
func (a *API) GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error) {
	b, err := a.delegate()
	if err != nil {
		return nil, err
	}
	return b.GetChatAdministrators(ctx, params)
}

// GetChatMember delegates to the bound bot.
func (a *API) GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error) {
	b, err := a.delegate()
	if err != nil {
		return nil, err
	}
	return b.GetChatMember(ctx, params)
}

// BanChatMember delegates to the bound bot.
func (a *API) BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error) {
	b, err := a.delegate()
	if err != nil {
		return false, err
	}
	return b.BanChatMember(ctx, params)
}

// UnbanChatMember delegates to the bound bot.
func (a *API) UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error) {
	b, err := a.delegate()
	if err != nil {
		return false, err
	}
	return b.UnbanChatMember(ctx, params)
}

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot    botRunner
	logger *logrus.Entry
}

// Option customizes client construction.
type Option func(*settings)

type settings struct {
	recorder   ActivityRecorder
	api        *API
	commandOpt []bot.Option
}

// WithActivityRecorder wires the activity ledger into update processing.
func WithActivityRecorder(recorder ActivityRecorder) Option {
	return func(s *settings) {
		s.recorder = recorder
	}
}

// WithAPI binds the late-bound API facade to the created bot.
func WithAPI(api *API) Option {
	return func(s *settings) {
		s.api = api
	}
}

// WithCommandOptions appends bot options registering command handlers.
func WithCommandOptions(opts ...bot.Option) Option {
	return func(s *settings) {
		s.commandOpt = append(s.commandOpt, opts...)
	}
}

// NewClient initializes the Telegram bot with long polling, the default
// update handler, and any configured command handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	botOptions := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(defaultHandler(logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if s.recorder != nil {
		botOptions = append(botOptions, bot.WithMiddlewares(activityMiddleware(s.recorder, logger)))
	}
	botOptions = append(botOptions, s.commandOpt...)

	tgBot, err := createBot(cfg.TelegramToken, botOptions...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	if s.api != nil {
		if concrete, ok := tgBot.(*bot.Bot); ok {
			s.api.bind(concrete)
		}
	}

	return &Client{
		bot:    tgBot,
		logger: logger,
	}, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// activityMiddleware records group activity from every update before routing
// continues, so command messages count as activity too.
func activityMiddleware(recorder ActivityRecorder, logger *logrus.Entry) bot.Middleware {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			recordActivity(ctx, recorder, logger, update)
			next(ctx, b, update)
		}
	}
}

func recordActivity(ctx context.Context, recorder ActivityRecorder, logger *logrus.Entry, update *models.Update) {
	if update == nil {
		return
	}

	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	switch {
	case update.Message != nil:
		recordMessageActivity(recordCtx, recorder, logger, update.Message)
	case update.EditedMessage != nil:
		recordMessageActivity(recordCtx, recorder, logger, update.EditedMessage)
	case update.ChatMember != nil:
		recordMembershipChange(recordCtx, recorder, logger, update.ChatMember)
	}
}

func recordMessageActivity(ctx context.Context, recorder ActivityRecorder, logger *logrus.Entry, msg *models.Message) {
	if msg == nil || msg.From == nil {
		return
	}
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		return
	}

	if err := recorder.RecordMessage(ctx, msg.Chat.ID, msg.From.ID, displayName(msg.From)); err != nil {
		logger.WithFields(logging.Fields{
			"event":   "activity_record_failed",
			"chat_id": msg.Chat.ID,
			"user_id": msg.From.ID,
		}).WithError(err).Error("failed to record message activity")
	}

	for _, joined := range msg.NewChatMembers {
		user := joined
		if user.IsBot {
			continue
		}
		if err := recorder.RecordJoin(ctx, msg.Chat.ID, user.ID, displayName(&user)); err != nil {
			logger.WithFields(logging.Fields{
				"event":   "join_record_failed",
				"chat_id": msg.Chat.ID,
				"user_id": user.ID,
			}).WithError(err).Error("failed to record member join")
		}
	}

	if left := msg.LeftChatMember; left != nil && !left.IsBot {
		if err := recorder.RecordLeave(ctx, msg.Chat.ID, left.ID); err != nil {
			logger.WithFields(logging.Fields{
				"event":   "leave_record_failed",
				"chat_id": msg.Chat.ID,
				"user_id": left.ID,
			}).WithError(err).Error("failed to record member leave")
		}
	}
}

func recordMembershipChange(ctx context.Context, recorder ActivityRecorder, logger *logrus.Entry, change *models.ChatMemberUpdated) {
	if change == nil {
		return
	}

	userID, joined, left := describeMembershipChange(&change.NewChatMember)
	if userID == 0 {
		return
	}

	var err error
	switch {
	case joined:
		err = recorder.RecordJoin(ctx, change.Chat.ID, userID, memberDisplayName(&change.NewChatMember))
	case left:
		err = recorder.RecordLeave(ctx, change.Chat.ID, userID)
	default:
		return
	}

	if err != nil {
		logger.WithFields(logging.Fields{
			"event":   "membership_record_failed",
			"chat_id": change.Chat.ID,
			"user_id": userID,
		}).WithError(err).Error("failed to record membership change")
	}
}

// describeMembershipChange extracts the affected user and whether the change
// is a join or a departure.
func describeMembershipChange(member *models.ChatMember) (userID int64, joined, left bool) {
	switch member.Type {
	case models.ChatMemberTypeMember:
		if member.Member != nil && member.Member.User != nil {
			return member.Member.User.ID, true, false
		}
	case models.ChatMemberTypeRestricted:
		if member.Restricted != nil && member.Restricted.User != nil {
			return member.Restricted.User.ID, member.Restricted.IsMember, !member.Restricted.IsMember
		}
	case models.ChatMemberTypeLeft:
		if member.Left != nil && member.Left.User != nil {
			return member.Left.User.ID, false, true
		}
	case models.ChatMemberTypeBanned:
		if member.Banned != nil && member.Banned.User != nil {
			return member.Banned.User.ID, false, true
		}
	}

	return 0, false, false
}

func memberDisplayName(member *models.ChatMember) string {
	switch member.Type {
	case models.ChatMemberTypeMember:
		if member.Member != nil {
			return displayName(member.Member.User)
		}
	case models.ChatMemberTypeRestricted:
		if member.Restricted != nil {
			return displayName(member.Restricted.User)
		}
	}
	return ""
}

func displayName(user *models.User) string {
	if user == nil {
		return ""
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func defaultHandler(logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}

		if meta.text != "" {
			fields["text"] = meta.text
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}

		logger.WithFields(fields).Debug("telegram update received")
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     userID(&update.MyChatMember.From),
			chatID:     chatID(&update.MyChatMember.Chat),
			updateType: "my_chat_member",
		}
	case update.ChatMember != nil:
		return updateMeta{
			userID:     userID(&update.ChatMember.From),
			chatID:     chatID(&update.ChatMember.Chat),
			updateType: "chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}
