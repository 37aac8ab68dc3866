package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_warden_bot/internal/domain"
	"tg_group_warden_bot/internal/logging"
)

// ErrNotMember signals a member lookup for someone who is not in the group.
var ErrNotMember = errors.New("not a member of the group")

// chatAPI captures the subset of Telegram Bot API calls the roster needs,
// allowing stubbing in tests.
type chatAPI interface {
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error)
}

type activityCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// activityRecord mirrors the ledger documents written by the activity feature.
type activityRecord struct {
	ChatID       int64     `bson:"chat_id"`
	MemberID     int64     `bson:"member_id"`
	Nickname     string    `bson:"nickname"`
	LastActiveAt time.Time `bson:"last_active_at"`
	Left         bool      `bson:"left"`
}

// TelegramService answers roster queries by combining the bot's activity
// ledger (membership and last activity, since Telegram exposes neither) with
// live chat-administrator lookups for roles and custom titles.
type TelegramService struct {
	api      chatAPI
	activity activityCollection
	logger   *logrus.Entry
}

// NewTelegramService constructs a TelegramService.
func NewTelegramService(api chatAPI, activity activityCollection, logger *logrus.Entry) *TelegramService {
	if logger == nil {
		logger = logging.Logger()
	}

	return &TelegramService{
		api:      api,
		activity: activity,
		logger:   logger,
	}
}

// FetchGroupInfo resolves the group's title, erroring when the bot cannot see
// the chat.
func (s *TelegramService) FetchGroupInfo(ctx context.Context, groupID string) (GroupInfo, error) {
	chatID, err := parseID(groupID, "group id")
	if err != nil {
		return GroupInfo{}, err
	}

	chat, err := s.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return GroupInfo{}, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return GroupInfo{}, fmt.Errorf("get chat %d: empty response", chatID)
	}

	return GroupInfo{Name: chat.Title}, nil
}

// FetchMemberList returns one entry per tracked member of the group. Roles
// and admin custom titles come from the live administrator list; everything
// else comes from the ledger. Administrators missing from the ledger are
// still listed, with a zero last activity.
func (s *TelegramService) FetchMemberList(ctx context.Context, groupID string) ([]domain.RosterEntry, error) {
	chatID, err := parseID(groupID, "group id")
	if err != nil {
		return nil, err
	}

	admins, err := s.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("get chat administrators for %d: %w", chatID, err)
	}

	privileged := make(map[int64]privilegedMember, len(admins))
	for _, admin := range admins {
		member, ok := describePrivileged(admin)
		if !ok {
			continue
		}
		privileged[member.userID] = member
	}

	cursor, err := s.activity.Find(ctx, bson.M{
		"chat_id": chatID,
		"left":    bson.M{"$ne": true},
	})
	if err != nil {
		return nil, fmt.Errorf("query activity ledger for %d: %w", chatID, err)
	}
	defer cursor.Close(ctx)

	entries := make([]domain.RosterEntry, 0)
	seen := make(map[int64]struct{})

	for cursor.Next(ctx) {
		var record activityRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("decode activity record: %w", err)
		}

		entry := domain.RosterEntry{
			MemberID:     strconv.FormatInt(record.MemberID, 10),
			Role:         domain.RoleMember,
			LastActiveAt: record.LastActiveAt,
			Nickname:     record.Nickname,
		}

		if member, ok := privileged[record.MemberID]; ok {
			entry.Role = member.role
			entry.Card = member.customTitle
			if entry.Nickname == "" {
				entry.Nickname = member.nickname
			}
		}

		seen[record.MemberID] = struct{}{}
		entries = append(entries, entry)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity ledger for %d: %w", chatID, err)
	}

	for userID, member := range privileged {
		if _, ok := seen[userID]; ok {
			continue
		}
		entries = append(entries, domain.RosterEntry{
			MemberID: strconv.FormatInt(userID, 10),
			Role:     member.role,
			Nickname: member.nickname,
			Card:     member.customTitle,
		})
	}

	s.logger.WithFields(logging.Fields{
		"event":   "roster_fetched",
		"chat_id": chatID,
		"members": len(entries),
		"admins":  len(privileged),
	}).Debug("fetched member list")

	return entries, nil
}

// FetchMemberInfo resolves a single member's nickname and custom title,
// returning ErrNotMember when the member has left or was banned.
func (s *TelegramService) FetchMemberInfo(ctx context.Context, groupID, memberID string) (MemberInfo, error) {
	chatID, err := parseID(groupID, "group id")
	if err != nil {
		return MemberInfo{}, err
	}
	userID, err := parseID(memberID, "member id")
	if err != nil {
		return MemberInfo{}, err
	}

	member, err := s.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return MemberInfo{}, fmt.Errorf("get chat member %d of %d: %w", userID, chatID, err)
	}
	if member == nil {
		return MemberInfo{}, fmt.Errorf("get chat member %d of %d: empty response", userID, chatID)
	}

	switch member.Type {
	case models.ChatMemberTypeOwner:
		if member.Owner == nil {
			return MemberInfo{}, fmt.Errorf("get chat member %d of %d: malformed owner", userID, chatID)
		}
		return MemberInfo{Nickname: fullName(member.Owner.User), Card: member.Owner.CustomTitle}, nil
	case models.ChatMemberTypeAdministrator:
		if member.Administrator == nil {
			return MemberInfo{}, fmt.Errorf("get chat member %d of %d: malformed administrator", userID, chatID)
		}
		return MemberInfo{Nickname: fullName(&member.Administrator.User), Card: member.Administrator.CustomTitle}, nil
	case models.ChatMemberTypeMember:
		if member.Member == nil {
			return MemberInfo{}, fmt.Errorf("get chat member %d of %d: malformed member", userID, chatID)
		}
		return MemberInfo{Nickname: fullName(member.Member.User)}, nil
	case models.ChatMemberTypeRestricted:
		if member.Restricted == nil || !member.Restricted.IsMember {
			return MemberInfo{}, ErrNotMember
		}
		return MemberInfo{Nickname: fullName(member.Restricted.User)}, nil
	default:
		return MemberInfo{}, ErrNotMember
	}
}

// RemoveMember kicks the member from the group. Telegram's kick is a ban, so
// when allowRejoin is set the member is unbanned right after; the net effect
// is removal without rejecting a later re-join request.
func (s *TelegramService) RemoveMember(ctx context.Context, groupID, memberID string, allowRejoin bool) error {
	chatID, err := parseID(groupID, "group id")
	if err != nil {
		return err
	}
	userID, err := parseID(memberID, "member id")
	if err != nil {
		return err
	}

	if _, err := s.api.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("kick member %d from %d: %w", userID, chatID, err)
	}

	if allowRejoin {
		if _, err := s.api.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
			ChatID:       chatID,
			UserID:       userID,
			OnlyIfBanned: true,
		}); err != nil {
			return fmt.Errorf("lift rejoin ban for member %d of %d: %w", userID, chatID, err)
		}
	}

	s.logger.WithFields(logging.Fields{
		"event":        "member_removed",
		"chat_id":      chatID,
		"member_id":    userID,
		"allow_rejoin": allowRejoin,
	}).Info("removed group member")

	return nil
}

// IsPrivileged reports whether userID is the owner or an administrator of the
// group. The moderation commands gate on this.
func (s *TelegramService) IsPrivileged(ctx context.Context, groupID string, userID int64) (bool, error) {
	chatID, err := parseID(groupID, "group id")
	if err != nil {
		return false, err
	}

	member, err := s.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return false, fmt.Errorf("get chat member %d of %d: %w", userID, chatID, err)
	}
	if member == nil {
		return false, nil
	}

	return member.Type == models.ChatMemberTypeOwner || member.Type == models.ChatMemberTypeAdministrator, nil
}

type privilegedMember struct {
	userID      int64
	role        domain.Role
	nickname    string
	customTitle string
}

func describePrivileged(member models.ChatMember) (privilegedMember, bool) {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		if member.Owner == nil || member.Owner.User == nil {
			return privilegedMember{}, false
		}
		return privilegedMember{
			userID:      member.Owner.User.ID,
			role:        domain.RoleOwner,
			nickname:    fullName(member.Owner.User),
			customTitle: member.Owner.CustomTitle,
		}, true
	case models.ChatMemberTypeAdministrator:
		if member.Administrator == nil {
			return privilegedMember{}, false
		}
		return privilegedMember{
			userID:      member.Administrator.User.ID,
			role:        domain.RoleAdmin,
			nickname:    fullName(&member.Administrator.User),
			customTitle: member.Administrator.CustomTitle,
		}, true
	default:
		return privilegedMember{}, false
	}
}

func fullName(user *models.User) string {
	if user == nil {
		return ""
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, domain.Validationf("invalid %s %q", what, raw)
	}
	return id, nil
}
