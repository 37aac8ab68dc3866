// Package moderation implements the group moderation commands: binding a
// management group to a target group, maintaining the exemption list, and
// reporting or removing inactive target-group members.
package moderation

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

	"tg_group_warden_bot/internal/classify"
	"tg_group_warden_bot/internal/domain"
	"tg_group_warden_bot/internal/logging"
	"tg_group_warden_bot/internal/remove"
	"tg_group_warden_bot/internal/roster"
)

// rosterCallTimeout bounds single roster lookups so a hung external call
// cannot stall a command forever.
const rosterCallTimeout = 10 * time.Second

// Command names registered with the Telegram router.
const (
	CmdBind              = "/bind"
	CmdUnbind            = "/unbind"
	CmdSetInactiveMonths = "/set_inactive_months"
	CmdListInactive      = "/list_inactive"
	CmdAddExempt         = "/add_exempt"
	CmdRemoveExempt      = "/remove_exempt"
	CmdRemoveInactive    = "/remove_inactive"
)

// bindingStore is the persisted binding/exemption state the handlers mutate.
type bindingStore interface {
	Bind(source, target string) error
	Unbind(source string) (bool, error)
	SetInactiveMonths(source string, months int) (bool, error)
	GetBinding(source string) (domain.Binding, bool)
	AddExemption(target, member string) error
	RemoveExemption(target, member string) (bool, error)
	Exemptions(target string) map[string]struct{}
}

// privilegeChecker answers whether a user may run the administrative commands
// in the invoking group.
type privilegeChecker interface {
	IsPrivileged(ctx context.Context, groupID string, userID int64) (bool, error)
}

// inactivityReporter streams a paginated report to the invoking chat.
type inactivityReporter interface {
	Send(ctx context.Context, chatID string, members []domain.InactiveMember, months int, now time.Time) error
}

// batchRemover drives the removal batch over the target group.
type batchRemover interface {
	Run(ctx context.Context, targetGroup string, members []domain.InactiveMember) (remove.Summary, error)
}

// Handlers owns the moderation command surface for one bot instance.
type Handlers struct {
	store    bindingStore
	roster   roster.Service
	checker  privilegeChecker
	reporter inactivityReporter
	remover  batchRemover
	ownerID  int64
	now      func() time.Time
	logger   *logrus.Entry
}

// NewHandlers constructs the moderation handlers. ownerID is the configured
// bot owner, who may run administrative commands in any group.
func NewHandlers(store bindingStore, rosterSvc roster.Service, checker privilegeChecker, reporter inactivityReporter, remover batchRemover, ownerID int64, logger *logrus.Entry) *Handlers {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handlers{
		store:    store,
		roster:   rosterSvc,
		checker:  checker,
		reporter: reporter,
		remover:  remover,
		ownerID:  ownerID,
		now:      time.Now,
		logger:   logger,
	}
}

// Options returns the bot options that register every moderation command with
// the Telegram router.
func (h *Handlers) Options() []bot.Option {
	type command struct {
		name       string
		privileged bool
		run        func(ctx context.Context, source string, args string) string
	}

	commands := []command{
		{CmdBind, true, h.Bind},
		{CmdUnbind, true, func(ctx context.Context, source, _ string) string { return h.Unbind(ctx, source) }},
		{CmdSetInactiveMonths, true, h.SetInactiveMonths},
		{CmdListInactive, false, func(ctx context.Context, source, _ string) string { return h.ListInactive(ctx, source) }},
		{CmdAddExempt, false, h.AddExempt},
		{CmdRemoveExempt, true, h.RemoveExempt},
		{CmdRemoveInactive, false, func(ctx context.Context, source, _ string) string { return h.RemoveInactive(ctx, source) }},
	}

	opts := make([]bot.Option, 0, len(commands))
	for _, cmd := range commands {
		opts = append(opts, bot.WithMessageTextHandler(cmd.name, bot.MatchTypePrefix, h.commandHandler(cmd.name, cmd.privileged, cmd.run)))
	}

	return opts
}

// commandHandler adapts a command function to the Telegram router: it ignores
// non-group chats, enforces the privilege gate, and sends the reply text.
func (h *Handlers) commandHandler(name string, privileged bool, run func(ctx context.Context, source, args string) string) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil || update.Message == nil || update.Message.From == nil {
			return
		}

		msg := update.Message
		if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
			return
		}

		source := strconv.FormatInt(msg.Chat.ID, 10)
		invoker := msg.From.ID

		reply := ""
		if privileged && !h.isPrivileged(ctx, source, invoker) {
			reply = "This command requires a group administrator."
		} else {
			h.logger.WithFields(logging.Fields{
				"event":    "moderation_command",
				"command":  name,
				"group_id": source,
				"user_id":  invoker,
			}).Info("handling moderation command")

			reply = run(ctx, source, commandArgs(msg.Text, name))
		}

		if reply == "" {
			return
		}

		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
			h.logger.WithFields(logging.Fields{
				"event":    "reply_failed",
				"command":  name,
				"group_id": source,
			}).WithError(err).Error("failed to send command reply")
		}
	}
}

// Bind binds the invoking group to the target group given in args, verifying
// the target exists and the bot can see it. Re-binding overwrites the
// previous binding and resets the threshold to the default.
func (h *Handlers) Bind(ctx context.Context, source, args string) string {
	target := strings.TrimSpace(args)
	if target == "" {
		return "Usage: " + CmdBind + " <target_group_id>"
	}
	if _, err := strconv.ParseInt(target, 10, 64); err != nil {
		return fmt.Sprintf("Invalid group id %q.", target)
	}

	callCtx, cancel := context.WithTimeout(ctx, rosterCallTimeout)
	info, err := h.roster.FetchGroupInfo(callCtx, target)
	cancel()
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "bind_target_lookup_failed",
			"group_id": source,
			"target":   target,
		}).WithError(err).Warn("target group lookup failed")
		return fmt.Sprintf("Group %s does not exist or the bot is not a member of it.", target)
	}

	if err := h.store.Bind(source, target); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "bind_persist_failed",
			"group_id": source,
			"target":   target,
		}).WithError(err).Error("failed to persist binding")
		return "Failed to save the binding; nothing was changed."
	}

	return fmt.Sprintf("Bound target group %s (%s).", info.Name, target)
}

// Unbind removes the binding of the invoking group and clears the exemption
// list of its former target.
func (h *Handlers) Unbind(ctx context.Context, source string) string {
	binding, err := h.binding(source)
	if err != nil {
		return h.replyFor(err)
	}

	removed, err := h.store.Unbind(source)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "unbind_persist_failed",
			"group_id": source,
		}).WithError(err).Error("failed to persist unbind")
		return "Failed to remove the binding; nothing was changed."
	}
	if !removed {
		return h.replyFor(domain.ErrNotBound)
	}

	return fmt.Sprintf("Unbound target group %s; its exemption list was cleared.", binding.TargetGroupID)
}

// SetInactiveMonths updates the inactivity threshold of the invoking group's
// binding. Months must be a positive integer.
func (h *Handlers) SetInactiveMonths(ctx context.Context, source, args string) string {
	raw := strings.TrimSpace(args)
	if raw == "" {
		return "Usage: " + CmdSetInactiveMonths + " <months>"
	}

	months, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Sprintf("Invalid month count %q.", raw)
	}
	if months <= 0 {
		return "The month count must be greater than 0."
	}

	updated, err := h.store.SetInactiveMonths(source, months)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "set_months_persist_failed",
			"group_id": source,
		}).WithError(err).Error("failed to persist threshold")
		return "Failed to save the threshold; nothing was changed."
	}
	if !updated {
		return h.replyFor(domain.ErrNotBound)
	}

	return fmt.Sprintf("Inactivity threshold set to %d months.", months)
}

// ListInactive classifies the bound target group and streams the paginated
// report back to the invoking chat. The reply string is empty because the
// reporter sends its own messages.
func (h *Handlers) ListInactive(ctx context.Context, source string) string {
	binding, err := h.binding(source)
	if err != nil {
		return h.replyFor(err)
	}

	members, errReply := h.classifyTarget(ctx, binding)
	if errReply != "" {
		return errReply
	}

	if err := h.reporter.Send(ctx, source, members, binding.InactiveMonths, h.now()); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "report_failed",
			"group_id": source,
			"target":   binding.TargetGroupID,
		}).WithError(err).Error("failed to send inactivity report")
		return "Failed to deliver the inactivity report."
	}

	return ""
}

// AddExempt adds a member of the target group to its exemption list. The
// member must currently be in the target group.
func (h *Handlers) AddExempt(ctx context.Context, source, args string) string {
	memberID := strings.TrimSpace(args)
	if memberID == "" {
		return "Usage: " + CmdAddExempt + " <member_id>"
	}
	if _, err := strconv.ParseInt(memberID, 10, 64); err != nil {
		return fmt.Sprintf("Invalid member id %q.", memberID)
	}

	binding, err := h.binding(source)
	if err != nil {
		return h.replyFor(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, rosterCallTimeout)
	info, err := h.roster.FetchMemberInfo(callCtx, binding.TargetGroupID, memberID)
	cancel()
	if err != nil {
		if errors.Is(err, roster.ErrNotMember) {
			return fmt.Sprintf("User %s is not a member of the target group.", memberID)
		}
		h.logger.WithFields(logging.Fields{
			"event":    "exempt_lookup_failed",
			"group_id": source,
			"target":   binding.TargetGroupID,
		}).WithError(err).Warn("member lookup failed")
		return fmt.Sprintf("User %s is not a member of the target group.", memberID)
	}

	if err := h.store.AddExemption(binding.TargetGroupID, memberID); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "exempt_persist_failed",
			"group_id": source,
			"target":   binding.TargetGroupID,
		}).WithError(err).Error("failed to persist exemption")
		return "Failed to save the exemption; nothing was changed."
	}

	return fmt.Sprintf("Added %s (%s) to the exemption list.", info.DisplayName(), memberID)
}

// RemoveExempt removes a member from the target's exemption list. Membership
// in the target group is not re-validated; members who already left can still
// be un-exempted.
func (h *Handlers) RemoveExempt(ctx context.Context, source, args string) string {
	memberID := strings.TrimSpace(args)
	if memberID == "" {
		return "Usage: " + CmdRemoveExempt + " <member_id>"
	}

	binding, err := h.binding(source)
	if err != nil {
		return h.replyFor(err)
	}

	removed, err := h.store.RemoveExemption(binding.TargetGroupID, memberID)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "unexempt_persist_failed",
			"group_id": source,
			"target":   binding.TargetGroupID,
		}).WithError(err).Error("failed to persist exemption removal")
		return "Failed to update the exemption list; nothing was changed."
	}
	if !removed {
		return fmt.Sprintf("User %s is not on the exemption list.", memberID)
	}

	callCtx, cancel := context.WithTimeout(ctx, rosterCallTimeout)
	info, err := h.roster.FetchMemberInfo(callCtx, binding.TargetGroupID, memberID)
	cancel()
	if err != nil {
		// The exemption is already removed; the lookup is cosmetic.
		return fmt.Sprintf("Removed user %s from the exemption list.", memberID)
	}

	return fmt.Sprintf("Removed %s (%s) from the exemption list.", info.DisplayName(), memberID)
}

// RemoveInactive classifies the bound target group and removes every inactive
// member, then reports the batch summary.
func (h *Handlers) RemoveInactive(ctx context.Context, source string) string {
	binding, err := h.binding(source)
	if err != nil {
		return h.replyFor(err)
	}

	members, errReply := h.classifyTarget(ctx, binding)
	if errReply != "" {
		return errReply
	}

	summary, err := h.remover.Run(ctx, binding.TargetGroupID, members)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "remove_batch_interrupted",
			"group_id": source,
			"target":   binding.TargetGroupID,
		}).WithError(err).Warn("removal batch stopped early")
	}

	return summary.Format()
}

// classifyTarget fetches the target roster and returns the classification
// result, or a non-empty reply text when the fetch fails.
func (h *Handlers) classifyTarget(ctx context.Context, binding domain.Binding) ([]domain.InactiveMember, string) {
	callCtx, cancel := context.WithTimeout(ctx, rosterCallTimeout)
	entries, err := h.roster.FetchMemberList(callCtx, binding.TargetGroupID)
	cancel()
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":  "roster_fetch_failed",
			"target": binding.TargetGroupID,
		}).WithError(err).Error("failed to fetch target member list")
		return nil, "Failed to fetch the target group's member list."
	}

	exempt := h.store.Exemptions(binding.TargetGroupID)
	return classify.Inactive(entries, exempt, binding.InactiveMonths, h.now()), ""
}

func (h *Handlers) isPrivileged(ctx context.Context, source string, userID int64) bool {
	if userID != 0 && userID == h.ownerID {
		return true
	}

	callCtx, cancel := context.WithTimeout(ctx, rosterCallTimeout)
	defer cancel()

	privileged, err := h.checker.IsPrivileged(callCtx, source, userID)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"event":    "privilege_check_failed",
			"group_id": source,
			"user_id":  userID,
		}).WithError(err).Warn("privilege check failed, denying command")
		return false
	}

	return privileged
}

// binding resolves the invoking group's binding, returning ErrNotBound when
// none exists.
func (h *Handlers) binding(source string) (domain.Binding, error) {
	binding, ok := h.store.GetBinding(source)
	if !ok {
		return domain.Binding{}, domain.ErrNotBound
	}
	return binding, nil
}

// replyFor maps domain errors to invoker-facing text.
func (h *Handlers) replyFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotBound):
		return "This group is not bound to a target group. Use " + CmdBind + " first."
	case domain.IsValidation(err):
		return err.Error()
	default:
		return "The command failed; see the bot logs."
	}
}

// commandArgs strips the command (and an optional @botname suffix) from the
// message text.
func commandArgs(text, command string) string {
	rest := strings.TrimPrefix(strings.TrimSpace(text), command)
	if strings.HasPrefix(rest, "@") {
		if idx := strings.IndexAny(rest, " \t"); idx >= 0 {
			rest = rest[idx:]
		} else {
			rest = ""
		}
	}
	return strings.TrimSpace(rest)
}
