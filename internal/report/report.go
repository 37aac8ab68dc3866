// Package report renders classification results into paginated text reports
// and delivers them with transport-friendly pacing.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_warden_bot/internal/domain"
	"tg_group_warden_bot/internal/logging"
)

const (
	// PageSize is the number of entries per report page.
	PageSize = 10
	// PageDelay is the pause between consecutive page sends. There is no
	// delay after the final page.
	PageDelay = 3 * time.Second

	// EmptyNotice replaces the report when nothing is inactive.
	EmptyNotice = "No inactive members found."

	headerRule = "===================="
	entryRule  = "--------------------"
)

// Sender delivers one text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Reporter sends paginated inactivity reports.
type Reporter struct {
	sender Sender
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logrus.Entry
}

// NewReporter constructs a Reporter. The inter-page sleep honors context
// cancellation.
func NewReporter(sender Sender, logger *logrus.Entry) *Reporter {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Reporter{
		sender: sender,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Send delivers the report for members to chatID, one page at a time with
// PageDelay between pages. An empty result produces a single notice message.
func (r *Reporter) Send(ctx context.Context, chatID string, members []domain.InactiveMember, months int, now time.Time) error {
	if len(members) == 0 {
		return r.sender.SendText(ctx, chatID, EmptyNotice)
	}

	pages := BuildPages(members, months, now)

	for i, page := range pages {
		if i > 0 {
			if err := r.sleep(ctx, PageDelay); err != nil {
				return err
			}
		}
		if err := r.sender.SendText(ctx, chatID, page); err != nil {
			return fmt.Errorf("send report page %d/%d: %w", i+1, len(pages), err)
		}
	}

	r.logger.WithFields(logging.Fields{
		"event":   "report_sent",
		"chat_id": chatID,
		"members": len(members),
		"pages":   len(pages),
	}).Info("sent inactivity report")

	return nil
}

// BuildPages renders members (already sorted oldest-first) into report pages
// of PageSize entries each.
func BuildPages(members []domain.InactiveMember, months int, now time.Time) []string {
	total := (len(members) + PageSize - 1) / PageSize
	pages := make([]string, 0, total)

	for start := 0; start < len(members); start += PageSize {
		end := start + PageSize
		if end > len(members) {
			end = len(members)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Inactive members (%d/%d)\n", start/PageSize+1, total)
		fmt.Fprintf(&b, "Threshold: %d months\n", months)
		b.WriteString(headerRule + "\n")

		for _, member := range members[start:end] {
			fmt.Fprintf(&b, "%s (%s)\n", member.DisplayName, member.MemberID)
			b.WriteString("Last active: " + lastActiveLine(member.LastActiveAt, now) + "\n")
			b.WriteString(entryRule + "\n")
		}

		pages = append(pages, strings.TrimRight(b.String(), "\n"))
	}

	return pages
}

// lastActiveLine formats the age of a member's last activity. A zero
// timestamp means the member never posted since tracking began.
func lastActiveLine(lastActive, now time.Time) string {
	if lastActive.IsZero() {
		return "never"
	}

	days := int(now.Sub(lastActive).Hours() / 24)
	return fmt.Sprintf("%d days ago", days)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
