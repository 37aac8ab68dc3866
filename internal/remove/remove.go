// Package remove drives batch removal of inactive members with per-item
// failure isolation and rate limiting.
package remove

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_warden_bot/internal/domain"
	"tg_group_warden_bot/internal/logging"
)

// AttemptDelay is the pause between successive removal attempts, applied
// whether the previous attempt succeeded or failed.
const AttemptDelay = 1 * time.Second

// memberRemover is the single roster operation the remover drives.
type memberRemover interface {
	RemoveMember(ctx context.Context, groupID, memberID string, allowRejoin bool) error
}

// Summary is the outcome of a removal batch.
type Summary struct {
	Succeeded int
	Failed    int
}

// Format renders the summary for the invoker. The failed line is omitted when
// nothing failed.
func (s Summary) Format() string {
	lines := []string{
		"Inactive member removal complete",
		fmt.Sprintf("Removed: %d", s.Succeeded),
	}
	if s.Failed > 0 {
		lines = append(lines, fmt.Sprintf("Failed: %d", s.Failed))
	}

	return strings.Join(lines, "\n")
}

// Remover removes classified members one at a time.
type Remover struct {
	roster memberRemover
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logrus.Entry
}

// NewRemover constructs a Remover.
func NewRemover(roster memberRemover, logger *logrus.Entry) *Remover {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Remover{
		roster: roster,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Run attempts removal of every member from targetGroup sequentially with
// AttemptDelay between attempts. A failed attempt is counted and logged but
// never aborts the rest of the batch. Removals always allow the member to
// re-join later. Context cancellation stops the batch early and returns the
// partial summary alongside the context error.
func (r *Remover) Run(ctx context.Context, targetGroup string, members []domain.InactiveMember) (Summary, error) {
	var summary Summary

	for i, member := range members {
		if i > 0 {
			if err := r.sleep(ctx, AttemptDelay); err != nil {
				return summary, err
			}
		}

		if err := r.roster.RemoveMember(ctx, targetGroup, member.MemberID, true); err != nil {
			summary.Failed++
			r.logger.WithFields(logging.Fields{
				"event":     "remove_failed",
				"group_id":  targetGroup,
				"member_id": member.MemberID,
			}).WithError(err).Error("failed to remove inactive member")
			continue
		}

		summary.Succeeded++
	}

	r.logger.WithFields(logging.Fields{
		"event":     "remove_batch_done",
		"group_id":  targetGroup,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("inactive member removal finished")

	return summary, nil
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
