// Package roster abstracts the target-group member directory: who is in the
// group, their role, and when they last posted.
package roster

import (
	"context"

	"tg_group_warden_bot/internal/domain"
)

// GroupInfo is the subset of group metadata the bot consumes.
type GroupInfo struct {
	Name string
}

// MemberInfo is the subset of single-member metadata the bot consumes.
type MemberInfo struct {
	Nickname string
	Card     string
}

// DisplayName returns the card when present, falling back to nickname.
func (i MemberInfo) DisplayName() string {
	if i.Card != "" {
		return i.Card
	}
	return i.Nickname
}

// Service is the roster directory consumed by the moderation flows. Fetch
// calls never mutate anything; RemoveMember kicks a member and, when
// allowRejoin is set, must not block the member from joining again later.
type Service interface {
	FetchGroupInfo(ctx context.Context, groupID string) (GroupInfo, error)
	FetchMemberList(ctx context.Context, groupID string) ([]domain.RosterEntry, error)
	FetchMemberInfo(ctx context.Context, groupID, memberID string) (MemberInfo, error)
	RemoveMember(ctx context.Context, groupID, memberID string, allowRejoin bool) error
}
