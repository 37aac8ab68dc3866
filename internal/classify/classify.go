// Package classify implements the inactivity classification over a roster
// snapshot.
package classify

import (
	"sort"
	"time"

	"tg_group_warden_bot/internal/domain"
)

// A "month" is a fixed 30-day unit, not a calendar month. Downstream
// thresholds and reports assume this definition.
const daysPerMonth = 30

// Threshold returns the cutoff instant for the given window: members whose
// last activity is strictly before it are inactive.
func Threshold(now time.Time, months int) time.Time {
	return now.Add(-time.Duration(months) * daysPerMonth * 24 * time.Hour)
}

// Inactive partitions the roster and returns the members eligible for
// reporting or removal, sorted ascending by last activity (longest-dormant
// first). Members with a privileged role or present in the exemption set are
// never included. A zero LastActiveAt means the member never posted; it falls
// below every threshold and sorts before all real timestamps.
func Inactive(roster []domain.RosterEntry, exempt map[string]struct{}, months int, now time.Time) []domain.InactiveMember {
	threshold := Threshold(now, months)

	result := make([]domain.InactiveMember, 0)
	for _, entry := range roster {
		if _, ok := exempt[entry.MemberID]; ok {
			continue
		}
		if entry.Role.Privileged() {
			continue
		}
		if !entry.LastActiveAt.Before(threshold) {
			continue
		}

		result = append(result, domain.InactiveMember{
			MemberID:     entry.MemberID,
			DisplayName:  entry.DisplayName(),
			LastActiveAt: entry.LastActiveAt,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastActiveAt.Before(result[j].LastActiveAt)
	})

	return result
}
