package domain

import "time"

// RosterEntry is one member of the target group as reported by the roster
// service. LastActiveAt is the zero time for members who joined but never
// posted; the zero value is below every threshold and sorts as oldest.
type RosterEntry struct {
	MemberID     string
	Role         Role
	LastActiveAt time.Time
	Nickname     string
	Card         string
}

// DisplayName returns the group card when present, falling back to nickname.
func (e RosterEntry) DisplayName() string {
	if e.Card != "" {
		return e.Card
	}
	return e.Nickname
}

// InactiveMember is one entry of a classification result.
type InactiveMember struct {
	MemberID     string
	DisplayName  string
	LastActiveAt time.Time
}
