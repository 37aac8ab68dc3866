package domain

// DefaultInactiveMonths is assigned to a binding when none is configured.
const DefaultInactiveMonths = 6

// Binding associates a management group with the target group it administers
// and carries the inactivity threshold applied to that target.
type Binding struct {
	SourceGroupID  string `json:"-"`
	TargetGroupID  string `json:"target_group"`
	InactiveMonths int    `json:"inactive_months"`
}
