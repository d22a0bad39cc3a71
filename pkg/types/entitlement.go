package types

type EntitlementStatus string

const (
	EntitlementStatusFree      EntitlementStatus = "free"
	EntitlementStatusTrial     EntitlementStatus = "trial"
	EntitlementStatusActive    EntitlementStatus = "active"
	EntitlementStatusPastDue   EntitlementStatus = "past_due"
	EntitlementStatusCancelled EntitlementStatus = "cancelled"
	EntitlementStatusExpired   EntitlementStatus = "expired"
)

// Rank orders statuses for governing-authority selection. Active and Trial
// share the top rank: both mean the user currently has access.
func (s EntitlementStatus) Rank() int {
	switch s {
	case EntitlementStatusActive, EntitlementStatusTrial:
		return 4
	case EntitlementStatusPastDue:
		return 3
	case EntitlementStatusCancelled:
		return 2
	default:
		return 1
	}
}

// Entitled reports whether the status grants access to premium features.
// PastDue keeps access while the authority retries payment.
func (s EntitlementStatus) Entitled() bool {
	switch s {
	case EntitlementStatusActive, EntitlementStatusTrial, EntitlementStatusPastDue:
		return true
	}
	return false
}
