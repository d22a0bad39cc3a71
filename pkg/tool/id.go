package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateEventID builds a synthetic event id for events the system itself
// originates (operator grants, promotion redemptions).
func GenerateEventID(prefix string) string {
	return prefix + "_" + GenerateUUIDV7()
}
