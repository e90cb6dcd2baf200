// Package urgency maps a handoff reason and recent conversation context to a
// priority tier. It performs no I/O and is safe for concurrent use.
package urgency

import (
	"strings"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/models"
)

const checkoutToken = "checkout"

// Determine returns high when any of the last three messages mentions checkout,
// otherwise the tier mapped from reason. A nil reason is low.
func Determine(reason *models.HandoffReason, recentMessages []string) models.UrgencyLevel {
	if mentionsCheckout(lastN(recentMessages, constants.PreviewMessageCount)) {
		return models.UrgencyHigh
	}

	if reason == nil {
		return models.UrgencyLow
	}

	switch *reason {
	case models.ReasonKeyword:
		return models.UrgencyLow
	case models.ReasonLowConfidence:
		return models.UrgencyMedium
	case models.ReasonClarificationLoop:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func lastN(messages []string, n int) []string {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func mentionsCheckout(messages []string) bool {
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m), checkoutToken) {
			return true
		}
	}
	return false
}
