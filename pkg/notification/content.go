package notification

import (
	"fmt"
	"strings"
	"time"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/models"
)

// Content is everything staff need to pick up a handoff
type Content struct {
	CustomerName    string
	CustomerID      string
	Preview         []string
	WaitTimeSeconds int64
	Reason          *models.HandoffReason
	Urgency         models.UrgencyLevel
	IsOffline       bool
}

// BuildContent derives notification content from the conversation snapshot.
// Wait time runs from conversation creation to now.
func BuildContent(conv models.Conversation, reason *models.HandoffReason, urgency models.UrgencyLevel, now time.Time, offline bool) Content {
	wait := int64(now.Sub(conv.CreatedAt).Seconds())
	if wait < 0 || conv.CreatedAt.IsZero() {
		wait = 0
	}

	return Content{
		CustomerName:    displayName(conv),
		CustomerID:      conv.PlatformSenderID,
		Preview:         Preview(conv.RecentMessages),
		WaitTimeSeconds: wait,
		Reason:          reason,
		Urgency:         urgency,
		IsOffline:       offline,
	}
}

// Preview keeps at most the last three messages
func Preview(messages []string) []string {
	n := constants.PreviewMessageCount
	if len(messages) <= n {
		out := make([]string, len(messages))
		copy(out, messages)
		return out
	}
	out := make([]string, n)
	copy(out, messages[len(messages)-n:])
	return out
}

func displayName(conv models.Conversation) string {
	if conv.CustomerName != nil && strings.TrimSpace(*conv.CustomerName) != "" {
		return strings.TrimSpace(*conv.CustomerName)
	}
	id := conv.PlatformSenderID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	if id == "" {
		return "Customer"
	}
	return "Customer " + id
}

func urgencyBadge(u models.UrgencyLevel) string {
	switch u {
	case models.UrgencyHigh:
		return "🔴 HIGH"
	case models.UrgencyMedium:
		return "🟡 MEDIUM"
	case models.UrgencyLow:
		return "🟢 LOW"
	default:
		return strings.ToUpper(string(u))
	}
}

func reasonLabel(r *models.HandoffReason) string {
	if r == nil {
		return "Unspecified"
	}
	return r.Label()
}

// FormatWait renders seconds as "45s", "3m 20s" or "2h 5m"
func FormatWait(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}

// FormatEmail renders the plain-text email body
func FormatEmail(c Content) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s urgency handoff request\n\n", urgencyBadge(c.Urgency))
	fmt.Fprintf(&b, "Customer: %s", c.CustomerName)
	if c.CustomerID != "" {
		fmt.Fprintf(&b, " (%s)", c.CustomerID)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Waiting: %s\n", FormatWait(c.WaitTimeSeconds))
	fmt.Fprintf(&b, "Reason: %s\n", reasonLabel(c.Reason))
	if c.IsOffline {
		b.WriteString("Received outside business hours\n")
	}

	if len(c.Preview) > 0 {
		b.WriteString("\nRecent messages:\n")
		for _, m := range c.Preview {
			fmt.Fprintf(&b, "> %s\n", m)
		}
	}

	return b.String()
}
