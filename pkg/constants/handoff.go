package constants

import (
	"fmt"
	"time"
)

// Detection thresholds
const (
	// DefaultConfidenceThreshold - scores strictly below this count toward the streak
	DefaultConfidenceThreshold = 0.50

	// DefaultConfidenceTriggerCount - consecutive low scores needed to escalate
	DefaultConfidenceTriggerCount = 3

	// DefaultClarificationTriggerCount - repeats of the same clarification needed to escalate
	DefaultClarificationTriggerCount = 3

	// PreviewMessageCount - messages kept for urgency context and alert preview
	PreviewMessageCount = 3
)

// Default TTL configuration values
const (
	DefaultSignalTTLSeconds       = 24 * 60 * 60
	DefaultEmailRateWindowSeconds = 24 * 60 * 60
	DefaultEmailTimeoutMS         = 10000
	DefaultPendingReclaimSeconds  = 30
	DefaultPendingMinIdleSeconds  = 60
)

// Redis key prefixes and names
const (
	ConfidenceKeyPrefix    = "handoff:confidence"
	ClarificationKeyPrefix = "clarification"
	EmailRateKeyPrefix     = "handoff_email"
	AlertClaimKeyPrefix    = "handoff:alert"
	MessageEventsStream    = "handoff_message_events"
)

// Conversation states used by the queue view
const (
	ConversationActive   = "active"
	ConversationHandoff  = "handoff"
	ConversationResolved = "resolved"
)

func ConfidenceCountKey(conversationID int64) string {
	return fmt.Sprintf("%s:%d:count", ConfidenceKeyPrefix, conversationID)
}

func ClarificationStateKey(conversationID int64) string {
	return fmt.Sprintf("%s:%d:state", ClarificationKeyPrefix, conversationID)
}

func EmailRateKey(merchantID int64, urgency string) string {
	return fmt.Sprintf("%s:%d:%s", EmailRateKeyPrefix, merchantID, urgency)
}

func AlertClaimKey(conversationID int64, messageID string) string {
	return fmt.Sprintf("%s:%d:%s", AlertClaimKeyPrefix, conversationID, messageID)
}

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
