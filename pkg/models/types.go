package models

import (
	"fmt"
	"time"
)

// HandoffReason identifies which signal escalated a conversation
type HandoffReason string

const (
	ReasonKeyword           HandoffReason = "keyword"
	ReasonLowConfidence     HandoffReason = "low_confidence"
	ReasonClarificationLoop HandoffReason = "clarification_loop"
)

// Label returns the staff-facing description of the reason
func (r HandoffReason) Label() string {
	switch r {
	case ReasonKeyword:
		return "Customer asked for a human"
	case ReasonLowConfidence:
		return "Bot confidence stayed low"
	case ReasonClarificationLoop:
		return "Bot kept asking for the same information"
	default:
		return "Unknown"
	}
}

func ParseHandoffReason(s string) (HandoffReason, error) {
	switch r := HandoffReason(s); r {
	case ReasonKeyword, ReasonLowConfidence, ReasonClarificationLoop:
		return r, nil
	default:
		return "", fmt.Errorf("unknown handoff reason %q", s)
	}
}

// UrgencyLevel is the priority tier of an alert
type UrgencyLevel string

const (
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyLow    UrgencyLevel = "low"
)

// Rank orders urgency tiers: high > medium > low
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

func ParseUrgencyLevel(s string) (UrgencyLevel, error) {
	switch u := UrgencyLevel(s); u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return u, nil
	default:
		return "", fmt.Errorf("unknown urgency level %q", s)
	}
}

// HandoffResult is the outcome of a single detector evaluation
type HandoffResult struct {
	ShouldHandoff         bool           `json:"should_handoff"`
	Reason                *HandoffReason `json:"reason"`
	MatchedKeyword        *string        `json:"matched_keyword"`
	ConfidenceStreakCount int            `json:"confidence_streak_count"`
	LoopCount             int            `json:"loop_count"`
}

// Conversation is the snapshot of a conversation supplied by the pipeline
type Conversation struct {
	ID               int64     `json:"id"`
	MerchantID       int64     `json:"merchant_id"`
	PlatformSenderID string    `json:"platform_sender_id"`
	CustomerName     *string   `json:"customer_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	RecentMessages   []string  `json:"recent_messages"`
}

// Message is a single inbound message together with its classifier signals
type Message struct {
	ID                string   `json:"message_id,omitempty"`
	Text              string   `json:"message"`
	Confidence        *float64 `json:"confidence"`
	ClarificationType *string  `json:"clarification_type"`
}

// ConfidenceStreakState mirrors the counter kept in the signal store
type ConfidenceStreakState struct {
	Count int `json:"count"`
}

// ClarificationLoopState is stored as JSON under the clarification key
type ClarificationLoopState struct {
	ClarificationType string    `json:"type"`
	Count             int       `json:"count"`
	LastAskedAt       time.Time `json:"last_asked_at"`
}

// HandoffAlert is the durable record of a triggered handoff
type HandoffAlert struct {
	ID                  int64          `json:"id"`
	ConversationID      int64          `json:"conversation_id"`
	MerchantID          int64          `json:"-"`
	PlatformSenderID    *string        `json:"platform_sender_id,omitempty"`
	UrgencyLevel        UrgencyLevel   `json:"urgency_level"`
	CustomerName        *string        `json:"customer_name,omitempty"`
	CustomerID          *string        `json:"customer_id,omitempty"`
	ConversationPreview []string       `json:"conversation_preview,omitempty"`
	WaitTimeSeconds     int64          `json:"wait_time_seconds"`
	IsRead              bool           `json:"is_read"`
	IsOffline           bool           `json:"is_offline"`
	CreatedAt           time.Time      `json:"created_at"`
	HandoffReason       *HandoffReason `json:"handoff_reason,omitempty"`
}

// DispatchResult reports per-channel delivery
type DispatchResult struct {
	Dashboard bool `json:"dashboard"`
	Email     bool `json:"email"`
}
