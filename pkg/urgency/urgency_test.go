package urgency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"handoff-escalation-service/pkg/models"
)

func reason(r models.HandoffReason) *models.HandoffReason { return &r }

func TestDetermine(t *testing.T) {
	tests := []struct {
		name     string
		reason   *models.HandoffReason
		messages []string
		want     models.UrgencyLevel
	}{
		{"keyword maps to low", reason(models.ReasonKeyword), []string{"I need a human"}, models.UrgencyLow},
		{"low confidence maps to medium", reason(models.ReasonLowConfidence), nil, models.UrgencyMedium},
		{"clarification loop maps to medium", reason(models.ReasonClarificationLoop), []string{"size?"}, models.UrgencyMedium},
		{"nil reason is low", nil, []string{"hello"}, models.UrgencyLow},
		{"checkout overrides keyword", reason(models.ReasonKeyword), []string{"my checkout keeps failing"}, models.UrgencyHigh},
		{"checkout is case-insensitive", reason(models.ReasonLowConfidence), []string{"CHECKOUT page error"}, models.UrgencyHigh},
		{"checkout overrides nil reason", nil, []string{"stuck at Checkout"}, models.UrgencyHigh},
		{
			"checkout outside last three is ignored",
			reason(models.ReasonKeyword),
			[]string{"checkout broke", "never mind", "it works", "human please"},
			models.UrgencyLow,
		},
		{
			"checkout in third from last counts",
			reason(models.ReasonKeyword),
			[]string{"hi", "checkout broke", "hello?", "human please"},
			models.UrgencyHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Determine(tt.reason, tt.messages))
		})
	}
}

func TestUrgencyRankOrdering(t *testing.T) {
	assert.Greater(t, models.UrgencyHigh.Rank(), models.UrgencyMedium.Rank())
	assert.Greater(t, models.UrgencyMedium.Rank(), models.UrgencyLow.Rank())
}
