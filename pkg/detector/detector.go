package detector

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/signals"
)

// DefaultKeywords are matched case-insensitively on word boundaries
var DefaultKeywords = []string{
	"human",
	"agent",
	"representative",
	"manager",
	"support",
	"real person",
	"live agent",
	"live chat",
	"customer service",
	"talk to someone",
	"speak to someone",
	"talk to a person",
	"speak to a person",
	"operator",
}

// Detector decides whether a conversation should be handed to a human
type Detector interface {
	Evaluate(ctx context.Context, conversationID int64, msg models.Message) models.HandoffResult
	ResetState(ctx context.Context, conversationID int64) error
}

type Options struct {
	ConfidenceThreshold       float64
	ConfidenceTriggerCount    int
	ClarificationTriggerCount int
	SignalTTL                 time.Duration
	Keywords                  []string
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold:       constants.DefaultConfidenceThreshold,
		ConfidenceTriggerCount:    constants.DefaultConfidenceTriggerCount,
		ClarificationTriggerCount: constants.DefaultClarificationTriggerCount,
		SignalTTL:                 constants.SecondsToDuration(constants.DefaultSignalTTLSeconds),
		Keywords:                  DefaultKeywords,
	}
}

// SignalDetector runs the keyword, confidence streak and clarification loop
// checks in that order. Counter state lives in the signal store only.
type SignalDetector struct {
	store    signals.Store
	opts     Options
	keywords *regexp.Regexp
	logger   *logrus.Logger
	now      func() time.Time
}

var _ Detector = (*SignalDetector)(nil)

func NewSignalDetector(store signals.Store, opts Options, logger *logrus.Logger) *SignalDetector {
	if len(opts.Keywords) == 0 {
		opts.Keywords = DefaultKeywords
	}

	return &SignalDetector{
		store:    store,
		opts:     opts,
		keywords: compileKeywords(opts.Keywords),
		logger:   logger,
		now:      time.Now,
	}
}

func compileKeywords(keywords []string) *regexp.Regexp {
	alternatives := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		words := strings.Fields(strings.ToLower(kw))
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		if len(words) > 0 {
			alternatives = append(alternatives, strings.Join(words, `\s+`))
		}
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alternatives, "|") + `)\b`)
}

func (d *SignalDetector) Evaluate(ctx context.Context, conversationID int64, msg models.Message) models.HandoffResult {
	if keyword, ok := d.matchKeyword(msg.Text); ok {
		return triggered(models.ReasonKeyword, func(r *models.HandoffResult) {
			r.MatchedKeyword = &keyword
		})
	}

	streak, fired := d.checkConfidence(ctx, conversationID, msg.Confidence)
	if fired {
		return triggered(models.ReasonLowConfidence, func(r *models.HandoffResult) {
			r.ConfidenceStreakCount = streak
		})
	}

	loop, fired := d.checkClarification(ctx, conversationID, msg.ClarificationType)
	if fired {
		return triggered(models.ReasonClarificationLoop, func(r *models.HandoffResult) {
			r.ConfidenceStreakCount = streak
			r.LoopCount = loop
		})
	}

	return models.HandoffResult{
		ConfidenceStreakCount: streak,
		LoopCount:             loop,
	}
}

func triggered(reason models.HandoffReason, fill func(*models.HandoffResult)) models.HandoffResult {
	r := models.HandoffResult{ShouldHandoff: true, Reason: &reason}
	fill(&r)
	return r
}

func (d *SignalDetector) matchKeyword(text string) (string, bool) {
	match := d.keywords.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.ToLower(strings.Join(strings.Fields(match), " ")), true
}

func (d *SignalDetector) checkConfidence(ctx context.Context, conversationID int64, confidence *float64) (int, bool) {
	key := constants.ConfidenceCountKey(conversationID)

	if confidence == nil {
		return d.currentStreak(ctx, conversationID, key), false
	}

	if *confidence >= d.opts.ConfidenceThreshold {
		if err := d.store.Delete(ctx, key); err != nil {
			d.warn(err, conversationID, "Failed to reset confidence streak")
		}
		return 0, false
	}

	count, err := d.store.Incr(ctx, key, d.opts.SignalTTL)
	if err != nil {
		d.warn(err, conversationID, "Confidence streak unavailable, skipping signal")
		return 0, false
	}

	if int(count) >= d.opts.ConfidenceTriggerCount {
		if err := d.store.Delete(ctx, key); err != nil {
			d.warn(err, conversationID, "Failed to clear confidence streak after trigger")
		}
		return int(count), true
	}

	return int(count), false
}

func (d *SignalDetector) currentStreak(ctx context.Context, conversationID int64, key string) int {
	raw, found, err := d.store.Get(ctx, key)
	if err != nil {
		d.warn(err, conversationID, "Failed to read confidence streak")
		return 0
	}
	if !found {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (d *SignalDetector) checkClarification(ctx context.Context, conversationID int64, clarificationType *string) (int, bool) {
	key := constants.ClarificationStateKey(conversationID)

	if clarificationType == nil {
		state, _ := d.loadLoopState(ctx, conversationID, key)
		if state == nil {
			return 0, false
		}
		return state.Count, false
	}

	state, err := d.loadLoopState(ctx, conversationID, key)
	if err != nil {
		return 0, false
	}

	if state == nil || state.ClarificationType != *clarificationType {
		fresh := models.ClarificationLoopState{
			ClarificationType: *clarificationType,
			Count:             1,
			LastAskedAt:       d.now().UTC(),
		}
		if err := d.saveLoopState(ctx, key, fresh); err != nil {
			d.warn(err, conversationID, "Failed to store clarification state")
		}
		return 1, false
	}

	state.Count++
	state.LastAskedAt = d.now().UTC()

	if state.Count >= d.opts.ClarificationTriggerCount {
		if err := d.store.Delete(ctx, key); err != nil {
			d.warn(err, conversationID, "Failed to clear clarification state after trigger")
		}
		return state.Count, true
	}

	if err := d.saveLoopState(ctx, key, *state); err != nil {
		d.warn(err, conversationID, "Failed to store clarification state")
	}
	return state.Count, false
}

func (d *SignalDetector) loadLoopState(ctx context.Context, conversationID int64, key string) (*models.ClarificationLoopState, error) {
	raw, found, err := d.store.Get(ctx, key)
	if err != nil {
		d.warn(err, conversationID, "Clarification state unavailable, skipping signal")
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var state models.ClarificationLoopState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// Corrupt state restarts the loop
		d.warn(err, conversationID, "Discarding unreadable clarification state")
		return nil, nil
	}
	return &state, nil
}

func (d *SignalDetector) saveLoopState(ctx context.Context, key string, state models.ClarificationLoopState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, key, string(raw), d.opts.SignalTTL)
}

// ResetState clears both counters for a conversation
func (d *SignalDetector) ResetState(ctx context.Context, conversationID int64) error {
	return d.store.Delete(ctx,
		constants.ConfidenceCountKey(conversationID),
		constants.ClarificationStateKey(conversationID),
	)
}

func (d *SignalDetector) warn(err error, conversationID int64, msg string) {
	d.logger.WithError(err).WithField("conversation_id", conversationID).Warn(msg)
}

type disabled struct{}

// Disabled never triggers and never touches the signal store. It is the
// deterministic strategy for automated test environments.
func Disabled() Detector {
	return disabled{}
}

func (disabled) Evaluate(context.Context, int64, models.Message) models.HandoffResult {
	return models.HandoffResult{}
}

func (disabled) ResetState(context.Context, int64) error {
	return nil
}
