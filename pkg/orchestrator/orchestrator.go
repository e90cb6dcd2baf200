// Package orchestrator turns a detector verdict into a persisted alert and
// staff notifications, then clears the conversation's detection state.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/detector"
	"handoff-escalation-service/pkg/metrics"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/notification"
	"handoff-escalation-service/pkg/signals"
	"handoff-escalation-service/pkg/urgency"
)

// Recorder persists alerts. alerts.Repository satisfies it.
type Recorder interface {
	Create(ctx context.Context, alert models.HandoffAlert) (models.HandoffAlert, error)
}

type discard struct{}

// Discard accepts every alert without storing it
func Discard() Recorder {
	return discard{}
}

func (discard) Create(_ context.Context, alert models.HandoffAlert) (models.HandoffAlert, error) {
	return alert, nil
}

type Options struct {
	// IdempotentAlerts claims (conversation, message id) before persisting so
	// a redelivered message cannot create a second alert.
	IdempotentAlerts bool
	ClaimTTL         time.Duration
	BusinessHours    notification.BusinessHours
}

func DefaultOptions() Options {
	return Options{
		ClaimTTL: constants.SecondsToDuration(constants.DefaultSignalTTLSeconds),
	}
}

type Orchestrator struct {
	detector   detector.Detector
	recorder   Recorder
	dispatcher notification.Dispatcher
	claims     signals.Store
	opts       Options
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New wires the live flow. claims may be nil when IdempotentAlerts is off.
func New(det detector.Detector, recorder Recorder, dispatcher notification.Dispatcher, claims signals.Store, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Orchestrator {
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultOptions().ClaimTTL
	}

	return &Orchestrator{
		detector:   det,
		recorder:   recorder,
		dispatcher: dispatcher,
		claims:     claims,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewEvaluation returns an orchestrator that reports verdicts and resets
// state but never persists or notifies.
func NewEvaluation(det detector.Detector, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Orchestrator {
	opts.IdempotentAlerts = false
	return New(det, Discard(), notification.Noop(), nil, opts, logger, metrics)
}

// ProcessHandoff evaluates one inbound message. When it triggers, the alert is
// persisted before detection state is reset and before notifications go out.
// Only a persistence failure is returned as an error; the result is valid
// either way.
func (o *Orchestrator) ProcessHandoff(ctx context.Context, conv models.Conversation, msg models.Message) (models.HandoffResult, error) {
	result := o.detector.Evaluate(ctx, conv.ID, msg)

	if !result.ShouldHandoff {
		o.metrics.HandoffEvaluations.WithLabelValues("continue").Inc()
		return result, nil
	}

	o.metrics.HandoffEvaluations.WithLabelValues("handoff").Inc()
	o.metrics.HandoffTriggers.WithLabelValues(string(*result.Reason)).Inc()

	fields := logrus.Fields{
		"conversation_id": conv.ID,
		"merchant_id":     conv.MerchantID,
		"reason":          *result.Reason,
	}
	if result.MatchedKeyword != nil {
		fields["keyword"] = *result.MatchedKeyword
	}

	claimKey, claimed := o.claim(ctx, conv.ID, msg.ID, fields)
	if !claimed {
		o.logger.WithFields(fields).WithField("message_id", msg.ID).Info("Handoff already recorded for message, skipping")
		return result, nil
	}

	conv.RecentMessages = withCurrentMessage(conv.RecentMessages, msg.Text)
	level := urgency.Determine(result.Reason, conv.RecentMessages)
	fields["urgency"] = level

	now := o.now()
	content := notification.BuildContent(conv, result.Reason, level, now, o.opts.BusinessHours.IsOffline(now))

	alert := models.HandoffAlert{
		ConversationID:      conv.ID,
		MerchantID:          conv.MerchantID,
		UrgencyLevel:        level,
		CustomerName:        &content.CustomerName,
		ConversationPreview: content.Preview,
		WaitTimeSeconds:     content.WaitTimeSeconds,
		IsOffline:           content.IsOffline,
		CreatedAt:           now,
		HandoffReason:       result.Reason,
	}
	if content.CustomerID != "" {
		alert.CustomerID = &content.CustomerID
	}

	stored, err := o.recorder.Create(ctx, alert)
	if err != nil {
		o.release(ctx, claimKey, fields)
		o.logger.WithError(err).WithFields(fields).Error("Failed to persist handoff alert")
		return result, fmt.Errorf("failed to persist handoff alert for conversation %d: %w", conv.ID, err)
	}
	o.metrics.AlertsCreated.WithLabelValues(string(level)).Inc()
	fields["alert_id"] = stored.ID

	if err := o.detector.ResetState(ctx, conv.ID); err != nil {
		o.logger.WithError(err).WithFields(fields).Warn("Failed to reset detection state after handoff")
	}

	dispatch := o.dispatcher.SendNotifications(ctx, conv.MerchantID, conv.ID, level, content)

	o.logger.WithFields(fields).WithFields(logrus.Fields{
		"dashboard": dispatch.Dashboard,
		"email":     dispatch.Email,
	}).Info("Conversation handed off to staff")

	return result, nil
}

// ResolveConversation clears detection state so a closed episode cannot
// contribute to a later trigger
func (o *Orchestrator) ResolveConversation(ctx context.Context, conversationID int64) error {
	if err := o.detector.ResetState(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to reset detection state for conversation %d: %w", conversationID, err)
	}

	o.logger.WithField("conversation_id", conversationID).Debug("Detection state cleared on resolve")
	return nil
}

// claim takes the per-message alert claim. Without the guard, or without a
// message id, every trigger proceeds. An unreachable store also proceeds.
func (o *Orchestrator) claim(ctx context.Context, conversationID int64, messageID string, fields logrus.Fields) (string, bool) {
	if !o.opts.IdempotentAlerts || o.claims == nil || messageID == "" {
		return "", true
	}

	key := constants.AlertClaimKey(conversationID, messageID)
	ok, err := o.claims.SetNX(ctx, key, "1", o.opts.ClaimTTL)
	if err != nil {
		o.logger.WithError(err).WithFields(fields).Warn("Alert claim unavailable, proceeding without it")
		return "", true
	}
	return key, ok
}

func (o *Orchestrator) release(ctx context.Context, key string, fields logrus.Fields) {
	if key == "" {
		return
	}
	if err := o.claims.Delete(ctx, key); err != nil {
		o.logger.WithError(err).WithFields(fields).Warn("Failed to release alert claim")
	}
}

// withCurrentMessage makes sure the triggering message is the newest entry of
// the context used for urgency and the preview
func withCurrentMessage(recent []string, text string) []string {
	if text == "" || (len(recent) > 0 && recent[len(recent)-1] == text) {
		return recent
	}
	out := make([]string, 0, len(recent)+1)
	out = append(out, recent...)
	return append(out, text)
}
