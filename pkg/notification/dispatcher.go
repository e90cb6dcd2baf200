package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/metrics"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/signals"
)

// Dispatcher fans a persisted handoff out to staff channels. It never
// returns an error: channel failures are reported in the result.
type Dispatcher interface {
	SendNotifications(ctx context.Context, merchantID, conversationID int64, urgency models.UrgencyLevel, content Content) models.DispatchResult
}

type Options struct {
	EmailTimeout    time.Duration
	EmailRateWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		EmailTimeout:    time.Duration(constants.DefaultEmailTimeoutMS) * time.Millisecond,
		EmailRateWindow: constants.SecondsToDuration(constants.DefaultEmailRateWindowSeconds),
	}
}

// ChannelDispatcher flags the dashboard and sends at most one email per
// merchant and urgency tier per rate window.
type ChannelDispatcher struct {
	store   signals.Store
	sender  EmailSender
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

var _ Dispatcher = (*ChannelDispatcher)(nil)

// NewChannelDispatcher builds a dispatcher; a nil sender disables email
func NewChannelDispatcher(store signals.Store, sender EmailSender, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *ChannelDispatcher {
	return &ChannelDispatcher{
		store:   store,
		sender:  sender,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

func (d *ChannelDispatcher) SendNotifications(ctx context.Context, merchantID, conversationID int64, urgency models.UrgencyLevel, content Content) models.DispatchResult {
	// The persisted alert is the dashboard notification
	result := models.DispatchResult{Dashboard: true}
	d.metrics.NotificationsSent.WithLabelValues("dashboard", "sent").Inc()

	if d.sender == nil {
		return result
	}

	result.Email = d.sendEmail(ctx, merchantID, conversationID, urgency, content)
	return result
}

func (d *ChannelDispatcher) sendEmail(ctx context.Context, merchantID, conversationID int64, urgency models.UrgencyLevel, content Content) bool {
	fields := logrus.Fields{
		"merchant_id":     merchantID,
		"conversation_id": conversationID,
		"urgency":         urgency,
	}
	key := constants.EmailRateKey(merchantID, string(urgency))

	marked, err := d.store.Exists(ctx, key)
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("Email rate marker unavailable, sending anyway")
	}
	if marked {
		d.metrics.NotificationsSent.WithLabelValues("email", "rate_limited").Inc()
		d.logger.WithFields(fields).Debug("Email already sent this window")
		return true
	}

	meta := Metadata{
		ConversationID: conversationID,
		Urgency:        urgency,
		CustomerName:   content.CustomerName,
	}

	start := time.Now()
	ok, err := d.callSender(ctx, merchantID, FormatEmail(content), meta)
	d.metrics.EmailSendDuration.Observe(time.Since(start).Seconds())

	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("sender reported failure")
		}
		d.metrics.NotificationsSent.WithLabelValues("email", "failed").Inc()
		d.logger.WithError(err).WithFields(fields).Warn("Failed to send handoff email")
		return false
	}

	if err := d.store.Set(ctx, key, "1", d.opts.EmailRateWindow); err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("Failed to write email rate marker")
	}

	d.metrics.NotificationsSent.WithLabelValues("email", "sent").Inc()
	d.logger.WithFields(fields).Info("Sent handoff email")
	return true
}

type sendOutcome struct {
	ok  bool
	err error
}

// callSender bounds the sender by EmailTimeout. A sender that ignores its
// context is abandoned; its late result is discarded.
func (d *ChannelDispatcher) callSender(ctx context.Context, merchantID int64, message string, meta Metadata) (bool, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.EmailTimeout)
	defer cancel()

	done := make(chan sendOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendOutcome{err: fmt.Errorf("email sender panicked: %v", r)}
			}
		}()
		ok, err := d.sender.Send(sendCtx, merchantID, message, meta)
		done <- sendOutcome{ok: ok, err: err}
	}()

	select {
	case out := <-done:
		return out.ok, out.err
	case <-sendCtx.Done():
		return false, fmt.Errorf("email sender timed out: %w", sendCtx.Err())
	}
}

type noop struct{}

// Noop sends nothing on any channel
func Noop() Dispatcher {
	return noop{}
}

func (noop) SendNotifications(context.Context, int64, int64, models.UrgencyLevel, Content) models.DispatchResult {
	return models.DispatchResult{}
}
