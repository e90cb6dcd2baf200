package notification

import (
	"context"

	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/models"
)

// Metadata accompanies every email so the provider can thread and audit it
type Metadata struct {
	ConversationID int64               `json:"conversation_id"`
	Urgency        models.UrgencyLevel `json:"urgency"`
	CustomerName   string              `json:"customer_name"`
}

// EmailSender delivers a rendered message to a merchant's staff inbox.
// Implementations should respect context cancellation; a false return
// without an error is still a failed delivery.
type EmailSender interface {
	Send(ctx context.Context, merchantID int64, message string, meta Metadata) (bool, error)
}

// LogSender writes emails to the log instead of delivering them
type LogSender struct {
	logger *logrus.Logger
}

var _ EmailSender = (*LogSender)(nil)

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, merchantID int64, message string, meta Metadata) (bool, error) {
	s.logger.WithFields(logrus.Fields{
		"merchant_id":     merchantID,
		"conversation_id": meta.ConversationID,
		"urgency":         meta.Urgency,
		"customer_name":   meta.CustomerName,
	}).Info(message)
	return true, nil
}
