// Package ingest moves inbound customer messages into the handoff flow,
// either inline from the HTTP API or through a Redis Streams consumer group.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/conversations"
	"handoff-escalation-service/pkg/models"
)

// MessageEvent is one inbound customer message with the conversation snapshot
// the pipeline produced for it
type MessageEvent struct {
	Conversation models.Conversation `json:"conversation"`
	Message      models.Message      `json:"message"`
	ReceivedAt   time.Time           `json:"received_at"`
}

var ErrInvalidEvent = errors.New("invalid message event")

func (e MessageEvent) Validate() error {
	if e.Conversation.ID <= 0 {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidEvent)
	}
	if e.Conversation.MerchantID <= 0 {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Message.Text) == "" {
		return fmt.Errorf("%w: message text is required", ErrInvalidEvent)
	}
	if c := e.Message.Confidence; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("%w: confidence must be within [0, 1]", ErrInvalidEvent)
	}
	return nil
}

// HandoffProcessor is the orchestrator as seen by the pipeline
type HandoffProcessor interface {
	ProcessHandoff(ctx context.Context, conv models.Conversation, msg models.Message) (models.HandoffResult, error)
	ResolveConversation(ctx context.Context, conversationID int64) error
}

// Handler processes one message event
type Handler interface {
	Handle(ctx context.Context, event MessageEvent) (models.HandoffResult, error)
}

// Pipeline keeps the conversations read model in step with the handoff flow.
// A nil conversations repository skips the read model entirely.
type Pipeline struct {
	conversations conversations.Repository
	processor     HandoffProcessor
	logger        *logrus.Logger
}

var _ Handler = (*Pipeline)(nil)

func NewPipeline(convs conversations.Repository, processor HandoffProcessor, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		conversations: convs,
		processor:     processor,
		logger:        logger,
	}
}

func (p *Pipeline) Handle(ctx context.Context, event MessageEvent) (models.HandoffResult, error) {
	if err := event.Validate(); err != nil {
		return models.HandoffResult{}, err
	}

	conv := event.Conversation
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = event.ReceivedAt
	}

	if p.conversations != nil {
		if err := p.conversations.Upsert(ctx, conv); err != nil {
			return models.HandoffResult{}, err
		}
	}

	result, err := p.processor.ProcessHandoff(ctx, conv, event.Message)
	if err != nil {
		return result, err
	}

	if result.ShouldHandoff && p.conversations != nil {
		// The alert is already stored; a stale read model only hides it from the queue view
		if err := p.conversations.MarkHandoff(ctx, conv.MerchantID, conv.ID, *result.Reason); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"conversation_id": conv.ID,
				"merchant_id":     conv.MerchantID,
			}).Error("Failed to move conversation into handoff")
		}
	}

	return result, nil
}

// Resolve closes a conversation for its merchant and clears detection state
func (p *Pipeline) Resolve(ctx context.Context, merchantID, conversationID int64) error {
	if p.conversations != nil {
		if err := p.conversations.Resolve(ctx, merchantID, conversationID); err != nil {
			return err
		}
	}

	return p.processor.ResolveConversation(ctx, conversationID)
}
