package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// eventField holds the JSON encoded MessageEvent in each stream entry
const eventField = "event"

type Publisher struct {
	rdb    *redis.Client
	stream string
	logger *logrus.Logger
}

func NewPublisher(rdb *redis.Client, stream string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		stream: stream,
		logger: logger,
	}
}

// Publish appends the event to the stream and returns the entry id
func (p *Publisher) Publish(ctx context.Context, event MessageEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message event: %w", err)
	}

	entryID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"conversation_id": event.Conversation.ID,
			"merchant_id":     event.Conversation.MerchantID,
			eventField:        string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add message event to stream: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"conversation_id": event.Conversation.ID,
		"merchant_id":     event.Conversation.MerchantID,
		"entry_id":        entryID,
	}).Debug("Published message event to stream")

	return entryID, nil
}
