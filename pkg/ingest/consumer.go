package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/conversations"
	"handoff-escalation-service/pkg/metrics"
)

type ConsumerConfig struct {
	Stream          string
	Group           string
	Consumer        string
	BatchSize       int64
	Block           time.Duration
	ReclaimInterval time.Duration
	MinIdle         time.Duration
}

func DefaultConsumerConfig(podID string) ConsumerConfig {
	return ConsumerConfig{
		Stream:          constants.MessageEventsStream,
		Group:           "handoff-processors",
		Consumer:        fmt.Sprintf("consumer-%s", podID),
		BatchSize:       10,
		Block:           time.Second,
		ReclaimInterval: constants.SecondsToDuration(constants.DefaultPendingReclaimSeconds),
		MinIdle:         constants.SecondsToDuration(constants.DefaultPendingMinIdleSeconds),
	}
}

// Consumer reads message events as part of a consumer group. Entries are
// acknowledged once handled or when they can never be handled; anything else
// stays pending and is reclaimed after MinIdle.
type Consumer struct {
	rdb     *redis.Client
	cfg     ConsumerConfig
	handler Handler
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewConsumer(rdb *redis.Client, cfg ConsumerConfig, handler Handler, logger *logrus.Logger, metrics *metrics.Metrics) *Consumer {
	return &Consumer{
		rdb:     rdb,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// EnsureGroup creates the stream and consumer group if missing
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"stream":         c.cfg.Stream,
		"consumer_group": c.cfg.Group,
	}).Info("Consumer group ready")
	return nil
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.logger.WithField("consumer_name", c.cfg.Consumer).Info("Starting stream consumer")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for ctx.Err() == nil {
			if _, err := c.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Error("Failed to read from stream")
				// Back off so a dead connection does not spin
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.Block):
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.ReclaimInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.ReclaimPending(ctx); err != nil && ctx.Err() == nil {
					c.logger.WithError(err).Error("Failed to reclaim pending messages")
				}
			}
		}
	})

	err := g.Wait()
	c.logger.Info("Stream consumer stopped")
	return err
}

// ProcessBatch reads and handles up to BatchSize new entries
func (c *Consumer) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	processed := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			c.processMessage(ctx, message)
			processed++
		}
	}

	if processed > 0 {
		c.metrics.StreamProcessingDuration.Observe(time.Since(start).Seconds())
	}
	return processed, nil
}

// ReclaimPending takes over entries idle longer than MinIdle, including ones
// left behind by consumers that died, and retries them
func (c *Consumer) ReclaimPending(ctx context.Context) (int, error) {
	pending, err := c.rdb.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}
	if pending.Count == 0 {
		return 0, nil
	}

	c.logger.WithField("pending_count", pending.Count).Info("Processing pending messages")

	messages, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.MinIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to auto-claim pending messages: %w", err)
	}

	for _, message := range messages {
		c.processMessage(ctx, message)
	}
	return len(messages), nil
}

func (c *Consumer) processMessage(ctx context.Context, message redis.XMessage) {
	event, err := parseEvent(message)
	if err == nil {
		err = event.Validate()
	}
	if err != nil {
		c.logger.WithError(err).WithField("entry_id", message.ID).Error("Discarding unreadable message event")
		c.metrics.StreamMessagesProcessed.WithLabelValues("parse_error").Inc()
		c.ack(ctx, message.ID)
		return
	}

	fields := logrus.Fields{
		"conversation_id": event.Conversation.ID,
		"merchant_id":     event.Conversation.MerchantID,
		"entry_id":        message.ID,
	}

	result, err := c.handler.Handle(ctx, event)
	if errors.Is(err, conversations.ErrNotFound) {
		// The conversation belongs to another merchant; a retry cannot succeed
		c.logger.WithError(err).WithFields(fields).Warn("Rejecting message event for foreign conversation")
		c.metrics.StreamMessagesProcessed.WithLabelValues("rejected").Inc()
		c.ack(ctx, message.ID)
		return
	}
	if err != nil {
		// Left pending for ReclaimPending
		c.logger.WithError(err).WithFields(fields).Error("Failed to process message event")
		c.metrics.StreamMessagesProcessed.WithLabelValues("processing_error").Inc()
		return
	}

	if !c.ack(ctx, message.ID) {
		return
	}

	c.metrics.StreamMessagesProcessed.WithLabelValues("success").Inc()
	c.logger.WithFields(fields).WithField("should_handoff", result.ShouldHandoff).Debug("Processed message event")
}

func (c *Consumer) ack(ctx context.Context, entryID string) bool {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, entryID).Err(); err != nil {
		c.logger.WithError(err).WithField("entry_id", entryID).Error("Failed to acknowledge message")
		return false
	}
	return true
}

func parseEvent(message redis.XMessage) (MessageEvent, error) {
	raw, ok := message.Values[eventField].(string)
	if !ok {
		return MessageEvent{}, fmt.Errorf("missing or invalid %s field", eventField)
	}

	var event MessageEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return MessageEvent{}, fmt.Errorf("invalid event payload: %w", err)
	}
	return event, nil
}
