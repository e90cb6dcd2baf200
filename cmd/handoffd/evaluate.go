package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"handoff-escalation-service/pkg/detector"
	"handoff-escalation-service/pkg/metrics"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/notification"
	"handoff-escalation-service/pkg/orchestrator"
	redisClient "handoff-escalation-service/pkg/redis"
	"handoff-escalation-service/pkg/signals"
	"handoff-escalation-service/pkg/urgency"
)

func newEvaluateCmd() *cobra.Command {
	var (
		conversationID int64
		text           string
		confidence     float64
		clarification  string
		recent         []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one message through detection without persisting or notifying",
		Long: `Run one message through the handoff detector against the configured
signal store and print the verdict and urgency. Streak counters are updated
exactly as in live mode, so repeated calls can trip a streak.

Examples:
  handoffd evaluate --conversation 42 --message "can I talk to a human"
  handoffd evaluate --conversation 42 --message "hmm" --confidence 0.3
  handoffd evaluate --conversation 42 --message "size?" --clarification size`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID <= 0 {
				return errors.New("--conversation must be a positive id")
			}

			msg := models.Message{Text: text}
			if cmd.Flags().Changed("confidence") {
				msg.Confidence = &confidence
			}
			if clarification != "" {
				msg.ClarificationType = &clarification
			}

			redisConfig := redisClient.DefaultConnectionConfig()
			redisConfig.URL = cfg.RedisURL
			redis, err := redisClient.NewClient(redisConfig, logger)
			if err != nil {
				return err
			}
			defer redis.Close()

			m := metrics.NewMetrics(prometheus.NewRegistry())
			det := detector.NewSignalDetector(signals.NewRedisStore(redis.GetRedisClient(), logger, m), detector.Options{
				ConfidenceThreshold:       cfg.Detection.ConfidenceThreshold,
				ConfidenceTriggerCount:    cfg.Detection.ConfidenceTriggerCount,
				ClarificationTriggerCount: cfg.Detection.ClarificationTriggerCount,
				SignalTTL:                 cfg.SignalTTL(),
				Keywords:                  cfg.Detection.Keywords,
			}, logger)
			orch := orchestrator.NewEvaluation(det, orchestrator.DefaultOptions(), logger, m)

			if text != "" && (len(recent) == 0 || recent[len(recent)-1] != text) {
				recent = append(recent, text)
			}
			conv := models.Conversation{ID: conversationID, CreatedAt: time.Now().UTC(), RecentMessages: recent}

			result, err := orch.ProcessHandoff(cmd.Context(), conv, msg)
			if err != nil {
				return err
			}

			printResult(result, recent)
			return nil
		},
	}

	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "Conversation id whose signal state is used")
	cmd.Flags().StringVar(&text, "message", "", "Customer message text")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Classifier confidence for the message")
	cmd.Flags().StringVar(&clarification, "clarification", "", "Clarification type the bot asked")
	cmd.Flags().StringSliceVar(&recent, "recent", nil, "Recent conversation messages, oldest first")

	return cmd
}

func printResult(result models.HandoffResult, recent []string) {
	if !result.ShouldHandoff {
		fmt.Printf("%s  confidence streak %d, clarification loop %d\n",
			color.New(color.FgGreen).Sprint("NO HANDOFF"), result.ConfidenceStreakCount, result.LoopCount)
		return
	}

	level := urgency.Determine(result.Reason, recent)
	levelColor := map[models.UrgencyLevel]color.Attribute{
		models.UrgencyHigh:   color.FgRed,
		models.UrgencyMedium: color.FgYellow,
		models.UrgencyLow:    color.FgBlue,
	}[level]

	fmt.Printf("%s  reason=%s urgency=%s\n",
		color.New(color.FgRed, color.Bold).Sprint("HANDOFF"),
		*result.Reason,
		color.New(levelColor).Sprint(level))
	if result.MatchedKeyword != nil {
		fmt.Printf("  matched keyword: %q\n", *result.MatchedKeyword)
	}
	fmt.Println("  preview:")
	for _, line := range notification.Preview(recent) {
		fmt.Printf("    %s\n", line)
	}
}
