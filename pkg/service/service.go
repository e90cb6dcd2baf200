// Package service assembles the handoff components from configuration and
// runs the HTTP API alongside the optional stream consumer.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"handoff-escalation-service/pkg/alerts"
	"handoff-escalation-service/pkg/config"
	"handoff-escalation-service/pkg/conversations"
	"handoff-escalation-service/pkg/detector"
	"handoff-escalation-service/pkg/handlers"
	"handoff-escalation-service/pkg/ingest"
	"handoff-escalation-service/pkg/metrics"
	"handoff-escalation-service/pkg/notification"
	"handoff-escalation-service/pkg/orchestrator"
	"handoff-escalation-service/pkg/server"
	"handoff-escalation-service/pkg/signals"
	"handoff-escalation-service/pkg/store"
)

const shutdownTimeout = 10 * time.Second

type Service struct {
	config   *config.Config
	logger   *logrus.Logger
	server   *http.Server
	consumer *ingest.Consumer
}

// NewService wires every component for cfg.Mode and cfg.IngestMode. The
// registry receives all service metrics and backs GET /metrics.
func NewService(cfg *config.Config, rdb *redis.Client, db *store.DB, registry *prometheus.Registry, logger *logrus.Logger) (*Service, error) {
	m := metrics.NewMetrics(registry)

	signalStore := signals.NewRedisStore(rdb, logger, m)
	alertRepo := alerts.NewSQLRepository(db, logger)

	bh, err := businessHours(cfg.Notification.BusinessHours)
	if err != nil {
		return nil, err
	}

	opts := orchestrator.DefaultOptions()
	opts.IdempotentAlerts = cfg.IdempotentAlerts
	opts.ClaimTTL = cfg.SignalTTL()
	opts.BusinessHours = bh

	det := newDetector(cfg, signalStore, logger)

	var (
		processor ingest.HandoffProcessor
		convs     conversations.Repository
	)
	switch cfg.Mode {
	case config.ModeEvaluate:
		processor = orchestrator.NewEvaluation(det, opts, logger, m)
	default:
		var sender notification.EmailSender
		if cfg.Notification.EmailEnabled {
			sender = notification.NewLogSender(logger)
		}
		dispatcher := notification.NewChannelDispatcher(signalStore, sender, notification.Options{
			EmailTimeout:    cfg.EmailTimeout(),
			EmailRateWindow: cfg.EmailRateWindow(),
		}, logger, m)
		processor = orchestrator.New(det, alertRepo, dispatcher, signalStore, opts, logger, m)
		convs = conversations.NewSQLRepository(db, logger)
	}

	pipeline := ingest.NewPipeline(convs, processor, logger)

	s := &Service{
		config: cfg,
		logger: logger,
	}

	var publisher handlers.EventPublisher
	if cfg.IngestMode == config.IngestStream {
		publisher = ingest.NewPublisher(rdb, cfg.StreamName, logger)

		consumerCfg := ingest.DefaultConsumerConfig(cfg.PodID)
		consumerCfg.Stream = cfg.StreamName
		consumerCfg.Group = cfg.ConsumerGroupName
		s.consumer = ingest.NewConsumer(rdb, consumerCfg, pipeline, logger, m)
	}

	checks := map[string]handlers.HealthCheck{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"database": db.PingContext,
	}

	handler := handlers.NewHandler(alertRepo, pipeline, publisher, checks, logger)
	s.server = server.NewHTTPServer(cfg.Port, handler, registry, logger)

	return s, nil
}

func newDetector(cfg *config.Config, store signals.Store, logger *logrus.Logger) detector.Detector {
	if cfg.Mode == config.ModeDisabled {
		return detector.Disabled()
	}
	return detector.NewSignalDetector(store, detector.Options{
		ConfidenceThreshold:       cfg.Detection.ConfidenceThreshold,
		ConfidenceTriggerCount:    cfg.Detection.ConfidenceTriggerCount,
		ClarificationTriggerCount: cfg.Detection.ClarificationTriggerCount,
		SignalTTL:                 cfg.SignalTTL(),
		Keywords:                  cfg.Detection.Keywords,
	}, logger)
}

func businessHours(bh config.BusinessHours) (notification.BusinessHours, error) {
	loc, err := time.LoadLocation(bh.Timezone)
	if err != nil {
		return notification.BusinessHours{}, fmt.Errorf("failed to load business hours timezone: %w", err)
	}
	return notification.BusinessHours{
		StartHour: bh.StartHour,
		EndHour:   bh.EndHour,
		Location:  loc,
	}, nil
}

// Handler exposes the HTTP handler for in-process tests
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled or a component fails, then shuts the
// HTTP server down gracefully.
func (s *Service) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"pod_id":      s.config.PodID,
		"mode":        s.config.Mode,
		"ingest_mode": s.config.IngestMode,
	}).Info("Starting handoff service")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			return err
		}
		return nil
	})

	if s.consumer != nil {
		g.Go(func() error {
			return s.consumer.Run(ctx)
		})
	}

	err := g.Wait()
	s.logger.Info("Handoff service stopped")
	return err
}
