package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	redisClient "handoff-escalation-service/pkg/redis"
	"handoff-escalation-service/pkg/service"
	"handoff-escalation-service/pkg/store"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, in stream mode, the message consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending schema migrations before serving")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("pod_id", cfg.PodID).Info("Starting handoff escalation service")

	if migrate {
		if err := store.Migrate(cfg.Database.Driver, cfg.Database.DSN, logger); err != nil {
			return err
		}
	}

	redisConfig := redisClient.DefaultConnectionConfig()
	redisConfig.URL = cfg.RedisURL

	redis, err := redisClient.NewClient(redisConfig, logger)
	if err != nil {
		return err
	}
	defer redis.Close()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.DefaultPoolConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := service.NewService(cfg, redis.GetRedisClient(), db, registry, logger)
	if err != nil {
		return err
	}

	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("Handoff service exited with error")
		return err
	}

	logger.Info("Handoff service shutdown complete")
	return nil
}
