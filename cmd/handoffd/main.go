package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"handoff-escalation-service/pkg/config"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "handoffd",
		Short:         "Detects chat conversations that need a human and notifies staff",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; the environment still wins
			_ = godotenv.Load()

			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = loaded
			logger = newLogger(cfg.LogLevel)
			return nil
		},
	}

	root.AddCommand(newServeCmd(), newMigrateCmd(), newEvaluateCmd())
	return root
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
