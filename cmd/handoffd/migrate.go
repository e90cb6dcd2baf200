package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"handoff-escalation-service/pkg/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		up      bool
		down    bool
		steps   int
		version bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the alert schema",
		Long: `Apply or roll back the embedded schema migrations against DATABASE_DSN.

Examples:
  handoffd migrate --up
  handoffd migrate --steps -1
  handoffd migrate --version`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := 0
			for _, set := range []bool{up, down, steps != 0, version} {
				if set {
					selected++
				}
			}
			if selected != 1 {
				return errors.New("exactly one of --up, --down, --steps or --version is required")
			}

			m, err := store.NewMigrator(cfg.Database.Driver, cfg.Database.DSN, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			switch {
			case up:
				err = m.Up()
			case down:
				err = m.Down()
			case steps != 0:
				err = m.Steps(steps)
			}
			if err != nil {
				return err
			}

			v, dirty, err := m.Version()
			if err != nil {
				return err
			}

			state := color.New(color.FgGreen).Sprint("clean")
			if dirty {
				state = color.New(color.FgRed).Sprint("DIRTY")
			}
			fmt.Printf("schema version %d (%s)\n", v, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&up, "up", false, "Apply all pending migrations")
	cmd.Flags().BoolVar(&down, "down", false, "Roll back all migrations")
	cmd.Flags().IntVar(&steps, "steps", 0, "Apply (positive) or roll back (negative) n migrations")
	cmd.Flags().BoolVar(&version, "version", false, "Print the current schema version")

	return cmd
}
