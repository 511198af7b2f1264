package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uk.co.dudmesh.helpline/internal/boot"
	"uk.co.dudmesh.helpline/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Creates any missing tables and indexes in DATABASE_PATH. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := boot.Load()
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			// Open migrates
			db, err := store.Open(config.DatabasePath())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", config.DatabasePath())
			return nil
		},
	}
}
