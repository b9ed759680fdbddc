package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalix/gateway/internal/db"
	"github.com/signalix/gateway/internal/logging"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL := os.Getenv("DATABASE_URL")
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL environment variable is required")
			}
			if _, err := logging.New(os.Getenv("LOG_LEVEL"), "console", os.Stderr); err != nil {
				return err
			}

			database, dialect, err := db.Open(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			if status {
				return db.MigrationStatus(database, dialect)
			}
			return db.Migrate(database, dialect)
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}
