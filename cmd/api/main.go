package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Multi-tenant chat session gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Env vars already set win over .env values
			for _, f := range envFiles {
				if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", f, err)
				}
			}
			return nil
		},
		// Running without a subcommand serves the API.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading configuration")

	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd(), apikeyCmd())
	return root
}
