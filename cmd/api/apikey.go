package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalix/gateway/internal/auth"
)

func apikeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apikey",
		Short: "Generate a random API key and its API_KEYS digest entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, hash, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:         %s\n", key)
			fmt.Fprintf(out, "API_KEYS:    sha256:%s\n", hash)
			fmt.Fprintf(out, "fingerprint: %s\n", auth.Fingerprint(hash))
			return nil
		},
	}
}
