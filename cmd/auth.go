package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sstent/stravasync/internal/auth"
)

var authFilePath string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize with Strava and save credentials",
	Long: `Runs the interactive OAuth flow: prints an authorization URL, waits
for the browser redirect on localhost:8080 and saves the resulting
tokens to the credential file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		path := authFilePath
		if path == "" {
			path = cfg.AuthPath
		}

		conf := auth.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret)
		cred, err := auth.Authorize(cmd.Context(), conf, cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		store := auth.NewTokenStore(path, conf, log)
		if err := store.Save(*cred); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to %s\n", path)
		return nil
	},
}

func init() {
	authCmd.Flags().StringVarP(&authFilePath, "auth", "a", "", "Path to save tokens to (default auth.json)")

	rootCmd.AddCommand(authCmd)
}
