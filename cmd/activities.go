package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/sync"
)

var (
	activitiesAll      bool
	activitiesTruncate bool
	activitiesAuthPath string
)

var activitiesCmd = &cobra.Command{
	Use:   "activities <db>",
	Short: "Sync the Strava activity feed into a SQLite database",
	Long: `Fetches the athlete activity feed and upserts it into the database.
By default only activities newer than the latest stored one are
fetched; --all-activities walks the full history and --truncate
replaces existing rows.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		store, err := db.NewStore(args[0], log)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		client := newStravaClient(cfg, activitiesAuthPath, log)
		engine := sync.NewEngine(client, store, log)

		report, err := engine.Run(cmd.Context(), sync.RunOptions{
			Full:     activitiesAll,
			Truncate: activitiesTruncate,
		})
		if report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d activities: %d inserted, %d updated, %d skipped\n",
				report.Fetched, report.Inserted, report.Updated, report.Skipped)
		}
		return err
	},
}

func init() {
	activitiesCmd.Flags().BoolVarP(&activitiesAll, "all-activities", "l", false,
		"Load all activities instead of only those since the last load")
	activitiesCmd.Flags().BoolVarP(&activitiesTruncate, "truncate", "t", false,
		"Replace existing activities with the loaded ones")
	activitiesCmd.Flags().StringVarP(&activitiesAuthPath, "auth", "a", "",
		"Path to the credential file (default auth.json)")

	rootCmd.AddCommand(activitiesCmd)
}
