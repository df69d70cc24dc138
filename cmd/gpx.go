package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sstent/stravasync/internal/cache"
	"github.com/sstent/stravasync/internal/db"
	"github.com/sstent/stravasync/internal/sync"
)

var (
	gpxCacheDir    string
	gpxActivityIDs []int64
	gpxAll         bool
	gpxAuthPath    string
)

var gpxCmd = &cobra.Command{
	Use:   "activity-gpx <db>",
	Short: "Download GPX tracks for synced activities",
	Long: `Downloads the GPX track for each candidate activity into the cache
directory. Already-cached tracks are skipped, so re-running after a
partial failure only fetches what is missing. A failure on one
activity never aborts the batch.`,
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

		ctx := cmd.Context()

		var ids []int64
		switch {
		case len(gpxActivityIDs) > 0:
			ids = gpxActivityIDs
		case gpxAll:
			ids, err = store.AllTrackIDs(ctx)
		default:
			ids, err = store.ListGPXCandidates(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to select activities: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No activity GPX to fetch")
			return nil
		}

		cacheDir := gpxCacheDir
		if cacheDir == "" {
			cacheDir = cfg.CacheDir
		}

		client := newStravaClient(cfg, gpxAuthPath, log)
		downloader := sync.NewDownloader(client, cache.New(cacheDir), store, cfg.Concurrency, log)

		report, err := downloader.SyncTracks(ctx, ids)
		if report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Tracks: %d downloaded, %d already cached, %d failed of %d requested\n",
				report.Downloaded, report.Hits, report.Failed, report.Requested)
		}
		// Per-activity failures are reported in the summary but do not
		// fail the command; only aborts (auth, cancellation) do.
		return err
	},
}

func init() {
	gpxCmd.Flags().StringVarP(&gpxCacheDir, "cache-dir", "c", "",
		"Path to save downloaded GPX files to (default cache)")
	gpxCmd.Flags().Int64SliceVarP(&gpxActivityIDs, "activity-id", "i", nil,
		"Activity ID of activity GPX to download (repeatable)")
	gpxCmd.Flags().BoolVarP(&gpxAll, "all-activities", "l", false,
		"Load all activity GPX files, not only missing ones")
	gpxCmd.Flags().StringVarP(&gpxAuthPath, "auth", "a", "",
		"Path to the credential file (default auth.json)")

	rootCmd.AddCommand(gpxCmd)
}
