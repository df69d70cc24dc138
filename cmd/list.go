package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sstent/stravasync/internal/db"
)

var (
	listAll        bool
	listMissing    bool
	listDownloaded bool
)

var listCmd = &cobra.Command{
	Use:   "list <db>",
	Short: "List synced activities",
	Long: `List activities from the local database with various filters:
- All activities
- Missing activities (track not yet downloaded)
- Downloaded activities`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := setup()
		if err != nil {
			return err
		}

		store, err := db.NewStore(args[0], log)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		filter := db.FilterAll
		if listMissing {
			filter = db.FilterMissing
		} else if listDownloaded {
			filter = db.FilterDownloaded
		}

		page := 1
		pageSize := 20
		totalShown := 0
		for {
			activities, err := store.ListPaginated(cmd.Context(), filter, page, pageSize)
			if err != nil {
				return fmt.Errorf("failed to get activities: %w", err)
			}

			if len(activities) == 0 {
				if totalShown == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No activities found matching the criteria")
				}
				break
			}

			for _, a := range activities {
				status := "not downloaded"
				if a.Downloaded {
					status = "downloaded"
				} else if !a.HasTrack {
					status = "no track"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ID: %d | %s | %-10s | %s | %s\n",
					a.ID, a.StartDate.Format("2006-01-02 15:04:05"), a.Type, a.Name, status)
				totalShown++
			}

			if len(activities) < pageSize {
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d activities shown\n", totalShown)
				break
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d (%d activities shown) - Show more? (y/n): ", page, totalShown)
			var response string
			fmt.Scanln(&response)
			if strings.ToLower(response) != "y" {
				break
			}
			page++
		}

		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "List all activities")
	listCmd.Flags().BoolVar(&listMissing, "missing", false, "List activities whose track has not been downloaded")
	listCmd.Flags().BoolVar(&listDownloaded, "downloaded", false, "List activities whose track has been downloaded")
	listCmd.MarkFlagsMutuallyExclusive("all", "missing", "downloaded")
	listCmd.MarkFlagsOneRequired("all", "missing", "downloaded")

	rootCmd.AddCommand(listCmd)
}
