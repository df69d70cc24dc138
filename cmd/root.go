package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sstent/stravasync/internal/auth"
	"github.com/sstent/stravasync/internal/config"
	"github.com/sstent/stravasync/internal/logger"
	"github.com/sstent/stravasync/internal/strava"
)

var rootCmd = &cobra.Command{
	Use:   "stravasync",
	Short: "stravasync mirrors Strava activities and GPX tracks to SQLite",
	Long: `stravasync is a CLI application that:
1. Authorizes with the Strava API (auth)
2. Incrementally syncs the activity feed to a SQLite database (activities)
3. Downloads GPX tracks into a local cache (activity-gpx)
4. Lists synced activities and their download status (list)`,
	SilenceUsage: true,
}

// Execute runs the CLI. Interrupts cancel the active command's context so
// in-flight work stops cleanly; anything already committed stays committed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the root logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.New(cfg.LogLevel), nil
}

// newStravaClient wires the token store and API client from config.
func newStravaClient(cfg *config.Config, authPath string, log zerolog.Logger) *strava.Client {
	if authPath == "" {
		authPath = cfg.AuthPath
	}
	conf := auth.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret)
	tokens := auth.NewTokenStore(authPath, conf, log)
	return strava.NewClient(tokens, log, strava.Options{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		PageSize:   cfg.PageSize,
		PageDelay:  cfg.PageDelay,
	})
}
