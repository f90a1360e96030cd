package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Abhi-Verma2005/oms-assistant/db"
	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/database"
	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired semantic cache entries",
	Long: `Sweep removes cache entries whose TTL has passed. Expiry is already
enforced lazily at lookup time, so this is storage hygiene, not
correctness: run it from cron or let "serve" handle it on its own
schedule.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

// runSweep connects directly to PostgreSQL without the AI stack: no API
// key or model access is needed to purge rows.
func runSweep(cmd *cobra.Command, _ []string) error {
	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	cache, err := semcache.New(pool, logger)
	if err != nil {
		return fmt.Errorf("creating semantic cache: %w", err)
	}

	removed, err := cache.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeping cache: %w", err)
	}

	fmt.Printf("Removed %d expired cache entries\n", removed)
	return nil
}
