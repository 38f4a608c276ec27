package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"filmdex/internal/config"
	"filmdex/internal/store"
	"filmdex/internal/ui"
	"filmdex/internal/update"
)

var (
	flagForce    bool
	flagFull     bool
	flagInterval int
	flagDBPath   string
	flagDBURL    string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Import a film list into the catalog",
	Long: `Import a decompressed film list file into the catalog.

The backend is chosen by subcommand. A full pass removes films that
are no longer in the feed; an incremental pass only adds and
refreshes. Without --full the engine decides based on when the last
full pass ran.`,
}

var updateSqliteCmd = &cobra.Command{
	Use:   "sqlite <feed-file>",
	Short: "Import into the embedded SQLite catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		cfg.Database.Type = "sqlite"
		if flagDBPath != "" {
			cfg.Database.Path = flagDBPath
		}
		runUpdate(cfg, args[0])
	},
}

var updateLibsqlCmd = &cobra.Command{
	Use:   "libsql <feed-file>",
	Short: "Import into a remote libsql catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		cfg.Database.Type = "libsql"
		if flagDBURL != "" {
			cfg.Database.URL = flagDBURL
		}
		runUpdate(cfg, args[0])
	},
}

func init() {
	updateCmd.PersistentFlags().BoolVar(&flagForce, "force", false, "ignore the minimum update interval")
	updateCmd.PersistentFlags().BoolVar(&flagFull, "full", false, "force a full pass")
	updateCmd.PersistentFlags().IntVar(&flagInterval, "interval", 0, "minimum seconds between updates (overrides config)")
	updateSqliteCmd.Flags().StringVar(&flagDBPath, "db", "", "database file (overrides config)")
	updateLibsqlCmd.Flags().StringVar(&flagDBURL, "url", "", "database server URL (overrides config)")
	updateCmd.AddCommand(updateSqliteCmd)
	updateCmd.AddCommand(updateLibsqlCmd)
}

func runUpdate(cfg config.Config, feedPath string) {
	if flagInterval > 0 {
		cfg.Update.IntervalSeconds = flagInterval
	}
	if err := validateDatabase(cfg); err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, "[update] ")
	backend := openBackend(cfg, logger)
	defer backend.Close()

	updater := update.New(backend, cfg, logger)
	ctx := context.Background()

	if err := updater.Init(ctx); err != nil {
		errorf("Error initializing catalog: %v", err)
		os.Exit(1)
	}

	due, err := updater.ShouldUpdate(ctx, flagForce)
	if err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}
	if !due {
		fmt.Printf("%s Catalog is fresh enough, nothing to do (use --force)\n", ui.RenderPass("✓"))
		return
	}

	full := flagFull
	if !full {
		full, err = updater.ShouldFull(ctx)
		if err != nil {
			errorf("Error: %v", err)
			os.Exit(1)
		}
	}

	kind := "incremental"
	if full {
		kind = "full"
	}
	fmt.Printf("%s Importing %s (%s pass, %s backend)...\n",
		ui.RenderAccent("⟳"), feedPath, kind, backend.Name())
	start := time.Now()

	res, err := updater.ImportFile(ctx, feedPath, full)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyUpdating) {
			fmt.Printf("%s Another writer is updating the catalog, skipping\n", ui.RenderWarn("⚠"))
			return
		}
		errorf("Error during import: %v", err)
		os.Exit(1)
	}

	fmt.Printf("%s Import complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	fmt.Printf("   New:     %d\n", res.Inserted)
	fmt.Printf("   Seen:    %d\n", res.Touched)
	fmt.Printf("   Removed: %d\n", res.Deleted)
	if res.Skipped > 0 {
		fmt.Printf("   Skipped: %d\n", res.Skipped)
	}
	fmt.Printf("   Catalog: %d films, %d shows, %d channels\n",
		res.Totals.Films, res.Totals.Shows, res.Totals.Channels)
}

func validateDatabase(cfg config.Config) error {
	if cfg.Database.Type == "libsql" && cfg.Database.URL == "" {
		return fmt.Errorf("no database URL configured (use --url or database.url)")
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.Path == "" {
		return fmt.Errorf("no database path configured (use --db or database.path)")
	}
	return nil
}
