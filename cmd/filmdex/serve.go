package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"filmdex/internal/ui"
	"filmdex/internal/update"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background update service",
	Long: `Run the long-lived update service.

The service watches the configured drop directory for film list files
and imports each one as it arrives. In automatic or continuous mode it
additionally re-imports the newest list on the configured interval.
Failures back off linearly. Stop with SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := newLogger(cfg, "[serve] ")
		backend := openBackend(cfg, logger)
		defer backend.Close()

		svc, err := update.NewService(update.New(backend, cfg, logger))
		if err != nil {
			errorf("Error: %v", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Update service running (%s backend, %s mode)\n",
			ui.RenderAccent("⟳"), backend.Name(), cfg.Update.Mode)

		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errorf("Error: %v", err)
			os.Exit(1)
		}
		fmt.Printf("%s Service stopped\n", ui.RenderPass("✓"))
	},
}
