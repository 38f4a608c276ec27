// Command filmdex maintains and queries a synchronized film catalog.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"filmdex/internal/config"
	"filmdex/internal/store"
	"filmdex/internal/ui"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "filmdex",
	Short: "Film catalog synchronization engine",
	Long: `filmdex keeps a local or remote film catalog in sync with a
broadcaster film list and answers queries against it.

The catalog lives either in an embedded SQLite database or on a
remote libsql server; both are driven through the same commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
}

// errorf prints one styled error line to stderr.
func errorf(format string, a ...any) {
	fmt.Fprintln(os.Stderr, ui.RenderErr(fmt.Sprintf(format, a...)))
}

// loadConfig reads the configuration or exits.
func loadConfig() config.Config {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}
	return cfg
}

// openBackend opens the configured storage backend or exits.
func openBackend(cfg config.Config, logger *log.Logger) store.Backend {
	var b store.Backend
	var err error
	switch cfg.Database.Type {
	case "libsql":
		b, err = store.OpenLibSQL(cfg.Database.URL, logger)
	default:
		b, err = store.OpenSQLite(cfg.Database.Path, logger)
	}
	if err != nil {
		errorf("Error opening database: %v", err)
		os.Exit(1)
	}
	return b
}

// newLogger builds the process logger. With a configured log file the
// output goes through rotation; --verbose additionally mirrors it to
// stderr.
func newLogger(cfg config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		if flagVerbose {
			w = io.MultiWriter(rotated, os.Stderr)
		} else {
			w = rotated
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}
}
