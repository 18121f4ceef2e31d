// Package cli provides the command-line interface for mdspull.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/config"
	"github.com/ppiankov/mdspull/internal/logging"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:          "mdspull",
	Short:        "Pull MDS provider data into signed NDJSON",
	Long:         "mdspull pages through MDS provider trips and status_changes endpoints, normalizes each record, appends its signature to a daily audit log, and writes the accepted records as NDJSON.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("mdspull %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".mdspull", "config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context
// passed to commands, which stops a pull between pages.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// setupLogging points the default logger at stderr so NDJSON on stdout
// stays clean.
func setupLogging(cfg *config.Config) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(os.Stderr, logging.ParseLevel(level), cfg.Logging.Format)
}
