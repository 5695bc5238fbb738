// Package cmd implements the wp-hunter command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/httpclient"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/wpapi"
)

var (
	settings *config.Settings
	logger   *logging.ZapLogger
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "wp-hunter",
	Short: "WordPress plugin and theme reconnaissance scanner",
	Long: `wp-hunter crawls the wordpress.org registry, scores plugins and themes
for research priority, caches registry metadata locally and safely
retrieves packages for static inspection.

For authorized security research only.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		level := settings.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New("wp-hunter", level)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the CLI; errors have already been printed by cobra.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and per-result detail")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext cancels on Ctrl-C or SIGTERM so scans and syncs stop
// cooperatively instead of dying mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newAPIClient builds the shared connection pool and the registry client
// on top of it. The caller owns the facility and must Close it.
func newAPIClient() (*wpapi.Client, *httpclient.Facility) {
	facility := httpclient.New(httpclient.Options{
		PoolSize: settings.HTTPPoolSize,
		Timeout:  settings.RequestTimeout,
	}, logger)
	return wpapi.New(wpapi.DefaultConfig(), facility, logger), facility
}
