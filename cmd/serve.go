package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/analyzer"
	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/downloader"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/repository"
	"github.com/xeloxa/WP-Hunter/internal/scanner"
	"github.com/xeloxa/WP-Hunter/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	addr := serveAddr
	if addr == "" {
		addr = settings.ServerAddr
	}

	api, facility := newAPIClient()
	defer facility.Close()

	repo, err := repository.Open(settings.ScanDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening scan database: %w", err)
	}
	defer repo.Close()

	store, err := catalog.Open(settings.CatalogDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening catalog database: %w", err)
	}
	defer store.Close()

	syncer := catalog.NewSyncer(api, store, logger)

	// Scanners are single-use; each scan job gets a fresh one over the
	// shared pool.
	factory := func() *scanner.Scanner {
		ret := downloader.New(facility, settings.PluginsDir, logger)
		ret.SetTimeout(settings.DownloadTimeout)
		return scanner.New(api, ret, analyzer.New(logger), logger)
	}

	srv := server.New(server.Config{ListenAddr: addr}, repo, store, syncer, factory, logger)
	httpSrv := srv.HTTPServer()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", logging.Field{Key: "addr", Value: addr})
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
