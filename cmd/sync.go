package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/console"
	"github.com/xeloxa/WP-Hunter/internal/model"
)

var syncFlags struct {
	pages       int
	workers     int
	browse      string
	full        bool
	incremental bool
	delay       time.Duration
	slugs       []string
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror registry metadata into the local catalog",
	Long: `sync crawls registry pages and upserts each record into the catalog
database, keyed on (slug, version). An incremental sync stops at the
first record older than the last successful run; a full sync covers
the updated, popular and new orderings back to back.`,
	RunE: runSync,
}

func init() {
	f := syncCmd.Flags()
	def := model.DefaultSyncConfig()

	f.IntVarP(&syncFlags.pages, "pages", "p", def.Pages, "registry pages per ordering")
	f.IntVarP(&syncFlags.workers, "workers", "w", def.Workers, "concurrent page fetchers")
	f.StringVar(&syncFlags.browse, "browse", string(def.BrowseType), "registry ordering: new, updated or popular")
	f.BoolVar(&syncFlags.full, "full", false, "sync all three orderings")
	f.BoolVar(&syncFlags.incremental, "incremental", false, "stop at the last successful sync's watermark")
	f.DurationVar(&syncFlags.delay, "delay", def.RateLimitDelay, "pause between page submissions")
	f.StringSliceVar(&syncFlags.slugs, "slug", nil, "sync only these slugs via the per-plugin endpoint")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	api, facility := newAPIClient()
	defer facility.Close()

	store, err := catalog.Open(settings.CatalogDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening catalog database: %w", err)
	}
	defer store.Close()

	syncer := catalog.NewSyncer(api, store, logger)
	printer := console.NewPrinter(os.Stdout)

	if len(syncFlags.slugs) > 0 {
		n, err := syncer.SyncSlugs(ctx, syncFlags.slugs)
		fmt.Printf("synced %d of %d slugs\n", n, len(syncFlags.slugs))
		return err
	}

	browse := model.BrowseType(syncFlags.browse)
	switch browse {
	case model.BrowseNew, model.BrowseUpdated, model.BrowsePopular:
	default:
		return fmt.Errorf("invalid browse %q: want new, updated or popular", syncFlags.browse)
	}

	cfg := model.SyncConfig{
		Pages:          syncFlags.pages,
		BrowseType:     browse,
		Workers:        syncFlags.workers,
		Incremental:    syncFlags.incremental,
		RateLimitDelay: syncFlags.delay,
	}

	if syncFlags.full {
		runs, err := syncer.FullSync(ctx, cfg)
		for _, run := range runs {
			printer.SyncRun(run)
		}
		return syncErr(err)
	}

	run, err := syncer.Sync(ctx, cfg)
	if run != nil {
		printer.SyncRun(run)
	}
	return syncErr(err)
}

// syncErr suppresses plain cancellation; the run record already says so.
func syncErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
