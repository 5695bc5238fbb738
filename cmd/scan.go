package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/xeloxa/WP-Hunter/internal/analyzer"
	"github.com/xeloxa/WP-Hunter/internal/console"
	"github.com/xeloxa/WP-Hunter/internal/downloader"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/repository"
	"github.com/xeloxa/WP-Hunter/internal/scanner"
)

var scanFlags struct {
	pages       int
	limit       int
	minInstalls int
	maxInstalls int
	minDays     int
	maxDays     int
	minScore    int
	sort        string
	smart       bool
	abandoned   bool
	userFacing  bool
	themes      bool
	deep        bool
	aggressive  bool
	noSave      bool
	download    int
	top         int
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Crawl the registry, filter and score plugins or themes",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	def := model.DefaultScanConfig()

	f.IntVarP(&scanFlags.pages, "pages", "p", def.Pages, "registry pages to crawl")
	f.IntVarP(&scanFlags.limit, "limit", "l", 0, "stop after this many accepted results (0 = unlimited)")
	f.IntVar(&scanFlags.minInstalls, "min-installs", def.MinInstalls, "minimum active installations")
	f.IntVar(&scanFlags.maxInstalls, "max-installs", 0, "maximum active installations (0 = unlimited)")
	f.IntVar(&scanFlags.minDays, "min-days", 0, "minimum days since last update")
	f.IntVar(&scanFlags.maxDays, "max-days", 0, "maximum days since last update (0 = unlimited)")
	f.IntVar(&scanFlags.minScore, "min-score", 0, "drop results scoring below this")
	f.StringVar(&scanFlags.sort, "sort", string(def.Sort), "registry ordering: new, updated or popular")
	f.BoolVar(&scanFlags.smart, "smart", false, "keep only risky-category matches")
	f.BoolVar(&scanFlags.abandoned, "abandoned", false, "keep only packages untouched for over two years")
	f.BoolVar(&scanFlags.userFacing, "user-facing", false, "keep only packages exposed to site visitors")
	f.BoolVar(&scanFlags.themes, "themes", false, "scan the theme directory instead of plugins")
	f.BoolVar(&scanFlags.deep, "deep", false, "download and statically inspect each surviving package")
	f.BoolVar(&scanFlags.aggressive, "aggressive", false, "raise the worker pool from 5 to 50")
	f.BoolVar(&scanFlags.noSave, "no-save", false, "do not persist this scan as a session")
	f.IntVar(&scanFlags.download, "download", 0, "download the N highest-scoring packages afterwards")
	f.IntVar(&scanFlags.top, "top", 25, "rows in the final summary table")
}

func scanConfigFromFlags() (model.ScanConfig, error) {
	browse := model.BrowseType(scanFlags.sort)
	switch browse {
	case model.BrowseNew, model.BrowseUpdated, model.BrowsePopular:
	default:
		return model.ScanConfig{}, fmt.Errorf("invalid sort %q: want new, updated or popular", scanFlags.sort)
	}
	return model.ScanConfig{
		Pages:        scanFlags.pages,
		Limit:        scanFlags.limit,
		MinInstalls:  scanFlags.minInstalls,
		MaxInstalls:  scanFlags.maxInstalls,
		Sort:         browse,
		Smart:        scanFlags.smart,
		Abandoned:    scanFlags.abandoned,
		UserFacing:   scanFlags.userFacing,
		Themes:       scanFlags.themes,
		MinDays:      scanFlags.minDays,
		MaxDays:      scanFlags.maxDays,
		DeepAnalysis: scanFlags.deep,
		Aggressive:   scanFlags.aggressive,
		MinScore:     scanFlags.minScore,
		Download:     scanFlags.download,
	}, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := scanConfigFromFlags()
	if err != nil {
		return err
	}

	api, facility := newAPIClient()
	defer facility.Close()

	var sc *scanner.Scanner
	if cfg.DeepAnalysis || cfg.Download > 0 {
		ret := downloader.New(facility, settings.PluginsDir, logger)
		ret.SetTimeout(settings.DownloadTimeout)
		sc = scanner.New(api, ret, analyzer.New(logger), logger)
	} else {
		sc = scanner.New(api, nil, nil, logger)
	}

	printer := console.NewPrinter(os.Stdout)
	printer.Verbose = verbose

	var repo *repository.Repository
	var sessionID int64
	if !scanFlags.noSave {
		repo, err = repository.Open(settings.ScanDBPath, logger)
		if err != nil {
			return fmt.Errorf("opening scan database: %w", err)
		}
		defer repo.Close()

		sessionID, err = repo.CreateSession(ctx, &cfg)
		if err != nil {
			return fmt.Errorf("creating scan session: %w", err)
		}
		_ = repo.SetSessionStatus(ctx, sessionID, model.ScanRunning, "")
	}

	results, summary, scanErr := sc.Scan(ctx, cfg, func(res *model.PluginResult) {
		if repo != nil {
			if _, err := repo.SaveResult(ctx, sessionID, res); err != nil {
				logger.Warn("persisting result",
					logging.Field{Key: "slug", Value: res.Slug},
					logging.Field{Key: "error", Value: err.Error()})
			}
		}
		printer.Result(res)
	})

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	printer.Table(results, scanFlags.top)
	printer.Summary(summary)

	if repo != nil {
		status := model.ScanCompleted
		if sc.Status() == scanner.StatusCancelled {
			status = model.ScanCancelled
		}
		finishCtx := context.WithoutCancel(ctx)
		if err := repo.FinishSession(finishCtx, sessionID, status,
			summary.TotalFound, summary.HighRisk, ""); err != nil {
			logger.Error("finalizing session",
				logging.Field{Key: "session_id", Value: sessionID},
				logging.Field{Key: "error", Value: err.Error()})
		}
		fmt.Printf("session %d saved as %s\n", sessionID, status)
	}

	if cfg.Download > 0 && len(results) > 0 {
		n := sc.DownloadTop(ctx, results, cfg.Download)
		fmt.Printf("downloaded %d packages to %s\n", n, settings.PluginsDir)
	}

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return scanErr
	}
	return nil
}
