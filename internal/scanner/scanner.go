// Package scanner drives the paginated registry crawl: fetch, filter,
// score, optionally deep-inspect, and deliver results incrementally.
package scanner

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xeloxa/WP-Hunter/internal/analyzer"
	"github.com/xeloxa/WP-Hunter/internal/downloader"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/scorer"
	"github.com/xeloxa/WP-Hunter/internal/wpapi"
)

// registry is the slice of the wpapi client the scanner needs; tests
// substitute a fake.
type registry interface {
	QueryPlugins(ctx context.Context, page int, browse model.BrowseType) []model.PluginRecord
	QueryThemes(ctx context.Context, page int, browse model.BrowseType) []model.ThemeRecord
}

// retriever is the slice of the downloader used for deep inspection.
type retriever interface {
	FetchAndExtract(ctx context.Context, url, slug string) (string, error)
}

// inspector is the static-analysis entry point.
type inspector interface {
	AnalyzeTree(ctx context.Context, root string) (*model.CodeAnalysisResult, error)
}

// ResultSink receives each accepted result exactly once, in completion
// order. Calls are serialized; the sink does not need to be thread-safe.
type ResultSink func(*model.PluginResult)

// Status is the orchestrator's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Scanner is one scan invocation's orchestrator. Construct a fresh one
// per scan; it is not reusable.
type Scanner struct {
	api       registry
	retriever retriever
	inspector inspector
	logger    logging.Logger

	status atomic.Value // Status

	// found and stop are the only cross-worker shared mutable state.
	found       atomic.Int64
	stop        atomic.Bool
	failedPages atomic.Int64

	mu      sync.Mutex
	results []*model.PluginResult
}

// New constructs a Scanner. retriever and inspector may be nil when deep
// inspection is not requested.
func New(api registry, ret retriever, insp inspector, logger logging.Logger) *Scanner {
	s := &Scanner{
		api:       api,
		retriever: ret,
		inspector: insp,
		logger:    logger.With(logging.Field{Key: "component", Value: "scanner"}),
	}
	s.status.Store(StatusIdle)
	return s
}

// Status returns the current lifecycle state.
func (s *Scanner) Status() Status {
	return s.status.Load().(Status)
}

// Stop requests cooperative cancellation. Workers finish their current
// network call; no new pages are submitted.
func (s *Scanner) Stop() {
	s.stop.Store(true)
}

// Results returns a snapshot of accepted results so far.
func (s *Scanner) Results() []*model.PluginResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.PluginResult, len(s.results))
	copy(out, s.results)
	return out
}

// Scan crawls cfg.Pages registry pages through the worker pool and
// returns all accepted results with a summary. A failed page is counted
// and dropped, never fatal. onResult may be nil.
func (s *Scanner) Scan(ctx context.Context, cfg model.ScanConfig, onResult ResultSink) ([]*model.PluginResult, model.ScanSummary, error) {
	s.status.Store(StatusRunning)

	// The derived context is for workers only; errgroup cancels it when
	// Wait returns, so the final status must come from the parent.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers())

	for page := 1; page <= cfg.Pages; page++ {
		if s.stop.Load() || gctx.Err() != nil {
			break
		}
		page := page
		g.Go(func() error {
			s.scanPage(gctx, page, cfg, onResult)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case ctx.Err() != nil:
		s.status.Store(StatusCancelled)
	case s.stop.Load() && !limitReached(cfg, int(s.found.Load())):
		s.status.Store(StatusCancelled)
	default:
		s.status.Store(StatusCompleted)
	}

	results := s.Results()
	summary := model.Summarize(results, int(s.failedPages.Load()))
	return results, summary, ctx.Err()
}

func limitReached(cfg model.ScanConfig, found int) bool {
	return cfg.Limit > 0 && found >= cfg.Limit
}

func (s *Scanner) scanPage(ctx context.Context, page int, cfg model.ScanConfig, onResult ResultSink) {
	if s.stop.Load() || ctx.Err() != nil {
		return
	}

	if cfg.Themes {
		themes := s.api.QueryThemes(ctx, page, cfg.Sort)
		if themes == nil {
			s.failedPages.Add(1)
			return
		}
		for i := range themes {
			if s.stop.Load() || ctx.Err() != nil {
				return
			}
			rec := themeAsRecord(&themes[i])
			s.processRecord(ctx, rec, cfg, true, onResult)
		}
		return
	}

	records := s.api.QueryPlugins(ctx, page, cfg.Sort)
	if records == nil {
		s.failedPages.Add(1)
		return
	}
	for i := range records {
		if s.stop.Load() || ctx.Err() != nil {
			return
		}
		s.processRecord(ctx, &records[i], cfg, false, onResult)
	}
}

// themeAsRecord maps the theme directory's thinner shape onto the plugin
// record so the same pipeline applies.
func themeAsRecord(t *model.ThemeRecord) *model.PluginRecord {
	return &model.PluginRecord{
		Slug:             t.Slug,
		Name:             t.Name,
		Version:          t.Version,
		Author:           t.AuthorName(),
		Downloaded:       t.Downloaded,
		LastUpdated:      t.LastUpdated,
		Rating:           t.Rating,
		ShortDescription: t.Description,
		Tags:             t.Tags,
		DownloadLink:     t.DownloadLink,
	}
}

// processRecord runs Filter -> Score -> optional deep inspection ->
// result construction on the calling worker.
func (s *Scanner) processRecord(ctx context.Context, rec *model.PluginRecord, cfg model.ScanConfig, isTheme bool, onResult ResultSink) {
	days := model.DaysSince(rec.LastUpdated)
	if !passesFilters(rec, cfg, days, isTheme) {
		return
	}

	matched := matchedRiskTags(rec)
	securityFlags, featureFlags := analyzeChangelog(rec.Sections["changelog"])

	var analysis *model.CodeAnalysisResult
	if cfg.DeepAnalysis && s.retriever != nil && s.inspector != nil && rec.DownloadLink != "" {
		analysis = s.deepInspect(ctx, rec)
	}

	score := scorer.Score(scorer.Input{
		DaysSinceUpdate:       days,
		MatchedTags:           matched,
		SupportResolutionRate: scorer.ResolutionRate(rec.SupportThreadsResolved, rec.SupportThreads),
		TestedVersion:         rec.Tested,
		Rating:                rec.Rating,
		Analysis:              analysis,
	})
	if score < cfg.MinScore {
		return
	}

	result := &model.PluginResult{
		Name:            rec.Name,
		Slug:            rec.Slug,
		Version:         rec.Version,
		Score:           score,
		Installations:   rec.ActiveInstalls,
		DaysSinceUpdate: days,
		TestedWPVersion: rec.Tested,
		AuthorTrusted:   authorTrusted(rec),
		IsRiskyCategory: len(matched) > 0,
		IsUserFacing:    isUserFacing(rec),
		IsTheme:         isTheme,
		RiskTags:        matched,
		SecurityFlags:   securityFlags,
		FeatureFlags:    featureFlags,
		CodeAnalysis:    analysis,
		DownloadLink:    rec.DownloadLink,
		Links:           model.NewIntelLinks(rec.Slug),
	}
	s.accept(cfg, result, onResult)
}

// accept appends the result and notifies the sink under one lock, so
// delivery is serialized and its order matches append order. The limit
// is soft: workers racing past it overshoot by at most pool size - 1.
func (s *Scanner) accept(cfg model.ScanConfig, result *model.PluginResult, onResult ResultSink) {
	n := s.found.Add(1)
	if cfg.Limit > 0 {
		if n > int64(cfg.Limit) {
			s.found.Add(-1)
			return
		}
		if n >= int64(cfg.Limit) {
			s.stop.Store(true)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	if onResult != nil {
		onResult(result)
	}
}

// deepInspect retrieves and statically analyzes one package. Failures are
// logged and degrade to a nil analysis; they never drop the record.
func (s *Scanner) deepInspect(ctx context.Context, rec *model.PluginRecord) *model.CodeAnalysisResult {
	dir, err := s.retriever.FetchAndExtract(ctx, rec.DownloadLink, rec.Slug)
	if err != nil {
		s.logger.Warn("deep inspection fetch failed",
			logging.Field{Key: "slug", Value: rec.Slug},
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	analysis, err := s.inspector.AnalyzeTree(ctx, dir)
	if err != nil {
		s.logger.Warn("static analysis failed",
			logging.Field{Key: "slug", Value: rec.Slug},
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return analysis
}

// authorTrusted is a coarse reputation signal: wide deployment or a large
// verified rating base.
func authorTrusted(rec *model.PluginRecord) bool {
	return rec.ActiveInstalls >= 100000 || rec.NumRatings >= 500
}

// DownloadTop fetches the n highest-scoring results' packages. Results
// are assumed already sorted by score descending when order matters.
func (s *Scanner) DownloadTop(ctx context.Context, results []*model.PluginResult, n int) int {
	if s.retriever == nil || n <= 0 {
		return 0
	}
	downloaded := 0
	for _, r := range results {
		if downloaded >= n {
			break
		}
		if r.DownloadLink == "" {
			continue
		}
		if _, err := s.retriever.FetchAndExtract(ctx, r.DownloadLink, r.Slug); err != nil {
			s.logger.Warn("download failed",
				logging.Field{Key: "slug", Value: r.Slug},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		downloaded++
	}
	return downloaded
}

var (
	_ registry  = (*wpapi.Client)(nil)
	_ retriever = (*downloader.Downloader)(nil)
	_ inspector = (*analyzer.Analyzer)(nil)
)
