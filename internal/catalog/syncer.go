package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/wpapi"
)

// pluginSource is the slice of the registry client the syncer needs.
type pluginSource interface {
	QueryPlugins(ctx context.Context, page int, browse model.BrowseType) []model.PluginRecord
	PluginInformation(ctx context.Context, slug string) (*model.PluginRecord, error)
}

// Syncer drives bulk registry-to-catalog synchronization.
type Syncer struct {
	api    pluginSource
	store  *Store
	logger logging.Logger

	progress atomic.Pointer[model.SyncProgress]
}

// NewSyncer constructs a Syncer over an open Store.
func NewSyncer(api pluginSource, store *Store, logger logging.Logger) *Syncer {
	s := &Syncer{
		api:    api,
		store:  store,
		logger: logger.With(logging.Field{Key: "component", Value: "syncer"}),
	}
	s.progress.Store(&model.SyncProgress{})
	return s
}

// Progress returns the latest progress snapshot.
func (s *Syncer) Progress() model.SyncProgress {
	return *s.progress.Load()
}

// Sync fetches cfg.Pages pages under one browse ordering and upserts
// every record. In incremental mode the whole sync stops at the first
// record not newer than the last successful run; registry pages are
// time-ordered within a browse mode, so anything after it is already
// cached. The stale record itself is not written.
func (s *Syncer) Sync(ctx context.Context, cfg model.SyncConfig) (*model.SyncRun, error) {
	cfg = clampSyncConfig(cfg)

	startedAt := time.Now()

	var threshold time.Time
	if cfg.Incremental {
		last, ok, err := s.store.LastSuccessfulSync(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			threshold = last
		}
	}

	runID, err := s.store.BeginSyncRun(ctx, string(cfg.BrowseType))
	if err != nil {
		return nil, err
	}

	var (
		pagesSynced   atomic.Int64
		pluginsSynced atomic.Int64
		pagesFailed   atomic.Int64
		stop          atomic.Bool

		upsertFailures atomic.Int64
		upsertErrMu    sync.Mutex
		firstUpsertErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for page := 1; page <= cfg.Pages; page++ {
		if stop.Load() || gctx.Err() != nil {
			break
		}
		page := page
		g.Go(func() error {
			if stop.Load() || gctx.Err() != nil {
				return nil
			}
			records := s.api.QueryPlugins(gctx, page, cfg.BrowseType)
			if records == nil {
				pagesFailed.Add(1)
				return nil
			}
			for i := range records {
				if stop.Load() || gctx.Err() != nil {
					return nil
				}
				rec := &records[i]
				if !threshold.IsZero() && !recordNewerThan(rec, threshold) {
					s.logger.Info("incremental threshold reached, stopping sync",
						logging.Field{Key: "slug", Value: rec.Slug},
						logging.Field{Key: "last_updated", Value: rec.LastUpdated})
					stop.Store(true)
					return nil
				}
				if _, err := s.store.Upsert(gctx, rec); err != nil {
					s.logger.Warn("upsert failed",
						logging.Field{Key: "slug", Value: rec.Slug},
						logging.Field{Key: "error", Value: err.Error()})
					upsertFailures.Add(1)
					upsertErrMu.Lock()
					if firstUpsertErr == nil {
						firstUpsertErr = err
					}
					upsertErrMu.Unlock()
					continue
				}
				pluginsSynced.Add(1)
			}
			pagesSynced.Add(1)
			s.publishProgress(cfg.Pages, int(pagesSynced.Load()), int(pluginsSynced.Load()), int(pagesFailed.Load()), true)
			return nil
		})

		if cfg.RateLimitDelay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(cfg.RateLimitDelay):
			}
		}
	}
	_ = g.Wait()

	// A run whose writes stopped landing is failed, never completed: a
	// failed run does not advance the incremental threshold, so skipped
	// records are retried by the next sync.
	status := model.SyncCompleted
	errMsg := ""
	switch {
	case ctx.Err() != nil:
		status = model.SyncFailed
		errMsg = ctx.Err().Error()
	case upsertFailures.Load() > 0:
		status = model.SyncFailed
		errMsg = firstUpsertErr.Error()
	}
	if ferr := s.store.FinishSyncRun(context.WithoutCancel(ctx), runID,
		int(pagesSynced.Load()), int(pluginsSynced.Load()), status, errMsg); ferr != nil {
		s.logger.Error("failed to finalize sync run",
			logging.Field{Key: "run_id", Value: runID},
			logging.Field{Key: "error", Value: ferr.Error()})
	}
	s.publishProgress(cfg.Pages, int(pagesSynced.Load()), int(pluginsSynced.Load()), int(pagesFailed.Load()), false)

	completedAt := time.Now()
	return &model.SyncRun{
		ID:            runID,
		SyncType:      string(cfg.BrowseType),
		PagesSynced:   int(pagesSynced.Load()),
		PluginsSynced: int(pluginsSynced.Load()),
		StartedAt:     startedAt,
		CompletedAt:   &completedAt,
		Status:        status,
		ErrorMessage:  errMsg,
	}, ctx.Err()
}

// FullSync approximates full registry coverage by running the same sync
// under all three browse orderings back-to-back; no single ordering
// exposes the whole registry within practical page limits.
func (s *Syncer) FullSync(ctx context.Context, cfg model.SyncConfig) ([]*model.SyncRun, error) {
	var runs []*model.SyncRun
	for _, browse := range []model.BrowseType{model.BrowseUpdated, model.BrowsePopular, model.BrowseNew} {
		c := cfg
		c.BrowseType = browse
		c.Incremental = false
		run, err := s.Sync(ctx, c)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// SyncSlugs refreshes specific plugins by slug via single-record lookups.
func (s *Syncer) SyncSlugs(ctx context.Context, slugs []string) (int, error) {
	synced := 0
	for _, slug := range slugs {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		rec, err := s.api.PluginInformation(ctx, slug)
		if err != nil {
			s.logger.Warn("slug sync failed",
				logging.Field{Key: "slug", Value: slug},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		if _, err := s.store.Upsert(ctx, rec); err != nil {
			s.logger.Warn("upsert failed",
				logging.Field{Key: "slug", Value: slug},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		synced++
	}
	return synced, nil
}

func (s *Syncer) publishProgress(total, done, plugins, failed int, running bool) {
	s.progress.Store(&model.SyncProgress{
		PagesCompleted: done,
		PagesTotal:     total,
		PluginsSynced:  plugins,
		PagesFailed:    failed,
		IsRunning:      running,
	})
}

// recordNewerThan compares the registry's last-updated date against the
// incremental threshold. Unparsable dates count as new so they are never
// silently skipped.
func recordNewerThan(rec *model.PluginRecord, threshold time.Time) bool {
	t, ok := model.ParseLastUpdated(rec.LastUpdated)
	if !ok {
		return true
	}
	return t.After(threshold)
}

func clampSyncConfig(cfg model.SyncConfig) model.SyncConfig {
	def := model.DefaultSyncConfig()
	if cfg.Pages <= 0 {
		cfg.Pages = def.Pages
	}
	if cfg.Pages > config.MaxSyncPages {
		cfg.Pages = config.MaxSyncPages
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BrowseType == "" {
		cfg.BrowseType = def.BrowseType
	}
	return cfg
}

var _ pluginSource = (*wpapi.Client)(nil)
