package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	store, err := NewStore(db, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	// Shared-cache memory databases persist between opens in the same
	// process; start each test from a clean slate.
	for _, stmt := range []string{`DELETE FROM plugins`, `DELETE FROM sync_runs`} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func sampleRecord(slug, version string, installs int) *model.PluginRecord {
	return &model.PluginRecord{
		Slug:           slug,
		Name:           slug,
		Version:        version,
		ActiveInstalls: installs,
		LastUpdated:    "2026-08-01 7:30am GMT",
		Rating:         80,
		Tags:           model.TagMap{"forms": "Forms"},
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("wp-widget", "1.0", 1000)
	isNew, err := store.Upsert(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Error("first write should report a new row")
	}

	entries, err := store.Query(ctx, QueryFilters{Search: "wp-widget"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	firstSeen := entries[0].FirstSeenAt

	// Same (slug, version) with drifted mutable fields converges to one
	// row; first_seen_at is preserved.
	rec.ActiveInstalls = 2500
	isNew, err = store.Upsert(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Error("second write of the same version should not be new")
	}

	entries, err = store.Query(ctx, QueryFilters{Search: "wp-widget"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries after upsert = %d, want 1", len(entries))
	}
	if entries[0].ActiveInstalls != 2500 {
		t.Errorf("installs = %d, want updated 2500", entries[0].ActiveInstalls)
	}
	if !entries[0].FirstSeenAt.Equal(firstSeen) {
		t.Error("first_seen_at must survive upserts")
	}

	// A different version is a distinct row.
	if _, err := store.Upsert(ctx, sampleRecord("wp-widget", "2.0", 2500)); err != nil {
		t.Fatal(err)
	}
	entries, _ = store.Query(ctx, QueryFilters{Search: "wp-widget"})
	if len(entries) != 2 {
		t.Errorf("entries with two versions = %d, want 2", len(entries))
	}
}

func TestQuerySortAllowList(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, QueryFilters{SortBy: "slug; DROP TABLE plugins"})
	if !errors.Is(err, ErrBadSortColumn) {
		t.Fatalf("err = %v, want ErrBadSortColumn", err)
	}
	if _, err := store.Query(ctx, QueryFilters{SortBy: "rating"}); err != nil {
		t.Errorf("allow-listed column rejected: %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, r := range []*model.PluginRecord{
		sampleRecord("tiny", "1.0", 50),
		sampleRecord("medium", "1.0", 5000),
		sampleRecord("huge", "1.0", 2000000),
	} {
		if _, err := store.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Query(ctx, QueryFilters{MinInstalls: 1000, MaxInstalls: 100000})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Slug != "medium" {
		t.Errorf("filtered entries = %v, want only medium", entries)
	}

	entries, err = store.Query(ctx, QueryFilters{SortBy: "active_installs", SortDesc: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Slug != "huge" {
		t.Errorf("descending sort should put huge first, got %v", entries)
	}
}

func TestQueryTagAuthorAndAge(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	fresh := sampleRecord("fresh-forms", "1.0", 5000)
	fresh.Author = "trusted-dev"

	dusty := sampleRecord("dusty-gallery", "1.0", 5000)
	dusty.Author = "ghost"
	dusty.LastUpdated = "2019-03-01 7:30am GMT"
	dusty.Tags = model.TagMap{"gallery": "Gallery"}

	for _, r := range []*model.PluginRecord{fresh, dusty} {
		if _, err := store.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name    string
		filters QueryFilters
		want    string
	}{
		{"tag", QueryFilters{Tag: "gallery"}, "dusty-gallery"},
		{"author", QueryFilters{Author: "trusted"}, "fresh-forms"},
		{"abandoned", QueryFilters{Abandoned: true}, "dusty-gallery"},
		{"max age", QueryFilters{MaxAgeDays: 365}, "fresh-forms"},
		{"min age", QueryFilters{MinAgeDays: 365}, "dusty-gallery"},
	}
	for _, tc := range cases {
		entries, err := store.Query(ctx, tc.filters)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(entries) != 1 || entries[0].Slug != tc.want {
			t.Errorf("%s: entries = %v, want only %s", tc.name, entries, tc.want)
		}
	}
}

func TestStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, r := range []*model.PluginRecord{
		sampleRecord("a", "1.0", 10),
		sampleRecord("a", "2.0", 10),
		sampleRecord("b", "1.0", 10),
	} {
		if _, err := store.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalVersions != 3 {
		t.Errorf("total versions = %d, want 3", st.TotalVersions)
	}
	if st.DistinctSlugs != 2 {
		t.Errorf("distinct slugs = %d, want 2", st.DistinctSlugs)
	}
	if st.LastFetchedAt.IsZero() {
		t.Error("last fetched time missing")
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastSuccessfulSync(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want no successful sync", ok, err)
	}

	id, err := store.BeginSyncRun(ctx, "updated")
	if err != nil {
		t.Fatal(err)
	}

	// A running (dangling) run must not feed the incremental threshold.
	if _, ok, _ := store.LastSuccessfulSync(ctx); ok {
		t.Error("running sync must not count as successful")
	}

	if err := store.FinishSyncRun(ctx, id, 10, 950, model.SyncCompleted, ""); err != nil {
		t.Fatal(err)
	}
	when, ok, err := store.LastSuccessfulSync(ctx)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want completed sync visible", ok, err)
	}
	if when.IsZero() {
		t.Error("completion time missing")
	}

	// Failed runs are recorded but never raise the threshold.
	id2, _ := store.BeginSyncRun(ctx, "updated")
	if err := store.FinishSyncRun(ctx, id2, 1, 0, model.SyncFailed, "registry unreachable"); err != nil {
		t.Fatal(err)
	}

	runs, err := store.SyncHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("history = %d runs, want 2", len(runs))
	}
	if runs[0].Status != model.SyncFailed || runs[0].ErrorMessage == "" {
		t.Errorf("newest run = %+v, want failed with message", runs[0])
	}
	if runs[1].Status != model.SyncCompleted || runs[1].PluginsSynced != 950 {
		t.Errorf("older run = %+v, want completed with 950 plugins", runs[1])
	}
}
