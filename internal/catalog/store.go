// Package catalog is the durable local cache of registry metadata plus
// the synchronizer that keeps it current.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrBadSortColumn rejects sort keys outside the allow-list before any
// SQL is built.
var ErrBadSortColumn = errors.New("sort column not allowed")

// sortColumns is the fixed allow-list for catalog queries. User-supplied
// sort keys never reach the SQL text unchecked.
var sortColumns = map[string]bool{
	"slug":            true,
	"name":            true,
	"active_installs": true,
	"last_updated":    true,
	"rating":          true,
	"fetched_at":      true,
}

// Store wraps the catalog database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the catalog database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle; tests pass in-memory
// connections.
func NewStore(db *sql.DB, logger logging.Logger) (*Store, error) {
	if err := applySchema(db); err != nil {
		return nil, fmt.Errorf("applying catalog schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(logging.Field{Key: "component", Value: "catalog"}),
	}, nil
}

// applySchema sets pragmas and creates tables.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes one registry record, keyed on (slug, version). Mutable
// fields follow last-write-wins, first_seen_at is preserved, fetched_at
// refreshes on every write. Returns true when the row is new.
func (s *Store) Upsert(ctx context.Context, rec *model.PluginRecord) (bool, error) {
	if rec.Slug == "" {
		return false, errors.New("record has empty slug")
	}

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM plugins WHERE slug = ? AND version = ?`,
		rec.Slug, rec.Version).Scan(&existing)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return false, err
	}

	tagsJSON, _ := json.Marshal(rec.Tags)
	sectionsJSON, _ := json.Marshal(rec.Sections)
	now := time.Now().Unix()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugins (
			slug, name, version, author, author_profile, active_installs,
			downloaded, last_updated, added, tested, requires, requires_php,
			rating, num_ratings, support_threads, support_threads_resolved,
			short_description, description, tags, sections, download_link,
			homepage, donate_link, first_seen_at, fetched_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(slug, version) DO UPDATE SET
			name = excluded.name,
			author = excluded.author,
			author_profile = excluded.author_profile,
			active_installs = excluded.active_installs,
			downloaded = excluded.downloaded,
			last_updated = excluded.last_updated,
			tested = excluded.tested,
			requires = excluded.requires,
			requires_php = excluded.requires_php,
			rating = excluded.rating,
			num_ratings = excluded.num_ratings,
			support_threads = excluded.support_threads,
			support_threads_resolved = excluded.support_threads_resolved,
			short_description = excluded.short_description,
			description = excluded.description,
			tags = excluded.tags,
			sections = excluded.sections,
			download_link = excluded.download_link,
			homepage = excluded.homepage,
			donate_link = excluded.donate_link,
			fetched_at = excluded.fetched_at`,
		rec.Slug, rec.Name, rec.Version, rec.Author, rec.AuthorProfile,
		rec.ActiveInstalls, rec.Downloaded, rec.LastUpdated, rec.Added,
		rec.Tested, rec.Requires, rec.RequiresPHP, rec.Rating, rec.NumRatings,
		rec.SupportThreads, rec.SupportThreadsResolved, rec.ShortDescription,
		rec.Sections["description"], string(tagsJSON), string(sectionsJSON),
		rec.DownloadLink, rec.Homepage, rec.DonateLink, now, now)
	if err != nil {
		return false, fmt.Errorf("upserting %s@%s: %w", rec.Slug, rec.Version, err)
	}
	return isNew, nil
}

// QueryFilters select catalog rows. Zero values mean "no constraint".
type QueryFilters struct {
	Search      string
	Tag         string
	Author      string
	MinInstalls int
	MaxInstalls int

	// MinAgeDays / MaxAgeDays bound days since the registry's last update.
	MinAgeDays int
	MaxAgeDays int

	// Abandoned keeps only entries untouched for over two years.
	Abandoned bool

	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// Query returns catalog entries matching the filters. SortBy must be in
// the allow-list; anything else is rejected before SQL is built.
func (s *Store) Query(ctx context.Context, f QueryFilters) ([]*model.CatalogEntry, error) {
	var where []string
	var args []any
	if f.Search != "" {
		where = append(where, "(slug LIKE ? OR name LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if f.MinInstalls > 0 {
		where = append(where, "active_installs >= ?")
		args = append(args, f.MinInstalls)
	}
	if f.MaxInstalls > 0 {
		where = append(where, "active_installs <= ?")
		args = append(args, f.MaxInstalls)
	}
	if f.Tag != "" {
		where = append(where, "tags LIKE ?")
		args = append(args, "%"+f.Tag+"%")
	}
	if f.Author != "" {
		where = append(where, "author LIKE ?")
		args = append(args, "%"+f.Author+"%")
	}

	// last_updated stores the registry string ("2025-03-01 9:05am GMT");
	// its date prefix compares lexically against sqlite's date().
	minAge := f.MinAgeDays
	if f.Abandoned && minAge < 730 {
		minAge = 730
	}
	if minAge > 0 {
		where = append(where, "substr(last_updated, 1, 10) <= date('now', ?)")
		args = append(args, fmt.Sprintf("-%d days", minAge))
	}
	if f.MaxAgeDays > 0 {
		where = append(where, "substr(last_updated, 1, 10) >= date('now', ?)")
		args = append(args, fmt.Sprintf("-%d days", f.MaxAgeDays))
	}

	query := `SELECT id, slug, name, version, author, author_profile,
		active_installs, downloaded, last_updated, added, tested, requires,
		requires_php, rating, num_ratings, support_threads,
		support_threads_resolved, short_description, description, tags,
		sections, download_link, homepage, donate_link, first_seen_at,
		fetched_at FROM plugins`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "active_installs"
		f.SortDesc = true
	}
	if !sortColumns[sortBy] {
		return nil, fmt.Errorf("%w: %q", ErrBadSortColumn, sortBy)
	}
	query += " ORDER BY " + sortBy
	if f.SortDesc {
		query += " DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	var firstSeen, fetched int64
	var name, author, authorProfile, lastUpdated, added, tested sql.NullString
	var requires, requiresPHP, shortDesc, desc, tags, sections sql.NullString
	var downloadLink, homepage, donateLink sql.NullString
	err := rows.Scan(&e.ID, &e.Slug, &name, &e.Version, &author, &authorProfile,
		&e.ActiveInstalls, &e.Downloaded, &lastUpdated, &added, &tested,
		&requires, &requiresPHP, &e.Rating, &e.NumRatings, &e.SupportThreads,
		&e.SupportThreadsResolved, &shortDesc, &desc, &tags, &sections,
		&downloadLink, &homepage, &donateLink, &firstSeen, &fetched)
	if err != nil {
		return nil, err
	}
	e.Name = name.String
	e.Author = author.String
	e.AuthorProfile = authorProfile.String
	e.LastUpdated = lastUpdated.String
	e.Added = added.String
	e.Tested = tested.String
	e.Requires = requires.String
	e.RequiresPHP = requiresPHP.String
	e.ShortDescription = shortDesc.String
	e.Description = desc.String
	e.TagsJSON = tags.String
	e.SectionsJSON = sections.String
	e.DownloadLink = downloadLink.String
	e.Homepage = homepage.String
	e.DonateLink = donateLink.String
	e.FirstSeenAt = time.Unix(firstSeen, 0)
	e.FetchedAt = time.Unix(fetched, 0)
	return &e, nil
}

// Stats summarize catalog coverage.
type Stats struct {
	TotalVersions int       `json:"total_versions"`
	DistinctSlugs int       `json:"distinct_slugs"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// Stats reports row counts and the most recent fetch time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var lastFetched sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT slug), MAX(fetched_at) FROM plugins`).
		Scan(&st.TotalVersions, &st.DistinctSlugs, &lastFetched)
	if err != nil {
		return Stats{}, err
	}
	if lastFetched.Valid {
		st.LastFetchedAt = time.Unix(lastFetched.Int64, 0)
	}
	return st, nil
}

// BeginSyncRun inserts a running provenance record and returns its id.
func (s *Store) BeginSyncRun(ctx context.Context, syncType string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (sync_type, started_at, status) VALUES (?, ?, ?)`,
		syncType, time.Now().Unix(), string(model.SyncRunning))
	if err != nil {
		return 0, fmt.Errorf("recording sync start: %w", err)
	}
	return res.LastInsertId()
}

// FinishSyncRun finalizes a run exactly once, on success and failure
// alike.
func (s *Store) FinishSyncRun(ctx context.Context, id int64, pages, plugins int, status model.SyncStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET pages_synced = ?, plugins_synced = ?, completed_at = ?, status = ?, error_message = ?
		WHERE id = ?`,
		pages, plugins, time.Now().Unix(), string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("finalizing sync run %d: %w", id, err)
	}
	return nil
}

// LastSuccessfulSync returns the completion time of the most recent
// completed run, or ok=false when none exists.
func (s *Store) LastSuccessfulSync(ctx context.Context) (time.Time, bool, error) {
	var completed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(completed_at) FROM sync_runs WHERE status = ?`,
		string(model.SyncCompleted)).Scan(&completed)
	if err != nil {
		return time.Time{}, false, err
	}
	if !completed.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(completed.Int64, 0), true, nil
}

// SyncHistory lists recent runs, newest first.
func (s *Store) SyncHistory(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_type, pages_synced, plugins_synced, started_at,
		       completed_at, status, error_message
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var started int64
		var completed sql.NullInt64
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.SyncType, &r.PagesSynced, &r.PluginsSynced,
			&started, &completed, &status, &errMsg); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		if completed.Valid {
			t := time.Unix(completed.Int64, 0)
			r.CompletedAt = &t
		}
		r.Status = model.SyncStatus(status)
		r.ErrorMessage = errMsg.String
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
