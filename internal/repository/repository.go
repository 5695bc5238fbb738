// Package repository persists scan sessions and their results.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
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

// sortColumns is the fixed allow-list for result queries.
var sortColumns = map[string]bool{
	"score":             true,
	"installations":     true,
	"days_since_update": true,
	"name":              true,
	"slug":              true,
}

// Repository wraps the scan database.
type Repository struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the scan database at path.
func Open(path string, logger logging.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening scan database: %w", err)
	}
	r, err := NewRepository(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewRepository wraps an existing handle; tests pass in-memory
// connections.
func NewRepository(db *sql.DB, logger logging.Logger) (*Repository, error) {
	if err := applySchema(db); err != nil {
		return nil, fmt.Errorf("applying scan schema: %w", err)
	}
	return &Repository{
		db:     db,
		logger: logger.With(logging.Field{Key: "component", Value: "repository"}),
	}, nil
}

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
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateSession inserts a pending session and returns its id.
func (r *Repository) CreateSession(ctx context.Context, cfg *model.ScanConfig) (int64, error) {
	cfgJSON, _ := json.Marshal(cfg)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO scan_sessions (created_at, status, config) VALUES (?, ?, ?)`,
		time.Now().Unix(), string(model.ScanPending), string(cfgJSON))
	if err != nil {
		return 0, fmt.Errorf("creating scan session: %w", err)
	}
	return res.LastInsertId()
}

// SetSessionStatus transitions a session's lifecycle state.
func (r *Repository) SetSessionStatus(ctx context.Context, id int64, status model.ScanStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scan_sessions SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", id, err)
	}
	return nil
}

// FinishSession records final counts alongside the terminal status.
func (r *Repository) FinishSession(ctx context.Context, id int64, status model.ScanStatus, totalFound, highRisk int, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_sessions
		SET status = ?, total_found = ?, high_risk_count = ?, error_message = ?
		WHERE id = ?`,
		string(status), totalFound, highRisk, errMsg, id)
	if err != nil {
		return fmt.Errorf("finishing session %d: %w", id, err)
	}
	return nil
}

// SaveResult persists one result under a session. The duplicate flag is
// set if and only if the same slug already exists under a different
// session; repeats within one session never mark it.
func (r *Repository) SaveResult(ctx context.Context, sessionID int64, res *model.PluginResult) (int64, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_results WHERE slug = ? AND session_id != ?`,
		res.Slug, sessionID).Scan(&count)
	if err != nil {
		return 0, err
	}
	res.IsDuplicate = count > 0

	riskTags, _ := json.Marshal(res.RiskTags)
	securityFlags, _ := json.Marshal(res.SecurityFlags)
	featureFlags, _ := json.Marshal(res.FeatureFlags)
	var analysisJSON []byte
	if res.CodeAnalysis != nil {
		analysisJSON, _ = json.Marshal(res.CodeAnalysis)
	}

	row, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_results (
			session_id, slug, name, version, score, installations,
			days_since_update, tested_wp_version, author_trusted,
			is_risky_category, is_user_facing, is_theme, is_duplicate,
			risk_tags, security_flags, feature_flags, code_analysis,
			download_link, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sessionID, res.Slug, res.Name, res.Version, res.Score,
		res.Installations, res.DaysSinceUpdate, res.TestedWPVersion,
		boolInt(res.AuthorTrusted), boolInt(res.IsRiskyCategory),
		boolInt(res.IsUserFacing), boolInt(res.IsTheme),
		boolInt(res.IsDuplicate), string(riskTags), string(securityFlags),
		string(featureFlags), nullableString(analysisJSON),
		res.DownloadLink, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("saving result %s: %w", res.Slug, err)
	}
	return row.LastInsertId()
}

// Results returns a session's results. sortBy must be allow-listed;
// empty means score descending.
func (r *Repository) Results(ctx context.Context, sessionID int64, sortBy string, desc bool, limit int) ([]*model.PluginResult, error) {
	if sortBy == "" {
		sortBy = "score"
		desc = true
	}
	if !sortColumns[sortBy] {
		return nil, fmt.Errorf("%w: %q", ErrBadSortColumn, sortBy)
	}
	order := " ORDER BY " + sortBy
	if desc {
		order += " DESC"
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT slug, name, version, score, installations, days_since_update,
		       tested_wp_version, author_trusted, is_risky_category,
		       is_user_facing, is_theme, is_duplicate, risk_tags,
		       security_flags, feature_flags, code_analysis, download_link
		FROM scan_results WHERE session_id = ?`+order+` LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.PluginResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanResult(rows *sql.Rows) (*model.PluginResult, error) {
	var res model.PluginResult
	var name, version, tested, downloadLink sql.NullString
	var trusted, risky, userFacing, isTheme, duplicate int
	var riskTags, securityFlags, featureFlags, analysis sql.NullString
	err := rows.Scan(&res.Slug, &name, &version, &res.Score,
		&res.Installations, &res.DaysSinceUpdate, &tested, &trusted,
		&risky, &userFacing, &isTheme, &duplicate, &riskTags,
		&securityFlags, &featureFlags, &analysis, &downloadLink)
	if err != nil {
		return nil, err
	}
	res.Name = name.String
	res.Version = version.String
	res.TestedWPVersion = tested.String
	res.DownloadLink = downloadLink.String
	res.AuthorTrusted = trusted != 0
	res.IsRiskyCategory = risky != 0
	res.IsUserFacing = userFacing != 0
	res.IsTheme = isTheme != 0
	res.IsDuplicate = duplicate != 0
	if riskTags.Valid {
		json.Unmarshal([]byte(riskTags.String), &res.RiskTags)
	}
	if securityFlags.Valid {
		json.Unmarshal([]byte(securityFlags.String), &res.SecurityFlags)
	}
	if featureFlags.Valid {
		json.Unmarshal([]byte(featureFlags.String), &res.FeatureFlags)
	}
	if analysis.Valid && analysis.String != "" {
		var a model.CodeAnalysisResult
		if json.Unmarshal([]byte(analysis.String), &a) == nil {
			res.CodeAnalysis = &a
		}
	}
	res.Links = model.NewIntelLinks(res.Slug)
	return &res, nil
}

// Sessions lists sessions, newest first.
func (r *Repository) Sessions(ctx context.Context, limit int) ([]*model.ScanSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, status, config, total_found, high_risk_count,
		       error_message
		FROM scan_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.ScanSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session fetches one session by id.
func (r *Repository) Session(ctx context.Context, id int64) (*model.ScanSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, status, config, total_found, high_risk_count,
		       error_message
		FROM scan_sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("session %d not found", id)
	}
	return scanSession(rows)
}

func scanSession(rows *sql.Rows) (*model.ScanSession, error) {
	var s model.ScanSession
	var created int64
	var status string
	var cfgJSON, errMsg sql.NullString
	if err := rows.Scan(&s.ID, &created, &status, &cfgJSON, &s.TotalFound,
		&s.HighRiskCount, &errMsg); err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(created, 0)
	s.Status = model.ScanStatus(status)
	s.ErrorMessage = errMsg.String
	if cfgJSON.Valid && cfgJSON.String != "" {
		var cfg model.ScanConfig
		if json.Unmarshal([]byte(cfgJSON.String), &cfg) == nil {
			s.Config = &cfg
		}
	}
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
