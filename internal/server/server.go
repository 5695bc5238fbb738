// Package server is the HTTP + WebSocket API surface for the dashboard.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/repository"
	"github.com/xeloxa/WP-Hunter/internal/scanner"
)

// Config holds the server's listen settings.
type Config struct {
	ListenAddr string
}

// ScannerFactory builds a fresh orchestrator per scan job; scanners are
// single-use.
type ScannerFactory func() *scanner.Scanner

// Server wires the scan, catalog and job layers behind a chi router.
type Server struct {
	cfg        Config
	router     chi.Router
	upgrader   websocket.Upgrader
	logger     logging.Logger
	repo       *repository.Repository
	store      *catalog.Store
	syncer     *catalog.Syncer
	newScanner ScannerFactory
	jobs       *JobManager
}

// New constructs the Server and mounts its routes.
func New(cfg Config, repo *repository.Repository, store *catalog.Store, syncer *catalog.Syncer, factory ScannerFactory, logger logging.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		logger:     logger.With(logging.Field{Key: "component", Value: "server"}),
		repo:       repo,
		store:      store,
		syncer:     syncer,
		newScanner: factory,
		jobs:       NewJobManager(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/scans", s.optionsHandler("GET, POST"))
	r.Options("/scans/{sessionID}/results", s.optionsHandler("GET"))
	r.Options("/sync", s.optionsHandler("POST"))
	r.Options("/sync/history", s.optionsHandler("GET"))
	r.Options("/catalog", s.optionsHandler("GET"))
	r.Options("/catalog/stats", s.optionsHandler("GET"))
	r.Options("/jobs", s.optionsHandler("GET"))
	r.Options("/jobs/{jobID}", s.optionsHandler("GET, DELETE"))

	// Scans
	r.Post("/scans", s.handleStartScan)
	r.Get("/scans", s.handleListSessions)
	r.Get("/scans/{sessionID}", s.handleGetSession)
	r.Get("/scans/{sessionID}/results", s.handleSessionResults)

	// Catalog sync
	r.Post("/sync", s.handleStartSync)
	r.Get("/sync/history", s.handleSyncHistory)
	r.Get("/sync/progress", s.handleSyncProgress)

	// Catalog queries
	r.Get("/catalog", s.handleQueryCatalog)
	r.Get("/catalog/stats", s.handleCatalogStats)

	// Jobs
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Delete("/jobs/{jobID}", s.handleCancelJob)

	// WebSocket: start a scan and stream its events
	r.Get("/ws/scan", s.handleScanWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Scan handlers ---

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	cfg := model.DefaultScanConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cfg.Pages <= 0 {
		cfg.Pages = model.DefaultScanConfig().Pages
	}

	job := s.jobs.StartScan(cfg, s.newScanner(), s.repo)
	s.logger.Info("started scan job",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "pages", Value: cfg.Pages})
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.Sessions(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.repo.Session(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sortBy := r.URL.Query().Get("sort")
	desc := r.URL.Query().Get("order") != "asc"

	results, err := s.repo.Results(r.Context(), id, sortBy, desc, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Sync handlers ---

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	cfg := model.DefaultSyncConfig()
	var body struct {
		Pages       int    `json:"pages"`
		Browse      string `json:"browse"`
		Workers     int    `json:"workers"`
		Incremental bool   `json:"incremental"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Pages > 0 {
		cfg.Pages = body.Pages
	}
	if body.Browse != "" {
		cfg.BrowseType = model.BrowseType(body.Browse)
	}
	if body.Workers > 0 {
		cfg.Workers = body.Workers
	}
	cfg.Incremental = body.Incremental

	job := s.jobs.StartSync(cfg, s.syncer)
	s.logger.Info("started sync job", logging.Field{Key: "job_id", Value: job.ID})
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.SyncHistory(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	p := s.syncer.Progress()
	writeJSON(w, http.StatusOK, p)
}

// --- Catalog handlers ---

func (s *Server) handleQueryCatalog(w http.ResponseWriter, r *http.Request) {
	f := catalog.QueryFilters{
		Search:      r.URL.Query().Get("search"),
		MinInstalls: queryInt(r, "min_installs", 0),
		MaxInstalls: queryInt(r, "max_installs", 0),
		SortBy:      r.URL.Query().Get("sort"),
		SortDesc:    r.URL.Query().Get("order") != "asc",
		Limit:       queryInt(r, "limit", 0),
		Offset:      queryInt(r, "offset", 0),
	}
	entries, err := s.store.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCatalogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Job handlers ---

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobs.Cancel(chi.URLParam(r, "jobID"))
	writeJSON(w, http.StatusNoContent, nil)
}

// --- WebSocket ---

// handleScanWS starts a scan and streams its events until the job
// finishes or the client disconnects.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	cfg := model.DefaultScanConfig()
	q := r.URL.Query()
	if v := queryInt(r, "pages", 0); v > 0 {
		cfg.Pages = v
	}
	if v := queryInt(r, "limit", 0); v > 0 {
		cfg.Limit = v
	}
	if v := queryInt(r, "min_installs", 0); v > 0 {
		cfg.MinInstalls = v
	}
	if v := queryInt(r, "min_score", 0); v > 0 {
		cfg.MinScore = v
	}
	cfg.Smart = q.Get("smart") == "true"
	cfg.Abandoned = q.Get("abandoned") == "true"
	cfg.UserFacing = q.Get("user_facing") == "true"
	cfg.Themes = q.Get("themes") == "true"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	job := s.jobs.StartScan(cfg, s.newScanner(), s.repo)
	s.logger.Info("started scan job over websocket", logging.Field{Key: "job_id", Value: job.ID})
	_ = conn.WriteJSON(job)

	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			// Assume client disconnected; cancel job
			s.jobs.Cancel(job.ID)
			return
		}
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
