package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/repository"
	"github.com/xeloxa/WP-Hunter/internal/scanner"
	_ "modernc.org/sqlite"
)

// fakeAPI satisfies the scanner's and syncer's registry dependencies.
type fakeAPI struct {
	pages map[int][]model.PluginRecord
}

func (f *fakeAPI) QueryPlugins(ctx context.Context, page int, browse model.BrowseType) []model.PluginRecord {
	return f.pages[page]
}

func (f *fakeAPI) QueryThemes(ctx context.Context, page int, browse model.BrowseType) []model.ThemeRecord {
	return nil
}

func (f *fakeAPI) PluginInformation(ctx context.Context, slug string) (*model.PluginRecord, error) {
	return nil, fmt.Errorf("plugin %q: not found", slug)
}

// openMemDB opens a named in-memory database so each store in a test
// gets its own isolated instance.
func openMemDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", t.Name(), name)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func testServer(t *testing.T, api *fakeAPI) (*Server, *httptest.Server) {
	t.Helper()
	logger := logging.NewNop()

	repo, err := repository.NewRepository(openMemDB(t, "scan"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := catalog.NewStore(openMemDB(t, "catalog"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	syncer := catalog.NewSyncer(api, store, logger)
	factory := func() *scanner.Scanner {
		return scanner.New(api, nil, nil, logger)
	}

	s := New(Config{ListenAddr: ":0"}, repo, store, syncer, factory, logger)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func waitForJob(t *testing.T, ts *httptest.Server, jobID string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/jobs/" + jobID)
		if err != nil {
			t.Fatal(err)
		}
		var job struct {
			Status JobStatus `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		switch job.Status {
		case JobDone, JobFailed, JobCanceled:
			return job.Status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return ""
}

func TestScanJobOverREST(t *testing.T) {
	api := &fakeAPI{pages: map[int][]model.PluginRecord{
		1: {{
			Slug:           "risky-forms",
			Name:           "Risky Forms",
			Version:        "1.0",
			ActiveInstalls: 5000,
			LastUpdated:    "2020-01-01 7:00am GMT",
			Tested:         "5.0",
			Rating:         40,
			Tags:           model.TagMap{"form": "Form"},
		}},
	}}
	_, ts := testServer(t, api)

	body, _ := json.Marshal(map[string]any{"pages": 1, "min_installs": 100})
	resp, err := http.Post(ts.URL+"/scans", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}

	if got := waitForJob(t, ts, job.ID); got != JobDone {
		t.Fatalf("job status = %s, want done", got)
	}

	// Session and results are durably persisted.
	resp, err = http.Get(ts.URL + "/scans")
	if err != nil {
		t.Fatal(err)
	}
	var sessions []*model.ScanSession
	json.NewDecoder(resp.Body).Decode(&sessions)
	resp.Body.Close()
	if len(sessions) != 1 || sessions[0].Status != model.ScanCompleted {
		t.Fatalf("sessions = %+v, want one completed", sessions)
	}
	if sessions[0].TotalFound != 1 {
		t.Errorf("total found = %d, want 1", sessions[0].TotalFound)
	}

	resp, err = http.Get(fmt.Sprintf("%s/scans/%d/results", ts.URL, sessions[0].ID))
	if err != nil {
		t.Fatal(err)
	}
	var results []*model.PluginResult
	json.NewDecoder(resp.Body).Decode(&results)
	resp.Body.Close()
	if len(results) != 1 || results[0].Slug != "risky-forms" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Score <= 0 {
		t.Error("persisted result lost its score")
	}
}

func TestResultsBadSortRejected(t *testing.T) {
	_, ts := testServer(t, &fakeAPI{})
	resp, err := http.Get(ts.URL + "/scans/1/results?sort=evil_column")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad sort column", resp.StatusCode)
	}
}

func TestJobNotFound(t *testing.T) {
	_, ts := testServer(t, &fakeAPI{})
	resp, err := http.Get(ts.URL + "/jobs/no-such-job")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobEncodingConcurrentWithStatusChanges(t *testing.T) {
	job := &Job{
		ID:        "job-1",
		Kind:      JobScan,
		Status:    JobPending,
		CreatedAt: time.Now(),
		Events:    make(chan JobEvent, 1),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		statuses := []JobStatus{JobRunning, JobDone, JobPending}
		for i := 0; i < 200; i++ {
			job.setStatus(statuses[i%len(statuses)])
		}
	}()

	valid := map[string]bool{"pending": true, "running": true, "done": true}
	for i := 0; i < 200; i++ {
		data, err := json.Marshal(job)
		if err != nil {
			t.Fatal(err)
		}
		var got struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != "job-1" || !valid[got.Status] {
			t.Fatalf("encoded job = %s", data)
		}
	}
	<-done
}

func TestSyncJobOverREST(t *testing.T) {
	api := &fakeAPI{pages: map[int][]model.PluginRecord{
		1: {{
			Slug:        "cached-plugin",
			Name:        "Cached Plugin",
			Version:     "2.0",
			LastUpdated: "2026-08-20 7:00am GMT",
		}},
	}}
	_, ts := testServer(t, api)

	body, _ := json.Marshal(map[string]any{"pages": 1, "workers": 1})
	resp, err := http.Post(ts.URL+"/sync", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var job struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	if got := waitForJob(t, ts, job.ID); got != JobDone {
		t.Fatalf("sync job status = %s, want done", got)
	}

	resp, err = http.Get(ts.URL + "/catalog?search=cached")
	if err != nil {
		t.Fatal(err)
	}
	var entries []*model.CatalogEntry
	json.NewDecoder(resp.Body).Decode(&entries)
	resp.Body.Close()
	if len(entries) != 1 || entries[0].Slug != "cached-plugin" {
		t.Fatalf("catalog entries = %+v", entries)
	}

	resp, err = http.Get(ts.URL + "/sync/history")
	if err != nil {
		t.Fatal(err)
	}
	var runs []*model.SyncRun
	json.NewDecoder(resp.Body).Decode(&runs)
	resp.Body.Close()
	if len(runs) != 1 || runs[0].Status != model.SyncCompleted {
		t.Fatalf("sync history = %+v", runs)
	}
}
