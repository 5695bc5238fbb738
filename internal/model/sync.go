package model

import "time"

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncRun is the provenance record bracketing one synchronizer invocation.
// It is created in running state before the first page fetch and finalized
// exactly once, even on error paths, so the incremental threshold is never
// computed from a dangling run.
type SyncRun struct {
	ID            int64      `json:"id"`
	SyncType      string     `json:"sync_type"`
	PagesSynced   int        `json:"pages_synced"`
	PluginsSynced int        `json:"plugins_synced"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        SyncStatus `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// SyncConfig configures one synchronizer invocation.
type SyncConfig struct {
	Pages      int
	BrowseType BrowseType
	Workers    int

	// Incremental stops the whole sync at the first record at or before
	// the last successful run's completion time.
	Incremental bool

	// RateLimitDelay spaces page submissions to stay polite.
	RateLimitDelay time.Duration
}

// DefaultSyncConfig mirrors the bulk-coverage defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Pages:          100,
		BrowseType:     BrowseUpdated,
		Workers:        10,
		RateLimitDelay: 100 * time.Millisecond,
	}
}

// SyncProgress is the mutable progress snapshot pushed to observers.
type SyncProgress struct {
	PagesCompleted int    `json:"pages_completed"`
	PagesTotal     int    `json:"pages_total"`
	PluginsSynced  int    `json:"plugins_synced"`
	PagesFailed    int    `json:"pages_failed"`
	IsRunning      bool   `json:"is_running"`
	Error          string `json:"error,omitempty"`
}

// CatalogEntry is the durable cached form of a PluginRecord, unique on
// (slug, version). Mutable fields follow last-write-wins; FirstSeenAt is
// preserved across upserts while FetchedAt refreshes on every write.
type CatalogEntry struct {
	ID                     int64   `json:"id"`
	Slug                   string  `json:"slug"`
	Name                   string  `json:"name"`
	Version                string  `json:"version"`
	Author                 string  `json:"author"`
	AuthorProfile          string  `json:"author_profile"`
	ActiveInstalls         int     `json:"active_installs"`
	Downloaded             int     `json:"downloaded"`
	LastUpdated            string  `json:"last_updated"`
	Added                  string  `json:"added"`
	Tested                 string  `json:"tested"`
	Requires               string  `json:"requires"`
	RequiresPHP            string  `json:"requires_php"`
	Rating                 float64 `json:"rating"`
	NumRatings             int     `json:"num_ratings"`
	SupportThreads         int     `json:"support_threads"`
	SupportThreadsResolved int     `json:"support_threads_resolved"`
	ShortDescription       string  `json:"short_description"`
	Description            string  `json:"description"`
	TagsJSON               string  `json:"-"`
	SectionsJSON           string  `json:"-"`
	DownloadLink           string  `json:"download_link"`
	Homepage               string  `json:"homepage"`
	DonateLink             string  `json:"donate_link"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}
