package model

// BrowseType selects the registry's result ordering.
type BrowseType string

const (
	BrowseNew     BrowseType = "new"
	BrowseUpdated BrowseType = "updated"
	BrowsePopular BrowseType = "popular"
)

// ScanConfig holds every knob for a scan invocation. Fields are typed and
// defaulted up front; nothing reads configuration dynamically mid-scan.
type ScanConfig struct {
	Pages int `json:"pages"`

	// Limit is a soft global cap on accepted results; 0 means unlimited.
	// Concurrent workers may overshoot by at most pool size - 1.
	Limit int `json:"limit"`

	MinInstalls int        `json:"min_installs"`
	MaxInstalls int        `json:"max_installs"`
	Sort        BrowseType `json:"sort"`

	// Smart drops records with no risky-category tag match.
	Smart bool `json:"smart"`
	// Abandoned keeps only records untouched for more than 730 days.
	Abandoned bool `json:"abandoned"`
	// UserFacing keeps only records with a user-facing tag match.
	UserFacing bool `json:"user_facing"`
	Themes     bool `json:"themes"`

	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`

	// DeepAnalysis downloads and statically inspects each surviving package.
	DeepAnalysis bool `json:"deep_analysis"`

	// Aggressive raises the worker pool from 5 to 50.
	Aggressive bool `json:"aggressive"`

	MinScore int `json:"min_score"`

	Download         int `json:"download"`
	AutoDownloadRisk int `json:"auto_download_risky"`
}

// DefaultScanConfig mirrors the defaults of the interactive tool.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Pages:       5,
		MinInstalls: 1000,
		Sort:        BrowseUpdated,
	}
}

// Workers returns the worker-pool size this configuration asks for.
func (c ScanConfig) Workers() int {
	if c.Aggressive {
		return 50
	}
	return 5
}
