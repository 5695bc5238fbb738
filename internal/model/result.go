package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CodeAnalysisResult aggregates pattern matches across every source file in
// an extracted package tree. Each set is a union with duplicates collapsed.
type CodeAnalysisResult struct {
	DangerousFunctions []string `json:"dangerous_functions"`
	AjaxEndpoints      []string `json:"ajax_endpoints"`
	ThemeFunctions     []string `json:"theme_functions"`
	FileOperations     []string `json:"file_operations"`
	SQLQueries         []string `json:"sql_queries"`
	NonceUsage         []string `json:"nonce_usage"`
	SanitizationIssues []string `json:"sanitization_issues"`
}

// Empty reports whether the analysis found nothing at all.
func (c *CodeAnalysisResult) Empty() bool {
	if c == nil {
		return true
	}
	return len(c.DangerousFunctions) == 0 && len(c.AjaxEndpoints) == 0 &&
		len(c.ThemeFunctions) == 0 && len(c.FileOperations) == 0 &&
		len(c.SQLQueries) == 0 && len(c.NonceUsage) == 0 &&
		len(c.SanitizationIssues) == 0
}

// IntelLinks are the externally-constructed research links attached to each
// result: vulnerability-database searches, the version-control log, and the
// package download itself.
type IntelLinks struct {
	WPOrg      string `json:"wp_org_link"`
	CVESearch  string `json:"cve_search_link"`
	WPScan     string `json:"wpscan_link"`
	Patchstack string `json:"patchstack_link"`
	Wordfence  string `json:"wordfence_link"`
	GoogleDork string `json:"google_dork_link"`
	Trac       string `json:"trac_link"`
}

// NewIntelLinks builds the fixed link set for a plugin slug.
func NewIntelLinks(slug string) IntelLinks {
	q := url.QueryEscape(slug)
	dork := url.QueryEscape(fmt.Sprintf(`%s site:wpscan.com OR site:patchstack.com OR site:cve.mitre.org "vulnerability"`, slug))
	return IntelLinks{
		WPOrg:      fmt.Sprintf("https://wordpress.org/plugins/%s/", slug),
		CVESearch:  fmt.Sprintf("https://cve.mitre.org/cgi-bin/cvekey.cgi?keyword=%s", q),
		WPScan:     fmt.Sprintf("https://wpscan.com/plugin/%s", slug),
		Patchstack: fmt.Sprintf("https://patchstack.com/database?search=%s", q),
		Wordfence:  fmt.Sprintf("https://www.wordfence.com/threat-intel/vulnerabilities/search?search=%s", q),
		GoogleDork: fmt.Sprintf("https://www.google.com/search?q=%s", dork),
		Trac:       fmt.Sprintf("https://plugins.trac.wordpress.org/log/%s/", slug),
	}
}

// PluginResult is one scored scan hit. Themes reuse this shape with IsTheme
// set and plugin-only fields zero-filled, so persisted records stay
// uniformly queryable.
type PluginResult struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Version string `json:"version"`

	// Score is the VPS heuristic, always within [0,100].
	Score           int    `json:"score"`
	Installations   int    `json:"installations"`
	DaysSinceUpdate int    `json:"days_since_update"`
	TestedWPVersion string `json:"tested_wp_version"`

	AuthorTrusted   bool `json:"author_trusted"`
	IsRiskyCategory bool `json:"is_risky_category"`
	IsUserFacing    bool `json:"is_user_facing"`
	IsTheme         bool `json:"is_theme"`

	// IsDuplicate is set by the repository when the same slug already exists
	// under a different scan session. Never set within a single session.
	IsDuplicate bool `json:"is_duplicate"`

	RiskTags      []string `json:"risk_tags"`
	SecurityFlags []string `json:"security_flags"`
	FeatureFlags  []string `json:"feature_flags"`

	CodeAnalysis *CodeAnalysisResult `json:"code_analysis,omitempty"`

	DownloadLink string `json:"download_link"`
	Links        IntelLinks
}

// ScanStatus is the lifecycle state of a scan session.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// ScanSession is the persisted provenance record for one scan invocation.
type ScanSession struct {
	ID            int64       `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Status        ScanStatus  `json:"status"`
	Config        *ScanConfig `json:"config,omitempty"`
	TotalFound    int         `json:"total_found"`
	HighRiskCount int         `json:"high_risk_count"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// ScanSummary are the aggregate counts reported at the end of a scan.
type ScanSummary struct {
	TotalFound      int `json:"total_found"`
	HighRisk        int `json:"high_risk"`
	Abandoned       int `json:"abandoned"`
	UserFacing      int `json:"user_facing"`
	RiskyCategories int `json:"risky_categories"`
	FailedPages     int `json:"failed_pages"`
}

// Summarize computes the aggregate counts over a result set.
func Summarize(results []*PluginResult, failedPages int) ScanSummary {
	s := ScanSummary{TotalFound: len(results), FailedPages: failedPages}
	for _, r := range results {
		if r.Score >= 50 {
			s.HighRisk++
		}
		if r.DaysSinceUpdate > 730 {
			s.Abandoned++
		}
		if r.IsUserFacing {
			s.UserFacing++
		}
		if r.IsRiskyCategory {
			s.RiskyCategories++
		}
	}
	return s
}

// ScoreLevel maps a VPS score to its reporting bucket.
func ScoreLevel(score int) string {
	switch {
	case score >= 80:
		return "CRITICAL"
	case score >= 50:
		return "HIGH"
	case score >= 30:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ContainsFold reports whether needle appears in haystack, case-insensitive.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
