package scanner

import (
	"strings"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/model"
)

// abandonedThresholdDays marks the update-age beyond which a package is
// treated as unmaintained.
const abandonedThresholdDays = 730

// matchedRiskTags returns every risk-category tag that matches the record.
// Matching is substring search across the registry-declared tags, the
// lower-cased name and the lower-cased short description.
func matchedRiskTags(rec *model.PluginRecord) []string {
	haystack := buildHaystack(rec)
	var matched []string
	for _, tag := range config.RiskyTags {
		if strings.Contains(haystack, tag) {
			matched = append(matched, tag)
		}
	}
	return matched
}

// isUserFacing reports whether any user-facing tag matches the record.
func isUserFacing(rec *model.PluginRecord) bool {
	haystack := buildHaystack(rec)
	for _, tag := range config.UserFacingTags {
		if strings.Contains(haystack, tag) {
			return true
		}
	}
	return false
}

func buildHaystack(rec *model.PluginRecord) string {
	var b strings.Builder
	for tag := range rec.Tags {
		b.WriteString(strings.ToLower(tag))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToLower(rec.Name))
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(rec.ShortDescription))
	return b.String()
}

// passesFilters runs the ordered predicate chain, cheapest first, and
// short-circuits on the first failure. Records dropped here never reach
// the scorer. Themes carry no install counts, so install bounds are
// skipped for them.
func passesFilters(rec *model.PluginRecord, cfg model.ScanConfig, days int, isTheme bool) bool {
	if !isTheme {
		if cfg.MinInstalls > 0 && rec.ActiveInstalls < cfg.MinInstalls {
			return false
		}
		if cfg.MaxInstalls > 0 && rec.ActiveInstalls > cfg.MaxInstalls {
			return false
		}
	}
	if cfg.MinDays > 0 && days < cfg.MinDays {
		return false
	}
	if cfg.MaxDays > 0 && days > cfg.MaxDays {
		return false
	}
	if cfg.Abandoned && days <= abandonedThresholdDays {
		return false
	}
	if cfg.Smart && len(matchedRiskTags(rec)) == 0 {
		return false
	}
	if cfg.UserFacing && !isUserFacing(rec) {
		return false
	}
	return true
}
