package scanner

import (
	"sort"
	"strings"

	"github.com/xeloxa/WP-Hunter/internal/config"
)

// changelogWindow bounds how much of the changelog is inspected. Recent
// entries come first; anything past the window is history, not signal.
const changelogWindow = 2000

// analyzeChangelog extracts security-work and new-surface keywords from
// the head of a changelog section.
func analyzeChangelog(changelog string) (security, features []string) {
	if changelog == "" {
		return nil, nil
	}
	if len(changelog) > changelogWindow {
		changelog = changelog[:changelogWindow]
	}
	text := strings.ToLower(changelog)

	for kw := range config.SecurityKeywords {
		if strings.Contains(text, kw) {
			security = append(security, kw)
		}
	}
	for kw := range config.FeatureKeywords {
		if strings.Contains(text, kw) {
			features = append(features, kw)
		}
	}
	sort.Strings(security)
	sort.Strings(features)
	return security, features
}
