// Package scorer computes the VPS heuristic, a 0-100 risk score over a
// plugin's registry metadata and optional static-analysis findings. Pure
// and deterministic, no I/O.
package scorer

import (
	"strconv"
	"strings"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/model"
)

// Input carries every signal the score depends on. Callers derive these
// from a registry record before scoring; the scorer never fetches.
type Input struct {
	DaysSinceUpdate int

	// MatchedTags are the risk-category tags that matched the record.
	MatchedTags []string

	// SupportResolutionRate is resolved/total support threads in percent.
	// Records with no support threads pass 100 (nothing is neglected).
	SupportResolutionRate float64

	// TestedVersion is the registry's declared tested-up-to platform
	// version, possibly empty or malformed.
	TestedVersion string

	// Rating is the registry's 0-100 rating.
	Rating float64

	Analysis *model.CodeAnalysisResult
}

// Rule is one independently testable scoring bucket. Points may be
// negative for discount rules; the combinator floors the running total at
// zero after each rule.
type Rule struct {
	Name   string
	Points func(Input) int
}

// Rules is the ordered rule table. Order matters only for the discount
// floor, but it is kept stable so partial sums are reproducible.
var Rules = []Rule{
	{"maintenance latency", maintenanceLatency},
	{"attack surface", attackSurface},
	{"support neglect", supportNeglect},
	{"compatibility debt", compatibilityDebt},
	{"reputation", reputation},
	{"code analysis", codeAnalysis},
	{"user input", userInput},
	{"active maintenance discount", activeMaintenance},
	{"good practice discount", goodPractice},
}

// Score evaluates the rule table and clamps the total to [0,100].
func Score(in Input) int {
	total := 0
	for _, r := range Rules {
		total += r.Points(in)
		if total < 0 {
			total = 0
		}
	}
	if total > 100 {
		total = 100
	}
	return total
}

func maintenanceLatency(in Input) int {
	switch {
	case in.DaysSinceUpdate > 730:
		return 40
	case in.DaysSinceUpdate > 365:
		return 25
	case in.DaysSinceUpdate > 180:
		return 15
	}
	return 0
}

func attackSurface(in Input) int {
	pts := 3 * len(in.MatchedTags)
	if pts > 30 {
		pts = 30
	}
	return pts
}

func supportNeglect(in Input) int {
	switch {
	case in.SupportResolutionRate < 20:
		return 15
	case in.SupportResolutionRate < 50:
		return 10
	}
	return 0
}

// compatibilityDebt parses the tested version lossily: only the first two
// dot-separated components are kept, and any unparsable string counts as
// risky rather than neutral. The bucket caps were calibrated against this
// lossy parse, so it must not be tightened.
func compatibilityDebt(in Input) int {
	v, ok := parseMajorMinor(in.TestedVersion)
	if !ok {
		return 10
	}
	if config.CurrentWPVersion-v > 0.5 {
		return 15
	}
	return 0
}

func parseMajorMinor(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// Pre-release markers like "6.7-RC1" still name the platform version.
	s, _, _ = strings.Cut(s, "-")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	v, err := strconv.ParseFloat(strings.Join(parts, "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func reputation(in Input) int {
	rating := in.Rating
	if rating < 0 || rating > 100 {
		rating = 0
	}
	if rating/20 < 3.5 {
		return 10
	}
	return 0
}

func codeAnalysis(in Input) int {
	a := in.Analysis
	if a == nil {
		return 0
	}
	pts := capAt(3*len(a.DangerousFunctions), 15)
	pts += capAt(2*len(a.SanitizationIssues), 10)
	if len(a.AjaxEndpoints) > 0 && len(a.NonceUsage) == 0 {
		pts += 8
	}
	pts += capAt(len(a.FileOperations), 5)
	return pts
}

func capAt(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}

func userInput(in Input) int {
	for _, tag := range in.MatchedTags {
		if config.UserInputTags[tag] {
			return 5
		}
	}
	return 0
}

func activeMaintenance(in Input) int {
	if in.DaysSinceUpdate < 14 {
		return -5
	}
	return 0
}

func goodPractice(in Input) int {
	if in.Analysis != nil && len(in.Analysis.NonceUsage) > 0 {
		return -3
	}
	return 0
}

// ResolutionRate derives the support resolution percentage used by the
// support-neglect bucket. Zero threads means nothing was neglected.
func ResolutionRate(resolved, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(resolved) / float64(total) * 100
}
