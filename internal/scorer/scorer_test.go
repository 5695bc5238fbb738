package scorer

import (
	"testing"

	"github.com/xeloxa/WP-Hunter/internal/model"
)

// fresh returns an input that scores zero against every bucket, so each
// test can perturb exactly one signal.
func fresh() Input {
	return Input{
		DaysSinceUpdate:       10,
		SupportResolutionRate: 100,
		TestedVersion:         "6.7",
		Rating:                90,
	}
}

func TestMaintenanceLatencyBuckets(t *testing.T) {
	cases := []struct {
		days int
		want int
	}{
		{10, 0},
		{180, 0},
		{181, 15},
		{365, 15},
		{366, 25},
		{730, 25},
		{731, 40},
		{9999, 40},
	}
	for _, c := range cases {
		in := fresh()
		in.DaysSinceUpdate = c.days
		if got := maintenanceLatency(in); got != c.want {
			t.Errorf("maintenanceLatency(%d days) = %d, want %d", c.days, got, c.want)
		}
	}
}

func TestAttackSurfaceCap(t *testing.T) {
	in := fresh()
	in.MatchedTags = []string{"payment", "gateway"}
	if got := attackSurface(in); got != 6 {
		t.Errorf("2 tags = %d, want 6", got)
	}
	in.MatchedTags = make([]string, 20)
	if got := attackSurface(in); got != 30 {
		t.Errorf("20 tags = %d, want cap 30", got)
	}
}

func TestSupportNeglectBuckets(t *testing.T) {
	cases := []struct {
		rate float64
		want int
	}{
		{0, 15},
		{19.9, 15},
		{20, 10},
		{49.9, 10},
		{50, 0},
		{100, 0},
	}
	for _, c := range cases {
		in := fresh()
		in.SupportResolutionRate = c.rate
		if got := supportNeglect(in); got != c.want {
			t.Errorf("supportNeglect(%.1f%%) = %d, want %d", c.rate, got, c.want)
		}
	}
}

func TestCompatibilityDebt(t *testing.T) {
	cases := []struct {
		tested string
		want   int
	}{
		{"6.7", 0},
		{"6.7.2", 0}, // third component dropped by the lossy parse
		{"6.5", 0},
		{"6.7-RC1", 0}, // pre-release marker stripped, not penalized
		{"6.1-beta2", 15},
		{"6.1", 15},
		{"1.0", 15},
		{"", 10},
		{"not-a-version", 10},
	}
	for _, c := range cases {
		in := fresh()
		in.TestedVersion = c.tested
		if got := compatibilityDebt(in); got != c.want {
			t.Errorf("compatibilityDebt(%q) = %d, want %d", c.tested, got, c.want)
		}
	}
}

func TestReputation(t *testing.T) {
	cases := []struct {
		rating float64
		want   int
	}{
		{90, 0},
		{70, 0},  // exactly 3.5 on the 0-5 scale
		{69, 10},
		{40, 10},
		{0, 10},
		{-5, 10},  // out of range treated as zero
		{150, 10},
	}
	for _, c := range cases {
		in := fresh()
		in.Rating = c.rating
		if got := reputation(in); got != c.want {
			t.Errorf("reputation(%.0f) = %d, want %d", c.rating, got, c.want)
		}
	}
}

func TestCodeAnalysisBonus(t *testing.T) {
	in := fresh()
	in.Analysis = &model.CodeAnalysisResult{
		DangerousFunctions: make([]string, 10), // 30 raw, capped 15
		SanitizationIssues: make([]string, 8),  // 16 raw, capped 10
		AjaxEndpoints:      []string{"wp_ajax_save"},
		FileOperations:     make([]string, 9), // capped 5
	}
	// 15 + 10 + 8 (ajax, no nonce) + 5
	if got := codeAnalysis(in); got != 38 {
		t.Errorf("codeAnalysis = %d, want 38", got)
	}

	in.Analysis.NonceUsage = []string{"wp_verify_nonce"}
	// nonce present removes the flat ajax bonus
	if got := codeAnalysis(in); got != 30 {
		t.Errorf("codeAnalysis with nonce = %d, want 30", got)
	}

	in.Analysis = nil
	if got := codeAnalysis(in); got != 0 {
		t.Errorf("codeAnalysis without analysis = %d, want 0", got)
	}
}

func TestUserInputBonus(t *testing.T) {
	in := fresh()
	in.MatchedTags = []string{"payment", "gateway"}
	if got := userInput(in); got != 0 {
		t.Errorf("non-input tags = %d, want 0", got)
	}
	in.MatchedTags = []string{"payment", "upload"}
	if got := userInput(in); got != 5 {
		t.Errorf("upload tag = %d, want 5", got)
	}
}

func TestDiscounts(t *testing.T) {
	in := fresh()
	in.DaysSinceUpdate = 13
	if got := activeMaintenance(in); got != -5 {
		t.Errorf("13 days = %d, want -5", got)
	}
	// Two full weeks is no longer "active".
	in.DaysSinceUpdate = 14
	if got := activeMaintenance(in); got != 0 {
		t.Errorf("14 days = %d, want 0", got)
	}

	in.Analysis = &model.CodeAnalysisResult{NonceUsage: []string{"wp_create_nonce"}}
	if got := goodPractice(in); got != -3 {
		t.Errorf("nonce usage = %d, want -3", got)
	}
}

func TestScoreNeverNegative(t *testing.T) {
	// Fresh plugin with good analysis hygiene: both discounts apply to a
	// near-zero base and the floor must hold.
	in := fresh()
	in.Analysis = &model.CodeAnalysisResult{NonceUsage: []string{"wp_verify_nonce"}}
	if got := Score(in); got != 0 {
		t.Errorf("Score = %d, want 0", got)
	}
}

func TestScoreClampedAt100(t *testing.T) {
	in := Input{
		DaysSinceUpdate:       2000,
		MatchedTags:           append(make([]string, 15), "upload"),
		SupportResolutionRate: 5,
		TestedVersion:         "3.0",
		Rating:                10,
		Analysis: &model.CodeAnalysisResult{
			DangerousFunctions: make([]string, 10),
			SanitizationIssues: make([]string, 10),
			AjaxEndpoints:      []string{"wp_ajax_run"},
			FileOperations:     make([]string, 10),
		},
	}
	if got := Score(in); got != 100 {
		t.Errorf("Score = %d, want clamp 100", got)
	}
}

// The abandoned-payment-plugin example: 800 days stale, tested far behind,
// rating 40, two surface tags, healthy support, no analysis.
func TestScoreWorkedExample(t *testing.T) {
	in := Input{
		DaysSinceUpdate:       800,
		MatchedTags:           []string{"payment", "gateway"},
		SupportResolutionRate: 80,
		TestedVersion:         "1.0",
		Rating:                40,
	}
	// 40 latency + 6 surface + 15 compat + 10 reputation
	if got := Score(in); got != 71 {
		t.Errorf("Score = %d, want 71", got)
	}
}

func TestResolutionRate(t *testing.T) {
	if got := ResolutionRate(0, 0); got != 100 {
		t.Errorf("no threads = %.1f, want 100", got)
	}
	if got := ResolutionRate(1, 4); got != 25 {
		t.Errorf("1/4 = %.1f, want 25", got)
	}
}

func TestScoreAdversarialInputs(t *testing.T) {
	inputs := []Input{
		{},
		{DaysSinceUpdate: -100, Rating: -50, TestedVersion: "???"},
		{DaysSinceUpdate: 1 << 30, Rating: 1e9, SupportResolutionRate: -1},
	}
	for i, in := range inputs {
		got := Score(in)
		if got < 0 || got > 100 {
			t.Errorf("input %d: Score = %d out of range", i, got)
		}
	}
}
