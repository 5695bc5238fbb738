// Package console renders scan output for the terminal.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/xeloxa/WP-Hunter/internal/model"
)

var (
	colorCritical = color.New(color.FgRed, color.Bold).SprintFunc()
	colorHigh     = color.New(color.FgRed).SprintFunc()
	colorMedium   = color.New(color.FgYellow).SprintFunc()
	colorLow      = color.New(color.FgGreen).SprintFunc()
	colorDim      = color.New(color.Faint).SprintFunc()
	colorInfo     = color.New(color.FgCyan).SprintFunc()
)

// Printer writes human-readable scan output.
type Printer struct {
	out     io.Writer
	Verbose bool
}

// NewPrinter writes to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func scoreColored(score int) string {
	s := fmt.Sprintf("%3d", score)
	switch model.ScoreLevel(score) {
	case "CRITICAL":
		return colorCritical(s)
	case "HIGH":
		return colorHigh(s)
	case "MEDIUM":
		return colorMedium(s)
	default:
		return colorLow(s)
	}
}

// scoreBar renders a ten-segment bar for quick visual triage.
func scoreBar(score int) string {
	filled := score / 10
	if filled > 10 {
		filled = 10
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", 10-filled) + "]"
}

// Result prints one scan hit as it arrives.
func (p *Printer) Result(r *model.PluginResult) {
	kind := "plugin"
	if r.IsTheme {
		kind = "theme"
	}
	dup := ""
	if r.IsDuplicate {
		dup = colorDim(" (duplicate)")
	}
	fmt.Fprintf(p.out, "%s %s %s %s v%s%s\n",
		scoreColored(r.Score), scoreBar(r.Score), kind, r.Slug, r.Version, dup)

	if p.Verbose {
		fmt.Fprintf(p.out, "      installs=%d stale=%dd tested=%s tags=%s\n",
			r.Installations, r.DaysSinceUpdate, r.TestedWPVersion,
			strings.Join(r.RiskTags, ","))
		if len(r.SecurityFlags) > 0 {
			fmt.Fprintf(p.out, "      changelog: %s\n", colorInfo(strings.Join(r.SecurityFlags, ",")))
		}
		if !r.CodeAnalysis.Empty() {
			fmt.Fprintf(p.out, "      analysis: dangerous=%d ajax=%d sql=%d sanitization=%d\n",
				len(r.CodeAnalysis.DangerousFunctions), len(r.CodeAnalysis.AjaxEndpoints),
				len(r.CodeAnalysis.SQLQueries), len(r.CodeAnalysis.SanitizationIssues))
		}
		fmt.Fprintf(p.out, "      %s\n", colorDim(r.Links.WPOrg))
	}
}

// Table prints the top results as a summary table, highest score first.
func (p *Printer) Table(results []*model.PluginResult, limit int) {
	if len(results) == 0 {
		fmt.Fprintln(p.out, colorLow("No packages matched."))
		return
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	table := tablewriter.NewTable(p.out,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.Off}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting:   tw.CellFormatting{AutoWrap: tw.WrapTruncate},
				ColMaxWidths: tw.CellWidth{Global: 40},
			},
		}),
	)
	table.Header([]string{"Score", "Level", "Slug", "Version", "Installs", "Stale (days)", "Tags"})
	for _, r := range results {
		table.Append([]string{
			fmt.Sprintf("%d", r.Score),
			model.ScoreLevel(r.Score),
			r.Slug,
			r.Version,
			fmt.Sprintf("%d", r.Installations),
			fmt.Sprintf("%d", r.DaysSinceUpdate),
			strings.Join(r.RiskTags, ","),
		})
	}
	table.Render()
}

// Catalog prints cached catalog entries as a table.
func (p *Printer) Catalog(entries []*model.CatalogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.out, colorLow("No catalog entries matched."))
		return
	}
	table := tablewriter.NewTable(p.out,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.Off}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting:   tw.CellFormatting{AutoWrap: tw.WrapTruncate},
				ColMaxWidths: tw.CellWidth{Global: 40},
			},
		}),
	)
	table.Header([]string{"Slug", "Version", "Name", "Installs", "Updated", "Rating"})
	for _, e := range entries {
		table.Append([]string{
			e.Slug,
			e.Version,
			e.Name,
			fmt.Sprintf("%d", e.ActiveInstalls),
			e.LastUpdated,
			fmt.Sprintf("%.0f", e.Rating),
		})
	}
	table.Render()
}

// Summary prints the end-of-scan aggregate counts.
func (p *Printer) Summary(s model.ScanSummary) {
	fmt.Fprintf(p.out, "\n%s %d found, %s high risk, %d abandoned, %d user-facing, %d risky-category",
		colorInfo("scan complete:"), s.TotalFound, colorHigh(fmt.Sprintf("%d", s.HighRisk)),
		s.Abandoned, s.UserFacing, s.RiskyCategories)
	if s.FailedPages > 0 {
		fmt.Fprintf(p.out, ", %s", colorMedium(fmt.Sprintf("%d pages dropped", s.FailedPages)))
	}
	fmt.Fprintln(p.out)
}

// SyncRun prints one sync run's outcome.
func (p *Printer) SyncRun(run *model.SyncRun) {
	status := string(run.Status)
	switch run.Status {
	case model.SyncCompleted:
		status = colorLow(status)
	case model.SyncFailed:
		status = colorHigh(status)
	}
	fmt.Fprintf(p.out, "sync #%d (%s): %s, %d pages, %d plugins\n",
		run.ID, run.SyncType, status, run.PagesSynced, run.PluginsSynced)
	if run.ErrorMessage != "" {
		fmt.Fprintf(p.out, "  %s\n", colorHigh(run.ErrorMessage))
	}
}

// CatalogStats prints catalog coverage counts.
func (p *Printer) CatalogStats(total, distinct int, lastFetched string) {
	fmt.Fprintf(p.out, "catalog: %d versions across %d plugins", total, distinct)
	if lastFetched != "" {
		fmt.Fprintf(p.out, ", last fetched %s", colorDim(lastFetched))
	}
	fmt.Fprintln(p.out)
}
