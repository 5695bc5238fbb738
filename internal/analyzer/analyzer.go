// Package analyzer performs cheap line-oriented inspection of extracted
// package source. It is a signal generator for the scorer, not a sound
// static analyzer: matching is substring search per line, nothing is
// parsed.
package analyzer

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
)

const (
	// maxFileSize skips generated bundles and vendored blobs.
	maxFileSize = 1 << 20

	defaultTimeout = 60 * time.Second
)

// sourceExtensions are the file types worth scanning. JavaScript is
// included because AJAX call sites live there.
var sourceExtensions = map[string]bool{
	".php": true,
	".inc": true,
	".js":  true,
}

// Analyzer walks an extracted package tree and unions pattern matches
// across all source files.
type Analyzer struct {
	logger  logging.Logger
	timeout time.Duration
}

// New constructs an Analyzer with the default per-tree timeout.
func New(logger logging.Logger) *Analyzer {
	return &Analyzer{
		logger:  logger.With(logging.Field{Key: "component", Value: "analyzer"}),
		timeout: defaultTimeout,
	}
}

// matchSets accumulate unique matched pattern names per category.
type matchSets struct {
	dangerous map[string]struct{}
	ajax      map[string]struct{}
	theme     map[string]struct{}
	fileOps   map[string]struct{}
	sql       map[string]struct{}
	nonce     map[string]struct{}
	sanitize  map[string]struct{}
}

func newMatchSets() *matchSets {
	return &matchSets{
		dangerous: map[string]struct{}{},
		ajax:      map[string]struct{}{},
		theme:     map[string]struct{}{},
		fileOps:   map[string]struct{}{},
		sql:       map[string]struct{}{},
		nonce:     map[string]struct{}{},
		sanitize:  map[string]struct{}{},
	}
}

// AnalyzeTree scans every source file under root. A tree that exceeds the
// analyzer's timeout fails outright rather than returning a partial
// result, so a score never silently reflects a half-inspected package.
func (a *Analyzer) AnalyzeTree(ctx context.Context, root string) (*model.CodeAnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sets := newMatchSets()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if !sourceExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}
		a.scanFile(path, sets)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sets.result(), nil
}

func (a *Analyzer) scanFile(path string, sets *matchSets) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		scanLine(scanner.Text(), sets)
	}
	if err := scanner.Err(); err != nil {
		a.logger.Debug("scan aborted mid-file",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func scanLine(line string, sets *matchSets) {
	for _, fn := range config.DangerousFunctions {
		if matchesCall(line, fn) {
			sets.dangerous[fn] = struct{}{}
		}
	}
	addContains(line, config.AjaxPatterns, sets.ajax)
	addContains(line, config.ThemePatterns, sets.theme)
	addContains(line, config.FileOperationPatterns, sets.fileOps)
	addContains(line, config.SQLPatterns, sets.sql)
	addContains(line, config.NoncePatterns, sets.nonce)

	for _, gap := range config.SanitizationGapPatterns {
		if strings.Contains(line, gap) && !sanitizedOnLine(line) {
			sets.sanitize[gap] = struct{}{}
		}
	}
}

func addContains(line string, patterns []string, set map[string]struct{}) {
	for _, p := range patterns {
		if strings.Contains(line, p) {
			set[p] = struct{}{}
		}
	}
}

// matchesCall matches fn as a call site, rejecting matches embedded in a
// longer identifier ("retrieval(" must not count as "eval(").
func matchesCall(line, fn string) bool {
	needle := fn + "("
	for from := 0; ; {
		idx := strings.Index(line[from:], needle)
		if idx < 0 {
			return false
		}
		idx += from
		if idx == 0 || !isIdentChar(line[idx-1]) {
			return true
		}
		from = idx + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// sanitizedOnLine reports whether a recognized sanitization wrapper
// appears on the same line as a raw superglobal access.
func sanitizedOnLine(line string) bool {
	for _, fn := range config.SanitizationFunctions {
		if strings.Contains(line, fn) {
			return true
		}
	}
	return false
}

func (s *matchSets) result() *model.CodeAnalysisResult {
	return &model.CodeAnalysisResult{
		DangerousFunctions: sortedKeys(s.dangerous),
		AjaxEndpoints:      sortedKeys(s.ajax),
		ThemeFunctions:     sortedKeys(s.theme),
		FileOperations:     sortedKeys(s.fileOps),
		SQLQueries:         sortedKeys(s.sql),
		NonceUsage:         sortedKeys(s.nonce),
		SanitizationIssues: sortedKeys(s.sanitize),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
