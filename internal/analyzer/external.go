package analyzer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/logging"
)

// ExternalTool runs a configured third-party analyzer binary against an
// extracted package directory. The path and slug cross a subprocess
// boundary, so both are validated before any invocation.
type ExternalTool struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	logger  logging.Logger
}

// NewExternalTool wraps a binary invocation; args are passed verbatim
// before the target directory.
func NewExternalTool(binary string, args []string, logger logging.Logger) *ExternalTool {
	return &ExternalTool{
		Binary:  binary,
		Args:    args,
		Timeout: 5 * time.Minute,
		logger:  logger.With(logging.Field{Key: "component", Value: "external-analyzer"}),
	}
}

// ValidSlug reports whether s contains only the characters permitted to
// cross a path or subprocess boundary.
func ValidSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Run executes the tool against dir and returns its combined output.
func (t *ExternalTool) Run(ctx context.Context, slug, dir string) ([]byte, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("invalid slug %q: slugs are restricted to [A-Za-z0-9_-]", slug)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("analyzer target: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("analyzer target %q is not a directory", dir)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := append(append([]string{}, t.Args...), dir)
	t.logger.Info("running external analyzer",
		logging.Field{Key: "slug", Value: slug},
		logging.Field{Key: "binary", Value: t.Binary})

	out, err := exec.CommandContext(ctx, t.Binary, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("external analyzer for %q: %w", slug, err)
	}
	return out, nil
}
