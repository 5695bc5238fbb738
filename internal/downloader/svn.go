package downloader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/logging"
)

const (
	svnBaseURL = "https://plugins.svn.wordpress.org"
	svnTimeout = 120 * time.Second
)

// SVNClient exports plugin source trees from the registry's version
// control. The slug crosses a subprocess boundary, so it is validated
// before interpolation into any URL or argument.
type SVNClient struct {
	baseDir string
	logger  logging.Logger

	// run is swappable in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewSVNClient constructs a client exporting under baseDir.
func NewSVNClient(baseDir string, logger logging.Logger) *SVNClient {
	return &SVNClient{
		baseDir: baseDir,
		logger:  logger.With(logging.Field{Key: "component", Value: "svn"}),
		run: func(ctx context.Context, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, "svn", args...).CombinedOutput()
		},
	}
}

// exportURL builds the per-slug export target: trunk when version is
// empty, the tagged release otherwise.
func exportURL(slug, version string) string {
	if version == "" {
		return fmt.Sprintf("%s/%s/trunk/", svnBaseURL, slug)
	}
	return fmt.Sprintf("%s/%s/tags/%s/", svnBaseURL, slug, version)
}

// Export checks out one plugin's source tree and returns the local path.
func (c *SVNClient) Export(ctx context.Context, slug, version string) (string, error) {
	if !ValidSlug(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if version != "" && !validVersion(version) {
		return "", fmt.Errorf("invalid version %q", version)
	}

	dest := filepath.Join(c.baseDir, slug+"-svn")
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, svnTimeout)
	defer cancel()

	url := exportURL(slug, version)
	c.logger.Info("svn export",
		logging.Field{Key: "slug", Value: slug},
		logging.Field{Key: "url", Value: url})

	out, err := c.run(ctx, "export", "--force", url, dest)
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("svn export %s: %w: %s", slug, err, strings.TrimSpace(string(out)))
	}
	return dest, nil
}

// ListVersions returns the tagged release names for a plugin.
func (c *SVNClient) ListVersions(ctx context.Context, slug string) ([]string, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}

	ctx, cancel := context.WithTimeout(ctx, svnTimeout)
	defer cancel()

	out, err := c.run(ctx, "ls", fmt.Sprintf("%s/%s/tags/", svnBaseURL, slug))
	if err != nil {
		return nil, fmt.Errorf("svn ls %s: %w", slug, err)
	}

	var versions []string
	for _, line := range strings.Split(string(out), "\n") {
		v := strings.TrimSuffix(strings.TrimSpace(line), "/")
		if v != "" {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

// validVersion permits dotted numeric-ish release tags ("1.2.3", "2.0-rc1").
func validVersion(v string) bool {
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
