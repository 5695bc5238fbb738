// Package downloader retrieves and extracts package archives. Every URL it
// touches is treated as untrusted, including ones supplied by the registry
// itself: requests are validated against forgery targets before every hop,
// and archive members are containment-checked before any bytes are
// written.
package downloader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/httpclient"
	"github.com/xeloxa/WP-Hunter/internal/logging"
)

// Distinct sentinel errors: a security rejection must never be mistaken
// for "not found" or a network failure.
var (
	ErrBlockedURL       = errors.New("url blocked by safe-retrieval policy")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrPathEscape       = errors.New("archive member escapes extraction root")
	ErrInvalidSlug      = errors.New("slug contains characters outside [A-Za-z0-9_-]")
)

const (
	maxRedirects    = 5
	copyChunkSize   = 32 * 1024
	defaultTimeout  = 120 * time.Second
	maxArchiveBytes = 512 << 20
)

// metadataHosts is the fixed deny-list of cloud metadata endpoints.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"169.254.169.254":          true,
	"instance-data":            true,
	"metadata":                 true,
}

// Downloader fetches archives over the shared HTTP pool and extracts them
// under its base directory, one subdirectory per slug.
type Downloader struct {
	http    *httpclient.Facility
	logger  logging.Logger
	baseDir string
	timeout time.Duration

	// validate and lookupIP are swappable in tests.
	validate func(ctx context.Context, u *url.URL) error
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// New constructs a Downloader rooted at baseDir.
func New(facility *httpclient.Facility, baseDir string, logger logging.Logger) *Downloader {
	d := &Downloader{
		http:    facility,
		logger:  logger.With(logging.Field{Key: "component", Value: "downloader"}),
		baseDir: baseDir,
		timeout: defaultTimeout,
	}
	d.validate = d.validateURL
	d.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = a.IP
		}
		return ips, nil
	}
	return d
}

// SetTimeout overrides the default per-download deadline.
func (d *Downloader) SetTimeout(t time.Duration) {
	if t > 0 {
		d.timeout = t
	}
}

// ValidSlug reports whether s is safe to interpolate into paths and
// subprocess arguments.
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

// validateURL enforces the request-forgery boundary. It runs before the
// first request and again after every redirect hop.
func (d *Downloader) validateURL(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}
	if metadataHosts[host] {
		return fmt.Errorf("%w: metadata host %q", ErrBlockedURL, host)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := d.lookupIP(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: host %q does not resolve", ErrBlockedURL, host)
		}
		ips = resolved
	}

	for _, ip := range ips {
		if blockedIP(ip) {
			return fmt.Errorf("%w: %q resolves to %s", ErrBlockedURL, host, ip)
		}
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() ||
		isReserved(ip)
}

// isReserved covers ranges the net package's predicates miss.
func isReserved(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 0: // 0.0.0.0/8
			return true
		case v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127: // CGNAT 100.64.0.0/10
			return true
		case v4[0] == 192 && v4[1] == 0 && v4[2] == 0: // 192.0.0.0/24
			return true
		case v4[0] >= 240: // 240.0.0.0/4
			return true
		}
	}
	return false
}

// FetchAndExtract downloads the archive at rawURL and extracts it to a
// per-slug directory, returning the package root. Any failure cleans up
// partial state; nothing is left half-extracted.
func (d *Downloader) FetchAndExtract(ctx context.Context, rawURL, slug string) (string, error) {
	if !ValidSlug(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}

	archivePath, err := d.download(ctx, rawURL, slug)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	destDir := filepath.Join(d.baseDir, slug)
	if err := os.RemoveAll(destDir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", destDir, err)
	}
	if err := d.extract(archivePath, destDir); err != nil {
		os.RemoveAll(destDir)
		return "", err
	}
	if err := hoistSingleDir(destDir); err != nil {
		os.RemoveAll(destDir)
		return "", err
	}

	d.logger.Info("package extracted",
		logging.Field{Key: "slug", Value: slug},
		logging.Field{Key: "path", Value: destDir})
	return destDir, nil
}

// download streams the archive to a staging file, following redirects
// manually so every hop passes URL validation.
func (d *Downloader) download(ctx context.Context, rawURL, slug string) (string, error) {
	client := d.http.NoFollow(d.timeout)

	current, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing download url: %w", err)
	}

	var resp *http.Response
	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return "", fmt.Errorf("%w: more than %d hops for %s", ErrTooManyRedirects, maxRedirects, rawURL)
		}
		if err := d.validate(ctx, current); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return "", err
		}
		resp, err = client.Do(req)
		if err != nil {
			return "", fmt.Errorf("downloading %s: %w", current, err)
		}

		if !isRedirect(resp.StatusCode) {
			break
		}
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return "", fmt.Errorf("redirect from %s without location", current)
		}
		next, err := current.Parse(location)
		if err != nil {
			return "", fmt.Errorf("resolving redirect %q: %w", location, err)
		}
		current = next
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: status %d", current, resp.StatusCode)
	}

	if err := os.MkdirAll(d.baseDir, 0o755); err != nil {
		return "", err
	}
	staging, err := os.CreateTemp(d.baseDir, slug+"-*.zip.part")
	if err != nil {
		return "", err
	}

	buf := make([]byte, copyChunkSize)
	_, err = io.CopyBuffer(staging, io.LimitReader(resp.Body, maxArchiveBytes), buf)
	if cerr := staging.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staging.Name())
		return "", fmt.Errorf("writing archive for %s: %w", slug, err)
	}
	return staging.Name(), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// extract unpacks the zip at archivePath into destDir, rejecting the whole
// archive if any member path resolves outside destDir.
func (d *Downloader) extract(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(destDir)

	for _, member := range r.File {
		target, err := containedPath(root, member.Name)
		if err != nil {
			return err
		}
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeMember(member, target); err != nil {
			return err
		}
	}
	return nil
}

// containedPath resolves an archive member name against root, failing if
// the result would escape it. Runs before any bytes are written for the
// member.
func containedPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return target, nil
}

func writeMember(member *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("opening member %q: %w", member.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing member %q: %w", member.Name, err)
	}
	return nil
}

// hoistSingleDir flattens an archive whose only top-level entry is a
// directory, so callers always see the package root directly.
func hoistSingleDir(destDir string) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(destDir, entries[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	for _, child := range children {
		from := filepath.Join(inner, child.Name())
		to := filepath.Join(destDir, child.Name())
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("hoisting %q: %w", child.Name(), err)
		}
	}
	return os.Remove(inner)
}
