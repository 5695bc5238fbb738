package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/xeloxa/WP-Hunter/internal/httpclient"
	"github.com/xeloxa/WP-Hunter/internal/logging"
)

func testDownloader(t *testing.T) *Downloader {
	t.Helper()
	logger := logging.NewNop()
	facility := httpclient.New(httpclient.DefaultOptions(), logger)
	t.Cleanup(facility.Close)
	return New(facility, t.TempDir(), logger)
}

// allowAll disables URL validation so tests can hit loopback servers; the
// validation logic itself is covered directly below.
func allowAll(d *Downloader) {
	d.validate = func(ctx context.Context, u *url.URL) error { return nil }
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateURLBlocks(t *testing.T) {
	d := testDownloader(t)
	cases := []string{
		"ftp://example.com/a.zip",
		"file:///etc/passwd",
		"http://127.0.0.1/a.zip",
		"http://[::1]/a.zip",
		"http://10.0.0.5/a.zip",
		"http://192.168.1.1/a.zip",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/",
		"http://metadata/latest/",
		"http://0.0.0.0/a.zip",
		"http://100.64.0.1/a.zip",
	}
	for _, raw := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		err = d.validateURL(context.Background(), u)
		if !errors.Is(err, ErrBlockedURL) {
			t.Errorf("validateURL(%s) = %v, want ErrBlockedURL", raw, err)
		}
	}
}

func TestValidateURLResolvedPrivateBlocked(t *testing.T) {
	d := testDownloader(t)
	d.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34"), net.ParseIP("10.0.0.9")}, nil
	}
	u, _ := url.Parse("http://innocent-looking.example/a.zip")
	if err := d.validateURL(context.Background(), u); !errors.Is(err, ErrBlockedURL) {
		t.Errorf("host resolving to private IP should be blocked, got %v", err)
	}
}

func TestValidateURLPublicAllowed(t *testing.T) {
	d := testDownloader(t)
	d.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	u, _ := url.Parse("https://downloads.example/pkg.zip")
	if err := d.validateURL(context.Background(), u); err != nil {
		t.Errorf("public host should pass, got %v", err)
	}
}

func TestValidateURLUnresolvableBlocked(t *testing.T) {
	d := testDownloader(t)
	d.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
		return nil, errors.New("no such host")
	}
	u, _ := url.Parse("http://does-not-exist.example/a.zip")
	if err := d.validateURL(context.Background(), u); !errors.Is(err, ErrBlockedURL) {
		t.Errorf("unresolvable host should be blocked, got %v", err)
	}
}

func TestFetchAndExtract(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"my-plugin/my-plugin.php": "<?php // main",
		"my-plugin/inc/util.php":  "<?php // util",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	d := testDownloader(t)
	allowAll(d)

	dir, err := d.FetchAndExtract(context.Background(), srv.URL+"/my-plugin.zip", "my-plugin")
	if err != nil {
		t.Fatal(err)
	}
	// Single top-level directory is hoisted away.
	if _, err := os.Stat(filepath.Join(dir, "my-plugin.php")); err != nil {
		t.Errorf("expected hoisted main file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "inc", "util.php")); err != nil {
		t.Errorf("expected hoisted subdirectory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "my-plugin")); !os.IsNotExist(err) {
		t.Error("inner wrapper directory should be gone")
	}
}

func TestFetchAndExtractFlatArchive(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"a.php": "<?php",
		"b.php": "<?php",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	d := testDownloader(t)
	allowAll(d)
	dir, err := d.FetchAndExtract(context.Background(), srv.URL, "flat-pkg")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.php", "b.php"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestZipSlipRejected(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"ok.php":             "<?php",
		"../../escaped.php":  "<?php evil",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	d := testDownloader(t)
	allowAll(d)
	_, err := d.FetchAndExtract(context.Background(), srv.URL, "slippy")
	if !errors.Is(err, ErrPathEscape) {
		t.Fatalf("err = %v, want ErrPathEscape", err)
	}
	// Partial extraction must be cleaned up.
	if _, err := os.Stat(filepath.Join(d.baseDir, "slippy")); !os.IsNotExist(err) {
		t.Error("partial extraction left behind after path-escape rejection")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(d.baseDir), "escaped.php")); !os.IsNotExist(err) {
		t.Error("escaped file was written outside the extraction root")
	}
}

func TestRedirectFollowedWithRevalidation(t *testing.T) {
	archive := zipArchive(t, map[string]string{"f.php": "<?php"})
	var finalHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/real", http.StatusFound)
	})
	mux.HandleFunc("/real", func(w http.ResponseWriter, r *http.Request) {
		finalHit = true
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := testDownloader(t)
	var validated []string
	d.validate = func(ctx context.Context, u *url.URL) error {
		validated = append(validated, u.Path)
		return nil
	}

	if _, err := d.FetchAndExtract(context.Background(), srv.URL+"/start", "redir-pkg"); err != nil {
		t.Fatal(err)
	}
	if !finalHit {
		t.Error("redirect target never fetched")
	}
	if len(validated) != 2 {
		t.Errorf("validation ran %d times, want once per hop (2)", len(validated))
	}
}

func TestRedirectToBlockedTargetAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/", http.StatusFound)
	}))
	defer srv.Close()

	d := testDownloader(t)
	hops := 0
	d.validate = func(ctx context.Context, u *url.URL) error {
		hops++
		if hops == 1 {
			return nil // let the first request through
		}
		return d.validateURL(ctx, u)
	}

	_, err := d.FetchAndExtract(context.Background(), srv.URL, "ssrf-pkg")
	if !errors.Is(err, ErrBlockedURL) {
		t.Fatalf("err = %v, want ErrBlockedURL on redirect target", err)
	}
}

func TestTooManyRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	d := testDownloader(t)
	allowAll(d)
	_, err := d.FetchAndExtract(context.Background(), srv.URL+"/loop", "loop-pkg")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("err = %v, want ErrTooManyRedirects", err)
	}
}

func TestInvalidSlugRejectedBeforeIO(t *testing.T) {
	d := testDownloader(t)
	allowAll(d)
	for _, slug := range []string{"", "../traversal", "a b", "x;rm -rf"} {
		if _, err := d.FetchAndExtract(context.Background(), "http://example.com/a.zip", slug); !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("slug %q: err = %v, want ErrInvalidSlug", slug, err)
		}
	}
}

func TestCorruptArchiveCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a zip file"))
	}))
	defer srv.Close()

	d := testDownloader(t)
	allowAll(d)
	if _, err := d.FetchAndExtract(context.Background(), srv.URL, "corrupt-pkg"); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if _, err := os.Stat(filepath.Join(d.baseDir, "corrupt-pkg")); !os.IsNotExist(err) {
		t.Error("partial state left behind after corrupt archive")
	}
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("staging leftover: %s", e.Name())
	}
}

func TestSVNExportURLPatterns(t *testing.T) {
	if got := exportURL("my-plugin", ""); got != "https://plugins.svn.wordpress.org/my-plugin/trunk/" {
		t.Errorf("trunk url = %s", got)
	}
	if got := exportURL("my-plugin", "1.2.3"); got != "https://plugins.svn.wordpress.org/my-plugin/tags/1.2.3/" {
		t.Errorf("tag url = %s", got)
	}
}

func TestSVNExportValidatesSlug(t *testing.T) {
	c := NewSVNClient(t.TempDir(), logging.NewNop())
	c.run = func(ctx context.Context, args ...string) ([]byte, error) {
		t.Fatalf("subprocess must not run for bad slug, got args %v", args)
		return nil, nil
	}
	if _, err := c.Export(context.Background(), "bad;slug", ""); !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("err = %v, want ErrInvalidSlug", err)
	}
	if _, err := c.Export(context.Background(), "ok-slug", "1.0; rm"); err == nil {
		t.Error("expected error for bad version")
	}
}

func TestSVNListVersions(t *testing.T) {
	c := NewSVNClient(t.TempDir(), logging.NewNop())
	c.run = func(ctx context.Context, args ...string) ([]byte, error) {
		if args[0] != "ls" {
			return nil, fmt.Errorf("unexpected args %v", args)
		}
		return []byte("1.0/\n1.1/\n2.0-beta/\n"), nil
	}
	versions, err := c.ListVersions(context.Background(), "my-plugin")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1.0", "1.1", "2.0-beta"}
	if len(versions) != len(want) {
		t.Fatalf("versions = %v, want %v", versions, want)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("versions[%d] = %q, want %q", i, versions[i], want[i])
		}
	}
}
