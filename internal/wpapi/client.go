// Package wpapi is the read-only client for the WordPress.org plugin and
// theme information API.
package wpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xeloxa/WP-Hunter/internal/httpclient"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
)

const (
	pluginInfoURL = "https://api.wordpress.org/plugins/info/1.2/"
	themeInfoURL  = "https://api.wordpress.org/themes/info/1.2/"

	// PerPage is the registry's page size.
	PerPage = 100

	maxRetries = 3
)

// Config tunes the client.
type Config struct {
	// RequestsPerSecond paces page fetches across all workers.
	RequestsPerSecond float64

	// Burst allows short spikes above the sustained rate.
	Burst int
}

// DefaultConfig returns polite crawl settings.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 10}
}

// Client queries the registry with retry, rate limiting and a circuit
// breaker. All failures short of a tripped context degrade to an empty
// page; a bad page never aborts a scan.
type Client struct {
	http    *httpclient.Facility
	logger  logging.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Client over the shared HTTP facility.
func New(cfg Config, facility *httpclient.Facility, logger logging.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultConfig()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wpapi",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("registry circuit breaker state change",
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()})
		},
	})
	return &Client{
		http:    facility,
		logger:  logger.With(logging.Field{Key: "component", Value: "wpapi"}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: cb,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pluginFields is the fixed field-selection set for plugin queries.
var pluginFields = []string{
	"active_installs", "short_description", "description", "last_updated",
	"download_link", "ratings", "num_ratings", "support_threads",
	"support_threads_resolved", "tested", "requires", "requires_php",
	"author", "author_profile", "version", "tags", "sections",
	"donate_link", "homepage", "added", "downloaded",
}

func pluginQuery(page int, browse model.BrowseType) url.Values {
	v := url.Values{}
	v.Set("action", "query_plugins")
	v.Set("request[browse]", string(browse))
	v.Set("request[page]", strconv.Itoa(page))
	v.Set("request[per_page]", strconv.Itoa(PerPage))
	for _, f := range pluginFields {
		v.Set(fmt.Sprintf("request[fields][%s]", f), "true")
	}
	return v
}

var themeFields = []string{
	"description", "downloaded", "last_updated", "download_link",
	"version", "author", "tags", "screenshot_url",
}

func themeQuery(page int, browse model.BrowseType) url.Values {
	v := url.Values{}
	v.Set("action", "query_themes")
	v.Set("request[browse]", string(browse))
	v.Set("request[page]", strconv.Itoa(page))
	v.Set("request[per_page]", strconv.Itoa(PerPage))
	for _, f := range themeFields {
		v.Set(fmt.Sprintf("request[fields][%s]", f), "true")
	}
	return v
}

var errRateLimited = errors.New("registry rate limited")

// get performs a single GET through the limiter and breaker. Rate-limit
// responses come back as errRateLimited so the retry loop can back off;
// any other non-200 yields a nil body meaning "empty page".
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Client().Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errRateLimited
		default:
			c.logger.Warn("registry returned non-200, treating page as empty",
				logging.Field{Key: "status", Value: resp.StatusCode},
				logging.Field{Key: "url", Value: rawURL})
			return []byte(nil), nil
		}
	})
	if err != nil {
		return nil, err
	}
	b, _ := body.([]byte)
	return b, nil
}

// getWithRetry applies the registry backoff discipline: 429 waits
// 5×(attempt+1)s for up to 3 attempts, transient network errors wait 2s,
// anything else abandons the page.
func (c *Client) getWithRetry(ctx context.Context, rawURL string) []byte {
	for attempt := 0; attempt < maxRetries; attempt++ {
		body, err := c.get(ctx, rawURL)
		if err == nil {
			return body
		}
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		switch {
		case errors.Is(err, errRateLimited):
			wait = time.Duration(5*(attempt+1)) * time.Second
			c.logger.Warn("rate limited, backing off",
				logging.Field{Key: "wait", Value: wait.String()})
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.logger.Warn("circuit breaker open, dropping page")
			return nil
		default:
			wait = 2 * time.Second
			c.logger.Warn("network error, retrying",
				logging.Field{Key: "error", Value: err.Error()})
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil
		}
	}
	return nil
}

type pluginPage struct {
	Plugins []model.PluginRecord `json:"plugins"`
}

type themePage struct {
	Themes []model.ThemeRecord `json:"themes"`
}

// QueryPlugins fetches one page of up to 100 plugin records. Failures of
// any kind return an empty slice; the caller counts the page as dropped.
func (c *Client) QueryPlugins(ctx context.Context, page int, browse model.BrowseType) []model.PluginRecord {
	body := c.getWithRetry(ctx, pluginInfoURL+"?"+pluginQuery(page, browse).Encode())
	if len(body) == 0 {
		return nil
	}
	var parsed pluginPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("malformed plugin page, treating as empty",
			logging.Field{Key: "page", Value: page},
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return parsed.Plugins
}

// QueryThemes fetches one page of theme records.
func (c *Client) QueryThemes(ctx context.Context, page int, browse model.BrowseType) []model.ThemeRecord {
	body := c.getWithRetry(ctx, themeInfoURL+"?"+themeQuery(page, browse).Encode())
	if len(body) == 0 {
		return nil
	}
	var parsed themePage
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("malformed theme page, treating as empty",
			logging.Field{Key: "page", Value: page},
			logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return parsed.Themes
}

// PluginInformation fetches a single plugin's full record by slug.
func (c *Client) PluginInformation(ctx context.Context, slug string) (*model.PluginRecord, error) {
	v := url.Values{}
	v.Set("action", "plugin_information")
	v.Set("request[slug]", slug)

	body := c.getWithRetry(ctx, pluginInfoURL+"?"+v.Encode())
	if len(body) == 0 {
		return nil, fmt.Errorf("plugin %q: no data", slug)
	}
	var rec model.PluginRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("plugin %q: decode: %w", slug, err)
	}
	if rec.Slug == "" {
		return nil, fmt.Errorf("plugin %q: not found", slug)
	}
	return &rec, nil
}
