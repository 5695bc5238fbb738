// Package httpclient provides the single shared, connection-pooled HTTP
// client used by every network-facing component. The pool size is a hard
// ceiling independent of any one scan's worker count, bounding total
// file-descriptor usage under concurrent scans.
package httpclient

import (
	"net/http"
	"time"

	"github.com/xeloxa/WP-Hunter/internal/config"
	"github.com/xeloxa/WP-Hunter/internal/logging"
)

// Options configure the shared pool.
type Options struct {
	// PoolSize caps idle connections; clamped to config.MaxPoolSize.
	PoolSize int

	// Timeout is the default per-request deadline applied to the pooled
	// client. Callers with longer payloads use NoFollow with their own
	// timeout.
	Timeout time.Duration
}

// DefaultOptions returns the standard pool settings.
func DefaultOptions() Options {
	return Options{
		PoolSize: config.MaxPoolSize,
		Timeout:  30 * time.Second,
	}
}

// Facility owns the process-wide connection pool. It is constructed
// explicitly by whichever top-level session starts a scan and passed down;
// there is no lazy global singleton.
type Facility struct {
	transport *http.Transport
	client    *http.Client
	logger    logging.Logger
}

// New builds a Facility with a bounded connection pool.
func New(opts Options, logger logging.Logger) *Facility {
	size := opts.PoolSize
	if size <= 0 || size > config.MaxPoolSize {
		size = config.MaxPoolSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        size,
		MaxIdleConnsPerHost: size,
		MaxConnsPerHost:     size,
		IdleConnTimeout:     90 * time.Second,
	}

	logger.Info("http client pool created",
		logging.Field{Key: "pool_size", Value: size},
		logging.Field{Key: "timeout", Value: timeout.String()})

	return &Facility{
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// Client returns the pooled client with automatic redirect following.
func (f *Facility) Client() *http.Client {
	return f.client
}

// NoFollow returns a client over the same pool that never follows
// redirects and uses the supplied timeout. Safe retrieval uses this to
// re-validate every redirect hop itself.
func (f *Facility) NoFollow(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: f.transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Close drains the idle connection pool.
func (f *Facility) Close() {
	f.transport.CloseIdleConnections()
	f.logger.Info("http client pool closed")
}
