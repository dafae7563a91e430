package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/scour/internal/bypass"
	"github.com/FranksOps/scour/internal/fingerprint"
	"github.com/FranksOps/scour/internal/metrics"
	"github.com/FranksOps/scour/pkg/httpclient"
	"github.com/FranksOps/scour/pkg/proxy"
	"github.com/FranksOps/scour/pkg/ratelimit"
	"github.com/FranksOps/scour/pkg/useragent"
	"github.com/google/uuid"
)

const (
	AcceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// Page is the raw outcome of one GET.
type Page struct {
	ID          string
	URL         string
	FinalURL    *url.URL
	StatusCode  int
	Header      http.Header
	Body        []byte
	Duration    time.Duration
	Blocked     bool
	BlockSource string // e.g. "GoogleCaptcha", "BingChallenge", "Cloudflare"
	Proxy       string // password redacted
	CreatedAt   time.Time
	Error       string // non-empty if the fetch failed before a full body was read
}

// ContentType returns the response Content-Type header.
func (p *Page) ContentType() string {
	if p == nil || p.Header == nil {
		return ""
	}
	return p.Header.Get("Content-Type")
}

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout        time.Duration
	MaxRedirects   int
	UseCookieJar   bool
	MaxBodyBytes   int64
	AcceptLanguage string
	ProxyPool      *proxy.Pool
	UAPool         *useragent.Pool
	Fingerprint    fingerprint.Profile
	// InsecureSkipVerify disables TLS verification. Tests only.
	InsecureSkipVerify bool
	Limiter            *ratelimit.Limiter
	Detectors          []bypass.Detector
	Logger             *slog.Logger
}

// Fetcher performs GETs with the configured fingerprint, User-Agent rotation
// and proxy rotation. It is safe for concurrent use.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher builds a Fetcher. One transport is shared across requests so
// connections and cookies are reused for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileSafari
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.5"
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxy.ProxyFunc(envProxy),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Header:       http.Header{"Accept-Language": {cfg.AcceptLanguage}},
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// envProxy honours HTTP(S)_PROXY except for loopback targets, so local test
// servers are never routed through a system proxy.
func envProxy(req *http.Request) (*url.URL, error) {
	switch req.URL.Hostname() {
	case "127.0.0.1", "localhost", "::1":
		return nil, nil
	}
	return http.ProxyFromEnvironment(req)
}

type requestOptions struct {
	accept string
	detect bool
}

// RequestOption adjusts a single Fetch call.
type RequestOption func(*requestOptions)

// WithAccept overrides the Accept header.
func WithAccept(accept string) RequestOption {
	return func(o *requestOptions) { o.accept = accept }
}

// WithoutDetection skips block detection, e.g. for image bytes.
func WithoutDetection() RequestOption {
	return func(o *requestOptions) { o.detect = false }
}

// Fetch GETs targetURL. The returned Page is never nil; on transport or read
// failure Page.Error is set and the same failure is returned as err.
// Non-2xx statuses are not errors at this layer.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, opts ...RequestOption) (*Page, error) {
	o := requestOptions{accept: AcceptHTML, detect: true}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	page := &Page{
		ID:        uuid.New().String(),
		URL:       targetURL,
		CreatedAt: start.UTC(),
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		return f.fail(page, start, fmt.Errorf("scraper: invalid url: %w", err))
	}

	if err := f.config.Limiter.Wait(ctx); err != nil {
		return f.fail(page, start, fmt.Errorf("scraper: rate limiter: %w", err))
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if activeProxy = f.config.ProxyPool.Next(); activeProxy != nil {
			ctx = proxy.WithProxy(ctx, activeProxy)
			page.Proxy = activeProxy.Redacted()
		}
	}

	header := http.Header{
		"User-Agent": {f.config.UAPool.Next()},
		"Accept":     {o.accept},
	}

	resp, err := f.client.Get(ctx, targetURL, header)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		metrics.RecordFetch(u.Hostname(), 0, "", time.Since(start), 0)
		return f.fail(page, start, fmt.Errorf("scraper: request failed: %w", err))
	}
	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	page.StatusCode = resp.StatusCode
	page.Header = resp.Header
	page.FinalURL = resp.Request.URL

	body, err := f.client.ReadBody(resp)
	page.Body = body
	page.Duration = time.Since(start)
	if err != nil && !errors.Is(err, httpclient.ErrBodyTooLarge) {
		metrics.RecordFetch(u.Hostname(), page.StatusCode, "", page.Duration, len(body))
		return f.fail(page, start, fmt.Errorf("scraper: %w", err))
	}
	if err != nil {
		f.logger.Warn("response truncated", "url", targetURL, "bytes", len(body))
	}

	if o.detect {
		page.Blocked, page.BlockSource = bypass.Analyze(&bypass.Response{
			URL:        page.FinalURL,
			StatusCode: page.StatusCode,
			Header:     page.Header,
			Body:       page.Body,
		}, f.config.Detectors)
	}

	metrics.RecordFetch(u.Hostname(), page.StatusCode, page.BlockSource, page.Duration, len(body))
	f.logger.Debug("fetched", "url", targetURL, "status", page.StatusCode, "bytes", len(body), "duration", page.Duration)

	return page, nil
}

func (f *Fetcher) fail(page *Page, start time.Time, err error) (*Page, error) {
	page.Error = err.Error()
	page.Duration = time.Since(start)
	f.logger.Debug("fetch failed", "url", page.URL, "err", err)
	return page, err
}
