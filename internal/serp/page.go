package serp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/scour/internal/metrics"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultCharset is the body encoding label. WHATWG maps "ascii" to the
// single-byte windows-1252 decoder, so non-ASCII text may come out mangled.
const DefaultCharset = "ascii"

// Config is shared by both engines.
type Config struct {
	ImageBaseURL string
	WebBaseURL   string
	// Charset is a WHATWG encoding label used to decode every result page.
	Charset      string
	AnchorPolicy AnchorPolicy
	Logger       *slog.Logger
}

const (
	DefaultImageBaseURL = "https://www.google.com/search"
	DefaultWebBaseURL   = "https://www.bing.com/search"
)

func (c *Config) withDefaults() {
	if c.ImageBaseURL == "" {
		c.ImageBaseURL = DefaultImageBaseURL
	}
	if c.WebBaseURL == "" {
		c.WebBaseURL = DefaultWebBaseURL
	}
	if c.Charset == "" {
		c.Charset = DefaultCharset
	}
	if c.AnchorPolicy == "" {
		c.AnchorPolicy = AnchorSkip
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LookupCharset resolves a WHATWG encoding label.
func LookupCharset(label string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("serp: unsupported charset %q: %w", label, err)
	}
	return enc, nil
}

// buildURL appends q (and extra params) to base.
func buildURL(base, query string, extra url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	v := u.Query()
	v.Set("q", query)
	for k, vals := range extra {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// resultPage fetches target and returns the parsed document. Every failure
// is a *FetchError.
type resultPage struct {
	fetcher PageFetcher
	enc     encoding.Encoding
	logger  *slog.Logger
}

func (p *resultPage) load(ctx context.Context, query, target string) (*goquery.Document, error) {
	fail := func(kind ErrorKind, err error) (*goquery.Document, error) {
		return nil, &FetchError{Kind: kind, Query: query, URL: target, Err: err}
	}

	page, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return fail(ErrNetwork, err)
	}
	if page.Blocked {
		return fail(ErrBlocked, fmt.Errorf("challenged by %s (status %d)", page.BlockSource, page.StatusCode))
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return fail(ErrNetwork, fmt.Errorf("unexpected status %d", page.StatusCode))
	}
	if ct := page.ContentType(); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return fail(ErrParse, fmt.Errorf("unexpected content type %q", ct))
	}

	decoded, err := p.enc.NewDecoder().Bytes(page.Body)
	if err != nil {
		return fail(ErrDecode, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return fail(ErrParse, err)
	}

	p.logger.Debug("result page loaded", "url", target, "status", page.StatusCode, "bytes", len(page.Body))
	return doc, nil
}

// outcome is the metrics label for a finished query.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

func observe(kind Kind, err error, results int) {
	metrics.RecordQuery(string(kind), outcome(err), results)
}
