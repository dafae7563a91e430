package serp

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/FranksOps/scour/internal/metrics"
)

// BingWeb scrapes organic web results.
type BingWeb struct {
	base   string
	policy AnchorPolicy
	page   resultPage
	logger *slog.Logger
}

var _ WebSearcher = (*BingWeb)(nil)

// NewBingWeb builds the web engine on top of fetcher.
func NewBingWeb(fetcher PageFetcher, cfg Config) (*BingWeb, error) {
	if fetcher == nil {
		return nil, errors.New("serp: fetcher is nil")
	}
	cfg.withDefaults()

	enc, err := LookupCharset(cfg.Charset)
	if err != nil {
		return nil, err
	}
	policy, err := ParseAnchorPolicy(string(cfg.AnchorPolicy))
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.WebBaseURL); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("engine", "bing_web")
	return &BingWeb{
		base:   cfg.WebBaseURL,
		policy: policy,
		page:   resultPage{fetcher: fetcher, enc: enc, logger: logger},
		logger: logger,
	}, nil
}

// SearchURL returns the request URL for an already-normalized query.
func (b *BingWeb) SearchURL(query string) (string, error) {
	return buildURL(b.base, query, nil)
}

// FetchWebResults returns the organic results on the first result page in
// document order. A query that normalizes to empty returns an empty slice
// without touching the network.
func (b *BingWeb) FetchWebResults(ctx context.Context, query string) ([]WebResult, error) {
	query = NormalizeQuery(query)
	if query == "" {
		return []WebResult{}, nil
	}

	results, err := b.fetch(ctx, query)
	observe(KindWeb, err, len(results))
	if err != nil {
		b.logger.Warn("web query failed", "query", query, "kind", KindOf(err), "err", err)
		return nil, err
	}
	return results, nil
}

func (b *BingWeb) fetch(ctx context.Context, query string) ([]WebResult, error) {
	target, err := b.SearchURL(query)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, Query: query, Err: err}
	}

	doc, err := b.page.load(ctx, query, target)
	if err != nil {
		return nil, err
	}

	results, skipped, err := ExtractWebResults(doc, b.policy)
	if skipped > 0 {
		metrics.ItemsSkipped.WithLabelValues(string(KindWeb), "missing_anchor").Add(float64(skipped))
		b.logger.Warn("skipped organic results without anchor", "query", query, "skipped", skipped)
	}
	if err != nil {
		return nil, &FetchError{Kind: ErrExtraction, Query: query, URL: target, Err: err}
	}

	b.logger.Debug("web results extracted", "query", query, "results", len(results))
	return results, nil
}
