package serp

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/FranksOps/scour/internal/metrics"
)

// GoogleImages scrapes the image-search vertical (tbm=isch).
type GoogleImages struct {
	base   string
	page   resultPage
	logger *slog.Logger
}

var _ ImageSearcher = (*GoogleImages)(nil)

// NewGoogleImages builds the image engine on top of fetcher.
func NewGoogleImages(fetcher PageFetcher, cfg Config) (*GoogleImages, error) {
	if fetcher == nil {
		return nil, errors.New("serp: fetcher is nil")
	}
	cfg.withDefaults()

	enc, err := LookupCharset(cfg.Charset)
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.ImageBaseURL); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("engine", "google_images")
	return &GoogleImages{
		base:   cfg.ImageBaseURL,
		page:   resultPage{fetcher: fetcher, enc: enc, logger: logger},
		logger: logger,
	}, nil
}

// SearchURL returns the request URL for an already-normalized query.
func (g *GoogleImages) SearchURL(query string) (string, error) {
	return buildURL(g.base, query, url.Values{"tbm": {"isch"}})
}

// FetchImageResultURLs returns the data-src of every img on the result page,
// in document order. A query that normalizes to empty returns an empty slice
// without touching the network.
func (g *GoogleImages) FetchImageResultURLs(ctx context.Context, query string) ([]string, error) {
	query = NormalizeQuery(query)
	if query == "" {
		return []string{}, nil
	}

	urls, err := g.fetch(ctx, query)
	observe(KindImage, err, len(urls))
	if err != nil {
		g.logger.Warn("image query failed", "query", query, "kind", KindOf(err), "err", err)
		return nil, err
	}
	return urls, nil
}

func (g *GoogleImages) fetch(ctx context.Context, query string) ([]string, error) {
	target, err := g.SearchURL(query)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, Query: query, Err: err}
	}

	doc, err := g.page.load(ctx, query, target)
	if err != nil {
		return nil, err
	}

	urls, skipped := ExtractImageURLs(doc)
	if skipped > 0 {
		metrics.ItemsSkipped.WithLabelValues(string(KindImage), "missing_data_src").Add(float64(skipped))
	}
	g.logger.Debug("image results extracted", "query", query, "urls", len(urls), "skipped", skipped)
	return urls, nil
}
