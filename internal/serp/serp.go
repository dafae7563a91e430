// Package serp fetches search engine result pages and extracts structured
// results from their markup.
package serp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/FranksOps/scour/internal/scraper"
)

// Kind identifies which result flow a query runs through.
type Kind string

const (
	KindImage Kind = "image"
	KindWeb   Kind = "web"
)

// ParseKind maps user input to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage, "images":
		return KindImage, nil
	case KindWeb:
		return KindWeb, nil
	default:
		return "", fmt.Errorf("serp: unknown search kind %q", s)
	}
}

// DescriptionPlaceholder is used when an organic result has no paragraph.
const DescriptionPlaceholder = "Error loading description"

// WebResult is one organic web search hit.
type WebResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// NormalizeQuery removes every whitespace rune from raw. Queries are sent
// exactly as typed minus whitespace; an empty result must not be dispatched.
func NormalizeQuery(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

// ImageSearcher returns image URLs for a query.
type ImageSearcher interface {
	FetchImageResultURLs(ctx context.Context, query string) ([]string, error)
}

// WebSearcher returns organic web results for a query.
type WebSearcher interface {
	FetchWebResults(ctx context.Context, query string) ([]WebResult, error)
}

// PageFetcher is the transport the engines use. *scraper.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL string, opts ...scraper.RequestOption) (*scraper.Page, error)
}

// ErrorKind classifies a FetchError.
type ErrorKind string

const (
	ErrNetwork    ErrorKind = "network"
	ErrDecode     ErrorKind = "decode"
	ErrParse      ErrorKind = "parse"
	ErrExtraction ErrorKind = "extraction"
	ErrBlocked    ErrorKind = "blocked"
)

// FetchError is the single error type returned by the engines.
type FetchError struct {
	Kind  ErrorKind
	Query string
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("serp: %s error fetching %q: %v", e.Kind, e.Query, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" when err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// AnchorPolicy decides what happens to an organic result whose fragment has
// no usable anchor.
type AnchorPolicy string

const (
	// AnchorSkip drops the item and keeps extracting.
	AnchorSkip AnchorPolicy = "skip"
	// AnchorStrict aborts the whole fetch with an ErrExtraction FetchError.
	AnchorStrict AnchorPolicy = "strict"
)

// ParseAnchorPolicy maps a config string to an AnchorPolicy; empty is AnchorSkip.
func ParseAnchorPolicy(s string) (AnchorPolicy, error) {
	switch p := AnchorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", AnchorSkip:
		return AnchorSkip, nil
	case AnchorStrict:
		return AnchorStrict, nil
	default:
		return "", fmt.Errorf("serp: unknown anchor policy %q", s)
	}
}
