package serp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	imageSelector     = "img"
	imageSourceAttr   = "data-src"
	webItemSelector   = "li"
	organicClass      = "b_algo"
	anchorSelector    = "a"
	paragraphSelector = "p"
)

// errNoAnchor marks an organic item whose fragment has no anchor with an href.
var errNoAnchor = errors.New("organic result has no anchor")

// ExtractImageURLs returns the lazy-load source of every img element in
// document order. Elements without a non-empty data-src are skipped and
// counted.
func ExtractImageURLs(doc *goquery.Document) (urls []string, skipped int) {
	urls = []string{}
	doc.Find(imageSelector).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr(imageSourceAttr)
		if !ok || strings.TrimSpace(src) == "" {
			skipped++
			return
		}
		urls = append(urls, src)
	})
	return urls, skipped
}

// ExtractWebResults returns one WebResult per li.b_algo element in document
// order. Each item's inner markup is parsed as its own fragment. Items without
// an anchor are skipped under AnchorSkip and abort extraction under
// AnchorStrict.
func ExtractWebResults(doc *goquery.Document, policy AnchorPolicy) (results []WebResult, skipped int, err error) {
	results = []WebResult{}
	doc.Find(webItemSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if !s.HasClass(organicClass) {
			return true
		}

		res, itemErr := extractWebResult(s)
		if itemErr == nil {
			results = append(results, res)
			return true
		}

		if policy == AnchorStrict || !errors.Is(itemErr, errNoAnchor) {
			err = fmt.Errorf("item %d: %w", i, itemErr)
			return false
		}
		skipped++
		return true
	})
	if err != nil {
		return nil, skipped, err
	}
	return results, skipped, nil
}

func extractWebResult(item *goquery.Selection) (WebResult, error) {
	inner, err := item.Html()
	if err != nil {
		return WebResult{}, fmt.Errorf("render item: %w", err)
	}
	frag, err := goquery.NewDocumentFromReader(strings.NewReader(inner))
	if err != nil {
		return WebResult{}, fmt.Errorf("parse item fragment: %w", err)
	}

	anchor := frag.Find(anchorSelector).First()
	if anchor.Length() == 0 {
		return WebResult{}, errNoAnchor
	}
	href, ok := anchor.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return WebResult{}, errNoAnchor
	}

	description := DescriptionPlaceholder
	if p := frag.Find(paragraphSelector).First(); p.Length() > 0 {
		description = normalizeText(p.Text())
	}

	return WebResult{
		Title:       normalizeText(anchor.Text()),
		Description: description,
		Link:        href,
	}, nil
}

// normalizeText trims and collapses internal whitespace runs to one space.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
