// Package materializer turns image result URLs into decoded images using a
// bounded pool of workers.
package materializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/FranksOps/scour/internal/metrics"
	"github.com/FranksOps/scour/internal/scraper"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultWorkers bounds concurrent image downloads.
const DefaultWorkers = 8

// Image is a successfully downloaded and decoded image.
type Image struct {
	URL     string
	Format  string // registered codec name: jpeg, png, gif, webp, bmp
	Width   int
	Height  int
	Data    []byte
	Decoded image.Image
}

// Stats summarizes one Run.
type Stats struct {
	Requested int
	Decoded   int
	Dropped   int
}

// Fetcher is the subset of *scraper.Fetcher the materializer needs.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string, opts ...scraper.RequestOption) (*scraper.Page, error)
}

// Config configures a Materializer.
type Config struct {
	Workers int
	Logger  *slog.Logger
}

// Materializer downloads and decodes images.
type Materializer struct {
	fetcher Fetcher
	workers int
	logger  *slog.Logger
}

// New returns a Materializer using fetcher for downloads.
func New(fetcher Fetcher, cfg Config) (*Materializer, error) {
	if fetcher == nil {
		return nil, errors.New("materializer: fetcher is nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Materializer{
		fetcher: fetcher,
		workers: cfg.Workers,
		logger:  cfg.Logger.With("component", "materializer"),
	}, nil
}

// Run fetches and decodes every URL, calling emit once per decoded image in
// completion order. Failed downloads and undecodable bodies are dropped.
// emit is serialized; it is never called concurrently and never after Run
// returns. Cancelling ctx stops workers that have not started yet.
func (m *Materializer) Run(ctx context.Context, urls []string, emit func(Image)) Stats {
	stats := Stats{Requested: len(urls)}
	if len(urls) == 0 {
		return stats
	}

	var (
		mu      sync.Mutex
		decoded atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			img, err := m.materialize(gctx, u)
			if err != nil {
				metrics.ImagesMaterialized.WithLabelValues("dropped").Inc()
				m.logger.Debug("dropping image", "url", u, "err", err)
				return nil
			}
			metrics.ImagesMaterialized.WithLabelValues("decoded").Inc()
			decoded.Add(1)

			mu.Lock()
			defer mu.Unlock()
			if emit != nil {
				emit(img)
			}
			return nil
		})
	}
	// Workers never return errors; failures only affect the stats.
	_ = g.Wait()

	stats.Decoded = int(decoded.Load())
	stats.Dropped = stats.Requested - stats.Decoded
	return stats
}

func (m *Materializer) materialize(ctx context.Context, u string) (Image, error) {
	page, err := m.fetcher.Fetch(ctx, u, scraper.WithAccept(scraper.AcceptImage), scraper.WithoutDetection())
	if err != nil {
		return Image{}, err
	}
	if page.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("unexpected status %d", page.StatusCode)
	}
	return Decode(u, page.Body)
}

// Decode decodes data with any registered image codec.
func Decode(u string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, errors.New("empty body")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	return Image{
		URL:     u,
		Format:  format,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Data:    data,
		Decoded: img,
	}, nil
}
