package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/scour/internal/config"
	"github.com/FranksOps/scour/internal/fingerprint"
	"github.com/FranksOps/scour/internal/materializer"
	"github.com/FranksOps/scour/internal/scraper"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/internal/session"
	"github.com/FranksOps/scour/internal/storage"
	"github.com/FranksOps/scour/internal/storage/csvbackend"
	"github.com/FranksOps/scour/internal/storage/jsonbackend"
	"github.com/FranksOps/scour/internal/storage/postgres"
	"github.com/FranksOps/scour/internal/storage/sqlite"
	"github.com/FranksOps/scour/pkg/proxy"
	"github.com/FranksOps/scour/pkg/ratelimit"
	"github.com/FranksOps/scour/pkg/useragent"
)

// runtime is everything a command needs to run queries.
type runtime struct {
	images       *serp.GoogleImages
	web          *serp.BingWeb
	materializer *materializer.Materializer
	history      storage.Backend
	limiter      *ratelimit.Limiter
}

// Close releases the history backend and stops the limiter.
func (r *runtime) Close() error {
	r.limiter.Stop()
	if r.history != nil {
		return r.history.Close()
	}
	return nil
}

// newSession starts a Session over the runtime's engines.
func (r *runtime) newSession(cfg *config.Config, materialize bool, logger *slog.Logger) (*session.Session, error) {
	sc := session.Config{
		Images:       r.images,
		Web:          r.web,
		History:      r.history,
		QueryTimeout: cfg.Session.QueryTimeout,
		Logger:       logger,
	}
	if materialize {
		sc.Materializer = r.materializer
	}
	return session.New(sc)
}

// buildRuntime wires the fetcher, both engines, the materializer and the
// configured history backend.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	fetcher, limiter, err := buildFetcher(cfg.HTTP, logger)
	if err != nil {
		return nil, err
	}

	policy, err := serp.ParseAnchorPolicy(cfg.Engines.AnchorPolicy)
	if err != nil {
		limiter.Stop()
		return nil, err
	}
	engineCfg := serp.Config{
		ImageBaseURL: cfg.Engines.ImageBaseURL,
		WebBaseURL:   cfg.Engines.WebBaseURL,
		Charset:      cfg.Engines.Charset,
		AnchorPolicy: policy,
		Logger:       logger,
	}
	images, err := serp.NewGoogleImages(fetcher, engineCfg)
	if err != nil {
		limiter.Stop()
		return nil, err
	}
	web, err := serp.NewBingWeb(fetcher, engineCfg)
	if err != nil {
		limiter.Stop()
		return nil, err
	}
	mat, err := materializer.New(fetcher, materializer.Config{Workers: cfg.Materializer.Workers, Logger: logger})
	if err != nil {
		limiter.Stop()
		return nil, err
	}

	history, err := openHistory(ctx, cfg.Storage)
	if err != nil {
		limiter.Stop()
		return nil, err
	}

	return &runtime{
		images:       images,
		web:          web,
		materializer: mat,
		history:      history,
		limiter:      limiter,
	}, nil
}

// buildFetcher assembles the user agent pool, proxy pool and rate limiter
// around a fingerprinted fetcher.
func buildFetcher(hc config.HTTPConfig, logger *slog.Logger) (*scraper.Fetcher, *ratelimit.Limiter, error) {
	profile, err := fingerprint.ParseProfile(hc.Fingerprint)
	if err != nil {
		return nil, nil, err
	}

	uas := hc.UserAgents
	if len(uas) == 0 {
		uas, err = useragent.ForPlatform(useragent.Platform(hc.Platform))
		if err != nil {
			return nil, nil, err
		}
	}

	var proxies *proxy.Pool
	if len(hc.Proxies) > 0 || hc.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{MaxFailures: hc.ProxyMaxFailures, Cooldown: hc.ProxyCooldown})
		if err := proxies.Add(hc.Proxies...); err != nil {
			return nil, nil, fmt.Errorf("http.proxies: %w", err)
		}
		if hc.ProxyFile != "" {
			if err := proxies.LoadFile(hc.ProxyFile); err != nil {
				return nil, nil, fmt.Errorf("http.proxy_file: %w", err)
			}
		}
		logger.Info("proxy rotation enabled", "proxies", proxies.Len())
	}

	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: hc.RequestsPerSecond, Jitter: hc.Jitter})

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:        hc.Timeout,
		MaxRedirects:   hc.MaxRedirects,
		UseCookieJar:   hc.CookieJar,
		MaxBodyBytes:   hc.MaxBodyBytes,
		AcceptLanguage: hc.AcceptLanguage,
		ProxyPool:      proxies,
		UAPool:         useragent.NewPool(uas),
		Fingerprint:    profile,
		Limiter:        limiter,
		Logger:         logger,
	})
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}
	return fetcher, limiter, nil
}

// openHistory returns nil for the "none" driver.
func openHistory(ctx context.Context, sc config.StorageConfig) (storage.Backend, error) {
	switch sc.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		return sqlite.New(sc.DSN)
	case "postgres":
		return postgres.New(ctx, sc.DSN)
	case "json":
		return jsonbackend.New(sc.DSN)
	case "csv":
		return csvbackend.New(sc.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

// requireHistory opens the configured backend and fails when history is off.
func requireHistory(ctx context.Context, sc config.StorageConfig) (storage.Backend, error) {
	b, err := openHistory(ctx, sc)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("history is disabled: set storage.driver and storage.dsn")
	}
	return b, nil
}
