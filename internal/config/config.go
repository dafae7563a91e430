// Package config provides Viper-based configuration management for scour.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/scour/internal/fingerprint"
	"github.com/FranksOps/scour/internal/logger"
	"github.com/FranksOps/scour/internal/serp"
	"github.com/FranksOps/scour/pkg/useragent"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCOUR_HTTP_TIMEOUT.
const EnvPrefix = "SCOUR"

// Config represents the complete scour configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Engines      EnginesConfig      `mapstructure:"engines"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Session      SessionConfig      `mapstructure:"session"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Server       ServerConfig       `mapstructure:"server"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EnginesConfig points the engines at their result pages.
type EnginesConfig struct {
	ImageBaseURL string `mapstructure:"image_base_url"`
	WebBaseURL   string `mapstructure:"web_base_url"`
	Charset      string `mapstructure:"charset"`
	AnchorPolicy string `mapstructure:"anchor_policy"`
}

// HTTPConfig configures the shared page fetcher.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRedirects      int           `mapstructure:"max_redirects"`
	CookieJar         bool          `mapstructure:"cookie_jar"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	Platform          string        `mapstructure:"platform"`
	UserAgents        []string      `mapstructure:"user_agents"`
	Proxies           []string      `mapstructure:"proxies"`
	ProxyFile         string        `mapstructure:"proxy_file"`
	ProxyMaxFailures  int           `mapstructure:"proxy_max_failures"`
	ProxyCooldown     time.Duration `mapstructure:"proxy_cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Jitter            float64       `mapstructure:"jitter"`
}

// SessionConfig bounds a single query.
type SessionConfig struct {
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// MaterializerConfig sizes the image worker pool.
type MaterializerConfig struct {
	Workers int `mapstructure:"workers"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	// Driver is one of none, sqlite, postgres, json, csv.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig configures the standalone Prometheus listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// StorageDrivers lists the accepted storage.driver values.
var StorageDrivers = []string{"none", "sqlite", "postgres", "json", "csv"}

// Load reads configuration from file and environment variables. A missing
// config file is not an error. cfgFile overrides the search path.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scour")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/scour")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values. Every key must have a default so
// AutomaticEnv can override it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engines.image_base_url", serp.DefaultImageBaseURL)
	v.SetDefault("engines.web_base_url", serp.DefaultWebBaseURL)
	v.SetDefault("engines.charset", serp.DefaultCharset)
	v.SetDefault("engines.anchor_policy", string(serp.AnchorSkip))

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.cookie_jar", true)
	v.SetDefault("http.max_body_bytes", int64(10<<20))
	v.SetDefault("http.accept_language", "en-US,en;q=0.5")
	v.SetDefault("http.fingerprint", string(fingerprint.ProfileSafari))
	v.SetDefault("http.platform", string(useragent.PlatformMobile))
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("http.proxies", []string{})
	v.SetDefault("http.proxy_file", "")
	v.SetDefault("http.proxy_max_failures", 3)
	v.SetDefault("http.proxy_cooldown", 5*time.Minute)
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.jitter", 0.0)

	v.SetDefault("session.query_timeout", 30*time.Second)

	v.SetDefault("materializer.workers", 8)

	v.SetDefault("storage.driver", "none")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("metrics.port", 0)
}

// Validate checks every enumerated or bounded setting.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if _, err := serp.LookupCharset(c.Engines.Charset); err != nil {
		errs = append(errs, fmt.Errorf("engines.charset: %w", err))
	}
	if _, err := serp.ParseAnchorPolicy(c.Engines.AnchorPolicy); err != nil {
		errs = append(errs, fmt.Errorf("engines.anchor_policy: %w", err))
	}
	if _, err := fingerprint.ParseProfile(c.HTTP.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("http.fingerprint: %w", err))
	}
	if len(c.HTTP.UserAgents) == 0 {
		if _, err := useragent.ForPlatform(useragent.Platform(c.HTTP.Platform)); err != nil {
			errs = append(errs, fmt.Errorf("http.platform: %w", err))
		}
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.requests_per_second must not be negative"))
	}
	if c.Session.QueryTimeout <= 0 {
		errs = append(errs, errors.New("session.query_timeout must be positive"))
	}
	if c.Materializer.Workers <= 0 {
		errs = append(errs, errors.New("materializer.workers must be positive"))
	}
	if !validDriver(c.Storage.Driver) {
		errs = append(errs, fmt.Errorf("storage.driver must be one of %s, got %q", strings.Join(StorageDrivers, ", "), c.Storage.Driver))
	} else if c.Storage.Driver != "none" && c.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}

	return errors.Join(errs...)
}

func validDriver(d string) bool {
	for _, s := range StorageDrivers {
		if d == s {
			return true
		}
	}
	return false
}
