// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/storage"
)

// EnvPrefix prefixes environment overrides, e.g. SWIMMER_CRAWLER_FETCH_WORKERS.
const EnvPrefix = "SWIMMER"

// DefaultListingURL is the Division I men's team ranking page.
const DefaultListingURL = "https://www.swimcloud.com/country/usa/college/division/1/teams/" +
	"?eventCourse=Y&gender=M&page=1&rankType=D&region=division_1&seasonId=28&sortBy=top50"

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Ratings backends.
const (
	RatingsNone     = "none"
	RatingsPostgres = "postgres"
	RatingsSupabase = "supabase"
)

// Rate limit retry policies.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Roster     RosterConfig     `mapstructure:"roster"`
	Ratings    RatingsConfig    `mapstructure:"ratings"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Export     ExportConfig     `mapstructure:"export"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// CrawlerConfig governs discovery and the fetch phase.
type CrawlerConfig struct {
	ListingURLs        []string      `mapstructure:"listing_urls"`
	RosterURLTemplate  string        `mapstructure:"roster_url_template"`
	SwimmerURLTemplate string        `mapstructure:"swimmer_url_template"`
	DiscoveryWorkers   int           `mapstructure:"discovery_workers"`
	FetchWorkers       int           `mapstructure:"fetch_workers"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MaxCooldowns       int           `mapstructure:"max_cooldowns"`
}

// FetchConfig configures transports and the 429 retry loop.
type FetchConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
	RateLimitBackoff    time.Duration `mapstructure:"rate_limit_backoff"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
	// RateLimitPolicy is "fixed" (wait RateLimitBackoff each time) or
	// "exponential" (double from RateLimitBackoff up to RateLimitMaxBackoff).
	RateLimitPolicy     string         `mapstructure:"rate_limit_policy"`
	RateLimitMaxBackoff time.Duration  `mapstructure:"rate_limit_max_backoff"`
	Browser             bool           `mapstructure:"browser"`
	CloudflareBypass    bool           `mapstructure:"cloudflare_bypass"`
	Headless            HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the browser transport.
type HeadlessConfig struct {
	MaxParallel  int    `mapstructure:"max_parallel"`
	WaitSelector string `mapstructure:"wait_selector"`
	ExecPath     string `mapstructure:"exec_path"`
}

// RateLimitConfig sets the minimum interval between requests per channel.
type RateLimitConfig struct {
	Browser time.Duration `mapstructure:"browser"`
	HTTP    time.Duration `mapstructure:"http"`
}

// CheckpointConfig selects and locates the checkpoint store.
type CheckpointConfig struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RosterConfig locates the per-team roster files.
type RosterConfig struct {
	Dir string `mapstructure:"dir"`
}

// RatingsConfig selects the remote rating table writer.
type RatingsConfig struct {
	Backend     string `mapstructure:"backend"`
	SupabaseURL string `mapstructure:"supabase_url"`
	SupabaseKey string `mapstructure:"supabase_key"`
	Table       string `mapstructure:"table"`
	BatchSize   int    `mapstructure:"batch_size"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// OnRecord upserts a rating row as each swimmer is recorded.
	OnRecord bool `mapstructure:"on_record"`
}

// PubSubConfig holds the optional Pub/Sub sink settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ExportConfig controls the swimmers.json export.
type ExportConfig struct {
	Output        string  `mapstructure:"output"`
	DefaultRating float64 `mapstructure:"default_rating"`
	Upsert        bool    `mapstructure:"upsert"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig controls zap and optional file rotation.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.listing_urls", []string{DefaultListingURL})
	v.SetDefault("crawler.roster_url_template", crawler.DefaultRosterURLTemplate)
	v.SetDefault("crawler.swimmer_url_template", crawler.DefaultSwimmerURLTemplate)
	v.SetDefault("crawler.discovery_workers", crawler.DefaultDiscoveryWorkers)
	v.SetDefault("crawler.fetch_workers", crawler.DefaultFetchWorkers)
	v.SetDefault("crawler.cooldown", crawler.DefaultCooldown)
	v.SetDefault("crawler.max_cooldowns", 0)
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("fetch.rate_limit_backoff", 3*time.Second)
	v.SetDefault("fetch.max_rate_limit_retries", 5)
	v.SetDefault("fetch.rate_limit_policy", RetryFixed)
	v.SetDefault("fetch.rate_limit_max_backoff", time.Minute)
	v.SetDefault("fetch.browser", true)
	v.SetDefault("fetch.cloudflare_bypass", false)
	v.SetDefault("fetch.headless.max_parallel", 4)
	v.SetDefault("fetch.headless.wait_selector", "body")
	v.SetDefault("fetch.headless.exec_path", "")
	v.SetDefault("rate_limit.browser", 2*time.Second)
	v.SetDefault("rate_limit.http", 100*time.Millisecond)
	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.dir", "checkpoint")
	v.SetDefault("checkpoint.sqlite_path", "checkpoint/crawl.db")
	v.SetDefault("roster.dir", "output")
	v.SetDefault("ratings.backend", RatingsNone)
	v.SetDefault("ratings.supabase_url", "")
	v.SetDefault("ratings.supabase_key", "")
	v.SetDefault("ratings.table", "swimmer_ratings")
	v.SetDefault("ratings.batch_size", 100)
	v.SetDefault("ratings.postgres_dsn", "")
	v.SetDefault("ratings.on_record", false)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("export.output", "public/swimmers.json")
	v.SetDefault("export.default_rating", 1500)
	v.SetDefault("export.upsert", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("metrics.enabled", true)
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if err := c.engineConfig().Validate(); err != nil {
		return err
	}
	if len(c.Crawler.ListingURLs) == 0 {
		return fmt.Errorf("crawler.listing_urls must not be empty")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RateLimitBackoff < 0 {
		return fmt.Errorf("fetch.rate_limit_backoff must be >= 0")
	}
	if c.Fetch.MaxRateLimitRetries < 0 {
		return fmt.Errorf("fetch.max_rate_limit_retries must be >= 0")
	}
	switch c.Fetch.RateLimitPolicy {
	case RetryFixed:
	case RetryExponential:
		if c.Fetch.RateLimitMaxBackoff < c.Fetch.RateLimitBackoff {
			return fmt.Errorf("fetch.rate_limit_max_backoff must be >= fetch.rate_limit_backoff")
		}
	default:
		return fmt.Errorf("fetch.rate_limit_policy must be %q or %q", RetryFixed, RetryExponential)
	}
	if c.Fetch.Browser && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0")
	}
	if c.RateLimit.Browser < 0 || c.RateLimit.HTTP < 0 {
		return fmt.Errorf("rate_limit intervals must be >= 0")
	}
	switch c.Checkpoint.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Checkpoint.Dir) == "" {
			return fmt.Errorf("checkpoint.dir is required")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Checkpoint.SQLitePath) == "" {
			return fmt.Errorf("checkpoint.sqlite_path is required")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	if strings.TrimSpace(c.Roster.Dir) == "" {
		return fmt.Errorf("roster.dir is required")
	}
	switch c.Ratings.Backend {
	case RatingsNone:
		if c.Ratings.OnRecord {
			return fmt.Errorf("ratings.on_record requires a ratings.backend")
		}
	case RatingsPostgres:
		if c.Ratings.PostgresDSN == "" {
			return fmt.Errorf("ratings.postgres_dsn is required for the postgres backend")
		}
	case RatingsSupabase:
		if c.Ratings.SupabaseURL == "" || c.Ratings.SupabaseKey == "" {
			return fmt.Errorf("ratings.supabase_url and ratings.supabase_key are required for the supabase backend")
		}
	default:
		return fmt.Errorf("ratings.backend must be one of none, postgres, supabase")
	}
	if c.Ratings.BatchSize <= 0 {
		return fmt.Errorf("ratings.batch_size must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	if strings.TrimSpace(c.Export.Output) == "" {
		return fmt.Errorf("export.output is required")
	}
	if storage.IsGCS(c.Export.Output) {
		if _, _, err := storage.SplitGCS(c.Export.Output); err != nil {
			return fmt.Errorf("export.output: %w", err)
		}
	}
	if c.Export.DefaultRating <= 0 {
		return fmt.Errorf("export.default_rating must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	return nil
}

// Engine returns the crawl engine configuration.
func (c Config) Engine() crawler.Config {
	return c.engineConfig()
}

func (c Config) engineConfig() crawler.Config {
	return crawler.Config{
		ListingURLs:        c.Crawler.ListingURLs,
		RosterURLTemplate:  c.Crawler.RosterURLTemplate,
		SwimmerURLTemplate: c.Crawler.SwimmerURLTemplate,
		DiscoveryWorkers:   c.Crawler.DiscoveryWorkers,
		FetchWorkers:       c.Crawler.FetchWorkers,
		Cooldown:           c.Crawler.Cooldown,
		MaxCooldowns:       c.Crawler.MaxCooldowns,
	}
}
