// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. TRIPSCRAPE_QUEUE_PATH.
const EnvPrefix = "TRIPSCRAPE"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Results   ResultsConfig   `mapstructure:"results"`
	GeoID     GeoIDConfig     `mapstructure:"geoid"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DirectoryConfig points at the city/restaurant REST API.
type DirectoryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
}

// ScraperConfig selects and tunes the page scraping backend.
type ScraperConfig struct {
	Backend        string       `mapstructure:"backend"`
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
	RatePerSecond  float64      `mapstructure:"rate_per_second"`
	Burst          int          `mapstructure:"burst"`
	Spider         SpiderConfig `mapstructure:"spider"`
	Direct         DirectConfig `mapstructure:"direct"`
}

// SpiderConfig holds the scraping SaaS credentials.
type SpiderConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	ProxyURL string `mapstructure:"proxy_url"`
}

// DirectConfig configures the Colly-backed direct fetcher.
type DirectConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

// QueueConfig locates the embedded work-queue database.
type QueueConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	BaseDelayMs   int    `mapstructure:"base_delay_ms"`
}

// FetchConfig governs listing-page draining.
type FetchConfig struct {
	Concurrency      int      `mapstructure:"concurrency"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	BackoffBaseMs    int      `mapstructure:"backoff_base_ms"`
	MinBytes         int      `mapstructure:"min_bytes"`
	ChallengeMarkers []string `mapstructure:"challenge_markers"`
	SuspiciousLog    string   `mapstructure:"suspicious_log"`
	MaxIterations    int      `mapstructure:"max_iterations"`
}

// SinkConfig controls record forwarding retries.
type SinkConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
}

// ResultsConfig tunes the result-count updater.
type ResultsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// GeoIDConfig points at the upstream location search API.
type GeoIDConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	PauseMs  int    `mapstructure:"pause_ms"`
}

// BrowserConfig configures the headless detail renderer.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	UserAgent       string   `mapstructure:"user_agent"`
	ModalSelectors  []string `mapstructure:"modal_selectors"`
	IdleDelaySec    int      `mapstructure:"idle_delay_seconds"`
	FailureDelaySec int      `mapstructure:"failure_delay_seconds"`
}

// StorageConfig sets where detail snapshots are archived.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from a .env file, an optional config file, and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("directory.base_url", "http://127.0.0.1:8000")
	v.SetDefault("directory.timeout_seconds", 30)
	v.SetDefault("directory.page_size", 250)
	v.SetDefault("scraper.backend", "spider")
	v.SetDefault("scraper.timeout_seconds", 60)
	v.SetDefault("scraper.rate_per_second", 0)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.spider.endpoint", "https://api.spider.cloud/scrape")
	v.SetDefault("scraper.direct.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("queue.path", "tripadvisor.db")
	v.SetDefault("queue.busy_timeout_ms", 30000)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_delay_ms", 100)
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base_ms", 2000)
	v.SetDefault("fetch.min_bytes", 10*1024)
	v.SetDefault("fetch.challenge_markers", []string{
		"captcha", "recaptcha", "challenge", "verify", "robot",
		"human verification", "security check", "access denied",
	})
	v.SetDefault("fetch.suspicious_log", "suspicious_responses.log")
	v.SetDefault("fetch.max_iterations", 10)
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.backoff_base_ms", 500)
	v.SetDefault("results.concurrency", 10)
	v.SetDefault("geoid.endpoint", "https://api.content.tripadvisor.com/api/v1/location/search")
	v.SetDefault("geoid.pause_ms", 300)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.modal_selectors", []string{
		"#onetrust-accept-btn-handler",
		"button[aria-label='Close']",
		"button[data-automation='closeModal']",
		"div[role='dialog'] button[type='button']",
	})
	v.SetDefault("browser.idle_delay_seconds", 60)
	v.SetDefault("browser.failure_delay_seconds", 10)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.path", "data")
	v.SetDefault("storage.prefix", "restaurants")
}

// bindLegacyEnv keeps the unprefixed credential names working alongside the
// TRIPSCRAPE_* overrides.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"scraper.spider.api_key":   {EnvPrefix + "_SCRAPER_SPIDER_API_KEY", "SPIDER_API_KEY"},
		"scraper.spider.proxy_url": {EnvPrefix + "_SCRAPER_SPIDER_PROXY_URL", "PROXY_URL"},
		"geoid.api_key":            {EnvPrefix + "_GEOID_API_KEY", "TRIPADVISOR_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Directory.BaseURL) == "" {
		return fmt.Errorf("directory.base_url must be set")
	}
	if c.Directory.PageSize <= 0 {
		return fmt.Errorf("directory.page_size must be > 0")
	}
	switch c.Scraper.Backend {
	case "spider", "direct":
	default:
		return fmt.Errorf("scraper.backend must be spider or direct, got %q", c.Scraper.Backend)
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Queue.Path == "" {
		return fmt.Errorf("queue.path must be set")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MinBytes < 0 {
		return fmt.Errorf("fetch.min_bytes must be >= 0")
	}
	if c.Sink.MaxAttempts <= 0 {
		return fmt.Errorf("sink.max_attempts must be > 0")
	}
	if c.Results.Concurrency <= 0 {
		return fmt.Errorf("results.concurrency must be > 0")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// ScrapeTimeout is the per-call budget for the scraping backend.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// DirectoryTimeout is the per-request budget for directory API calls.
func (c Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.Directory.TimeoutSeconds) * time.Second
}

// RequireSpiderKey reports a configuration error when the SaaS backend lacks credentials.
func (c Config) RequireSpiderKey() error {
	if c.Scraper.Backend == "spider" && c.Scraper.Spider.APIKey == "" {
		return fmt.Errorf("SPIDER_API_KEY (scraper.spider.api_key) must be set for the spider backend")
	}
	return nil
}
