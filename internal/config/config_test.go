package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Directory.BaseURL)
	assert.Equal(t, "spider", cfg.Scraper.Backend)
	assert.Equal(t, 5, cfg.Fetch.Concurrency)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 10*1024, cfg.Fetch.MinBytes)
	assert.Equal(t, 10, cfg.Fetch.MaxIterations)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 100, cfg.Queue.BaseDelayMs)
	assert.Contains(t, cfg.Fetch.ChallengeMarkers, "human verification")
	assert.Equal(t, 60*time.Second, cfg.ScrapeTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
  level: debug
directory:
  base_url: https://directory.example.com
  page_size: 50
scraper:
  backend: direct
  timeout_seconds: 20
queue:
  path: /tmp/queue.db
fetch:
  concurrency: 2
  min_bytes: 2048
storage:
  backend: gcs
  bucket: snapshots
pubsub:
  project_id: proj
  topic: details
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://directory.example.com", cfg.Directory.BaseURL)
	assert.Equal(t, 50, cfg.Directory.PageSize)
	assert.Equal(t, "direct", cfg.Scraper.Backend)
	assert.Equal(t, 20*time.Second, cfg.ScrapeTimeout())
	assert.Equal(t, "/tmp/queue.db", cfg.Queue.Path)
	assert.Equal(t, 2, cfg.Fetch.Concurrency)
	assert.Equal(t, 2048, cfg.Fetch.MinBytes)
	assert.Equal(t, "snapshots", cfg.Storage.Bucket)
	assert.Equal(t, "details", cfg.PubSub.Topic)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIPSCRAPE_FETCH_CONCURRENCY", "7")
	t.Setenv("SPIDER_API_KEY", "legacy-key")
	t.Setenv("TRIPADVISOR_API_KEY", "content-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Fetch.Concurrency)
	assert.Equal(t, "legacy-key", cfg.Scraper.Spider.APIKey)
	assert.Equal(t, "content-key", cfg.GeoID.APIKey)
	assert.NoError(t, cfg.RequireSpiderKey())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Directory: DirectoryConfig{BaseURL: "http://localhost", PageSize: 10},
		Scraper:   ScraperConfig{Backend: "spider", TimeoutSeconds: 1},
		Queue:     QueueConfig{Path: "q.db", MaxAttempts: 5},
		Fetch:     FetchConfig{Concurrency: 1, MaxAttempts: 1},
		Sink:      SinkConfig{MaxAttempts: 1},
		Results:   ResultsConfig{Concurrency: 1},
		Browser:   BrowserConfig{MaxParallel: 1},
		Storage:   StorageConfig{Backend: "memory"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing base url", mutate: func(c *Config) { c.Directory.BaseURL = " " }, want: "directory.base_url"},
		{name: "unknown backend", mutate: func(c *Config) { c.Scraper.Backend = "curl" }, want: "scraper.backend"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Fetch.Concurrency = 0 }, want: "fetch.concurrency"},
		{name: "missing queue path", mutate: func(c *Config) { c.Queue.Path = "" }, want: "queue.path"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.bucket"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestRequireSpiderKey(t *testing.T) {
	t.Parallel()

	cfg := Config{Scraper: ScraperConfig{Backend: "spider"}}
	assert.Error(t, cfg.RequireSpiderKey())

	cfg.Scraper.Backend = "direct"
	assert.NoError(t, cfg.RequireSpiderKey())
}
