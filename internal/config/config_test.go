package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Search.MaxResults != 30 || cfg.Pipeline.Threshold != 10 {
		t.Fatalf("unexpected pipeline defaults: %+v %+v", cfg.Search, cfg.Pipeline)
	}
	if cfg.Store.Backend != StoreSQLite || cfg.Export.Backend != ExportLocal {
		t.Fatalf("unexpected backends: %s %s", cfg.Store.Backend, cfg.Export.Backend)
	}
	if got := strings.Join(cfg.Search.Hosts, ","); got != "repl.co,replit.com,replit.app" {
		t.Fatalf("unexpected hosts %q", got)
	}
	if cfg.FetchTimeout() != 12*time.Second || cfg.RunRetention() != time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.FetchTimeout(), cfg.RunRetention())
	}
	if cfg.PubSub.Enabled() {
		t.Fatal("pubsub must be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
search:
  max_results: 10
  hosts: ["repl.co"]
github:
  timeout_seconds: 5
  max_retries: 2
  backoff_initial_ms: 100
  backoff_max_ms: 400
fetch:
  headless:
    enabled: true
    max_parallel: 3
pipeline:
  threshold: 12
  mode: github
  query: replit
  min_stars: 5
  clone: true
store:
  backend: postgres
  dsn: postgres://localhost/prodscout
export:
  backend: gcs
  bucket: exports
pubsub:
  project_id: my-project
  topic_name: production-repos
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server and auth overrides: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Search.MaxResults != 10 || len(cfg.Search.Hosts) != 1 {
		t.Fatalf("expected search overrides: %+v", cfg.Search)
	}
	if cfg.Pipeline.Mode != "github" || cfg.Pipeline.MinStars != 5 || !cfg.Pipeline.Clone {
		t.Fatalf("expected pipeline overrides: %+v", cfg.Pipeline)
	}
	if cfg.Store.Backend != StorePostgres || cfg.Export.Bucket != "exports" {
		t.Fatalf("expected backend overrides: %+v %+v", cfg.Store, cfg.Export)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatal("expected pubsub enabled")
	}
	initial, maxDelay := cfg.RetryBackoff()
	if initial != 100*time.Millisecond || maxDelay != 400*time.Millisecond {
		t.Fatalf("unexpected backoff %v %v", initial, maxDelay)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Development {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadCredentialAliases(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_alias")
	t.Setenv("SERPAPI_API_KEY", "serp_alias")
	t.Setenv("PRODSCOUT_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GitHub.Token != "ghp_alias" {
		t.Fatalf("expected GITHUB_TOKEN alias, got %q", cfg.GitHub.Token)
	}
	if cfg.Search.SerpAPIKey != "serp_alias" {
		t.Fatalf("expected SERPAPI_API_KEY alias, got %q", cfg.Search.SerpAPIKey)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Server.Port)
	}

	t.Setenv("PRODSCOUT_GITHUB_TOKEN", "ghp_prefixed")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GitHub.Token != "ghp_prefixed" {
		t.Fatalf("expected prefixed variable to win, got %q", cfg.GitHub.Token)
	}
}

func TestDefaultQueries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dorks.txt")
	content := "site:repl.co \"github.com\"\n\n# comment\n  site:replit.app github  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dorks: %v", err)
	}

	cfg := Config{Pipeline: PipelineConfig{DorksFile: path}}
	queries, err := cfg.DefaultQueries()
	if err != nil {
		t.Fatalf("DefaultQueries() error = %v", err)
	}
	if len(queries) != 2 || queries[1] != "site:replit.app github" {
		t.Fatalf("unexpected queries %q", queries)
	}

	cfg.Pipeline.Queries = []string{"inline"}
	queries, err = cfg.DefaultQueries()
	if err != nil || len(queries) != 1 || queries[0] != "inline" {
		t.Fatalf("inline queries must win: %q %v", queries, err)
	}

	cfg = Config{Pipeline: PipelineConfig{DorksFile: filepath.Join(dir, "missing.txt")}}
	if _, err := cfg.DefaultQueries(); err == nil {
		t.Fatal("expected missing dorks file error")
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Search:   SearchConfig{TimeoutSeconds: 10, MaxResults: 30},
		GitHub:   GitHubConfig{TimeoutSeconds: 10},
		Fetch:    FetchConfig{TimeoutSeconds: 10},
		Pipeline: PipelineConfig{Mode: "dork", Threshold: 10},
		Store:    StoreConfig{Backend: StoreMemory},
		Export:   ExportConfig{Backend: ExportNone},
		Progress: ProgressConfig{BufferSize: 16},
		Runs:     RunsConfig{RetentionMinutes: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"search timeout", func(c *Config) { c.Search.TimeoutSeconds = 0 }, "search.timeout_seconds"},
		{"max results", func(c *Config) { c.Search.MaxResults = 0 }, "search.max_results"},
		{"fallback placeholder", func(c *Config) {
			c.Search.FallbackEnabled = true
			c.Search.FallbackURL = "https://example.com/search"
		}, "search.fallback_url"},
		{"github timeout", func(c *Config) { c.GitHub.TimeoutSeconds = 0 }, "github.timeout_seconds"},
		{"negative rps", func(c *Config) { c.GitHub.RateLimitRPS = -1 }, "github.rate_limit_rps"},
		{"fetch timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"headless missing max parallel", func(c *Config) { c.Fetch.Headless.Enabled = true }, "fetch.headless.max_parallel"},
		{"mode", func(c *Config) { c.Pipeline.Mode = "crawl" }, "pipeline.mode"},
		{"zero threshold", func(c *Config) { c.Pipeline.Threshold = 0 }, "pipeline.threshold"},
		{"clone dir", func(c *Config) { c.Pipeline.Clone = true }, "pipeline.clone_dir"},
		{"sqlite path", func(c *Config) { c.Store.Backend = StoreSQLite }, "store.sqlite_path"},
		{"postgres dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "store.dsn"},
		{"store backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"export dir", func(c *Config) { c.Export.Backend = ExportLocal }, "export.dir"},
		{"export bucket", func(c *Config) { c.Export.Backend = ExportGCS }, "export.bucket"},
		{"export backend", func(c *Config) { c.Export.Backend = "s3" }, "export.backend"},
		{"pubsub project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"progress buffer", func(c *Config) { c.Progress.BufferSize = 0 }, "progress.buffer_size"},
		{"retention", func(c *Config) { c.Runs.RetentionMinutes = 0 }, "runs.retention_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
