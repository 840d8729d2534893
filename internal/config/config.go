// Package config loads and validates service configuration via Viper.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	ExportNone   = "none"
	ExportMemory = "memory"
	ExportLocal  = "local"
	ExportGCS    = "gcs"
)

// DefaultUserAgent identifies the probe fetcher and search scraper.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) prodscout/1.0"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Search   SearchConfig   `mapstructure:"search"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Store    StoreConfig    `mapstructure:"store"`
	Export   ExportConfig   `mapstructure:"export"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Runs     RunsConfig     `mapstructure:"runs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig configures the primary API backend and the scraping fallback.
type SearchConfig struct {
	SerpAPIKey       string   `mapstructure:"serpapi_key"`
	SerpAPIBaseURL   string   `mapstructure:"serpapi_base_url"`
	Engine           string   `mapstructure:"engine"`
	FallbackEnabled  bool     `mapstructure:"fallback_enabled"`
	FallbackURL      string   `mapstructure:"fallback_url"`
	FallbackSelector string   `mapstructure:"fallback_selector"`
	FallbackWorkers  int      `mapstructure:"fallback_workers"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	MaxResults       int      `mapstructure:"max_results"`
	Hosts            []string `mapstructure:"hosts"`
}

// GitHubConfig configures the code host client.
type GitHubConfig struct {
	Token              string  `mapstructure:"token"`
	BaseURL            string  `mapstructure:"base_url"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	PathTimeoutSeconds int     `mapstructure:"path_timeout_seconds"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
}

// FetchConfig configures candidate page fetching.
type FetchConfig struct {
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	UserAgent      string         `mapstructure:"user_agent"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinBodyLength int  `mapstructure:"min_body_length"`
}

// PipelineConfig sets run defaults.
type PipelineConfig struct {
	Threshold  int      `mapstructure:"threshold"`
	Mode       string   `mapstructure:"mode"`
	Queries    []string `mapstructure:"queries"`
	DorksFile  string   `mapstructure:"dorks_file"`
	Query      string   `mapstructure:"query"`
	MinStars   int      `mapstructure:"min_stars"`
	Clone      bool     `mapstructure:"clone"`
	CloneDir   string   `mapstructure:"clone_dir"`
	KeepClones bool     `mapstructure:"keep_clones"`
	GitBinary  string   `mapstructure:"git_binary"`
	Trufflehog string   `mapstructure:"trufflehog_binary"`
	Bandit     string   `mapstructure:"bandit_binary"`
}

// StoreConfig selects the repository store.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int    `mapstructure:"max_conns"`
	Migrate    bool   `mapstructure:"migrate"`
}

// ExportConfig selects where CSV exports are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	MaxBatchEvents   int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs    int `mapstructure:"sink_timeout_ms"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// RunsConfig controls the run registry.
type RunsConfig struct {
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRODSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
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

// bindAliases lets the conventional credential variables satisfy their keys.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"github.token":       {"PRODSCOUT_GITHUB_TOKEN", "GITHUB_TOKEN"},
		"search.serpapi_key": {"PRODSCOUT_SEARCH_SERPAPI_KEY", "SERPAPI_API_KEY"},
		"pubsub.project_id":  {"PRODSCOUT_PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
		"store.dsn":          {"PRODSCOUT_STORE_DSN", "DATABASE_URL"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("search.serpapi_key", "")
	v.SetDefault("search.serpapi_base_url", "https://serpapi.com")
	v.SetDefault("search.engine", "google")
	v.SetDefault("search.fallback_enabled", true)
	v.SetDefault("search.fallback_url", "https://html.duckduckgo.com/html/?q=%s")
	v.SetDefault("search.fallback_selector", "a.result__a")
	v.SetDefault("search.fallback_workers", 2)
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("search.max_results", 30)
	v.SetDefault("search.hosts", []string{"repl.co", "replit.com", "replit.app"})
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.timeout_seconds", 15)
	v.SetDefault("github.path_timeout_seconds", 10)
	v.SetDefault("github.rate_limit_rps", 0)
	v.SetDefault("github.rate_limit_burst", 1)
	v.SetDefault("github.max_retries", 0)
	v.SetDefault("github.backoff_initial_ms", 250)
	v.SetDefault("github.backoff_max_ms", 2000)
	v.SetDefault("fetch.timeout_seconds", 12)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 2)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 20)
	v.SetDefault("fetch.headless.min_body_length", 2048)
	v.SetDefault("pipeline.threshold", 10)
	v.SetDefault("pipeline.mode", "dork")
	v.SetDefault("pipeline.queries", []string{})
	v.SetDefault("pipeline.dorks_file", "")
	v.SetDefault("pipeline.query", "")
	v.SetDefault("pipeline.min_stars", 0)
	v.SetDefault("pipeline.clone", false)
	v.SetDefault("pipeline.clone_dir", "cloned_repos")
	v.SetDefault("pipeline.keep_clones", false)
	v.SetDefault("pipeline.git_binary", "git")
	v.SetDefault("pipeline.trufflehog_binary", "trufflehog")
	v.SetDefault("pipeline.bandit_binary", "bandit")
	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.sqlite_path", "prodscout.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.migrate", true)
	v.SetDefault("export.backend", ExportLocal)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 100)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.subscriber_buffer", 64)
	v.SetDefault("runs.retention_minutes", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if c.Search.FallbackEnabled && !strings.Contains(c.Search.FallbackURL, "%s") {
		return fmt.Errorf("search.fallback_url must contain a %%s placeholder")
	}
	if c.GitHub.TimeoutSeconds <= 0 {
		return fmt.Errorf("github.timeout_seconds must be > 0")
	}
	if c.GitHub.RateLimitRPS < 0 {
		return fmt.Errorf("github.rate_limit_rps must be >= 0")
	}
	if c.GitHub.MaxRetries < 0 {
		return fmt.Errorf("github.max_retries must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Pipeline.Mode {
	case "dork", "github":
	default:
		return fmt.Errorf("pipeline.mode must be dork or github, got %q", c.Pipeline.Mode)
	}
	if c.Pipeline.Threshold < 1 {
		return fmt.Errorf("pipeline.threshold must be >= 1")
	}
	if c.Pipeline.MinStars < 0 {
		return fmt.Errorf("pipeline.min_stars must be >= 0")
	}
	if c.Pipeline.Clone && c.Pipeline.CloneDir == "" {
		return fmt.Errorf("pipeline.clone_dir must be set when clone is enabled")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite backend")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Export.Backend {
	case ExportNone, ExportMemory:
	case ExportLocal:
		if c.Export.Dir == "" {
			return fmt.Errorf("export.dir must be set for the local backend")
		}
	case ExportGCS:
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend %q is not supported", c.Export.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	if c.Runs.RetentionMinutes <= 0 {
		return fmt.Errorf("runs.retention_minutes must be > 0")
	}
	return nil
}

// DefaultQueries returns the configured queries, or the non-empty,
// non-comment lines of the dorks file when none are configured inline.
func (c Config) DefaultQueries() ([]string, error) {
	if len(c.Pipeline.Queries) > 0 || c.Pipeline.DorksFile == "" {
		return c.Pipeline.Queries, nil
	}
	f, err := os.Open(c.Pipeline.DorksFile)
	if err != nil {
		return nil, fmt.Errorf("open dorks file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dorks file: %w", err)
	}
	return queries, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// SearchTimeout is the per-query search budget.
func (c Config) SearchTimeout() time.Duration { return seconds(c.Search.TimeoutSeconds) }

// GitHubTimeout is the budget of one code host call.
func (c Config) GitHubTimeout() time.Duration { return seconds(c.GitHub.TimeoutSeconds) }

// GitHubPathTimeout is the budget of one file existence probe.
func (c Config) GitHubPathTimeout() time.Duration { return seconds(c.GitHub.PathTimeoutSeconds) }

// FetchTimeout is the probe fetch budget per page.
func (c Config) FetchTimeout() time.Duration { return seconds(c.Fetch.TimeoutSeconds) }

// HeadlessTimeout is the navigation budget per rendered page.
func (c Config) HeadlessTimeout() time.Duration { return seconds(c.Fetch.Headless.NavTimeoutSec) }

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration { return seconds(c.Server.ShutdownTimeoutSeconds) }

// RunRetention is how long finished runs stay inspectable.
func (c Config) RunRetention() time.Duration { return time.Duration(c.Runs.RetentionMinutes) * time.Minute }

// BatchWait is the progress hub flush interval.
func (c Config) BatchWait() time.Duration { return millis(c.Progress.MaxBatchWaitMs) }

// SinkTimeout bounds one progress sink call.
func (c Config) SinkTimeout() time.Duration { return millis(c.Progress.SinkTimeoutMs) }

// RetryBackoff returns the initial and maximum retry delays.
func (c Config) RetryBackoff() (time.Duration, time.Duration) {
	return millis(c.GitHub.BackoffInitialMs), millis(c.GitHub.BackoffMaxMs)
}
