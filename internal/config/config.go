// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// DefaultUserAgent is sent when crawler.user_agent is unset.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                     `mapstructure:"server"`
	Auth         AuthConfig                       `mapstructure:"auth"`
	Crawler      CrawlerConfig                    `mapstructure:"crawler"`
	Pipeline     PipelineConfig                   `mapstructure:"pipeline"`
	Headless     HeadlessConfig                   `mapstructure:"headless"`
	Storage      StorageConfig                    `mapstructure:"storage"`
	DB           DBConfig                         `mapstructure:"db"`
	PubSub       PubSubConfig                     `mapstructure:"pubsub"`
	AI           AIConfig                         `mapstructure:"ai"`
	Progress     ProgressConfig                   `mapstructure:"progress"`
	Tracing      TracingConfig                    `mapstructure:"tracing"`
	Logging      LoggingConfig                    `mapstructure:"logging"`
	StandardJobs map[string]crawler.JobParameters `mapstructure:"standard_jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs discovery and content fetching.
type CrawlerConfig struct {
	MaxURLs                 int         `mapstructure:"max_urls"`
	MaxDepth                int         `mapstructure:"max_depth"`
	UserAgent               string      `mapstructure:"user_agent"`
	RequestTimeoutSeconds   int         `mapstructure:"request_timeout_seconds"`
	DiscoveryTimeoutSeconds int         `mapstructure:"discovery_timeout_seconds"`
	SitemapTimeoutSeconds   int         `mapstructure:"sitemap_timeout_seconds"`
	MaxRetries              int         `mapstructure:"max_retries"`
	BackoffBaseMs           int         `mapstructure:"backoff_base_ms"`
	UseSitemap              bool        `mapstructure:"use_sitemap"`
	RespectRobots           bool        `mapstructure:"respect_robots"`
	ExtraSkipPatterns       []string    `mapstructure:"extra_skip_patterns"`
	RequestsPerSecond       float64     `mapstructure:"requests_per_second"`
	Burst                   int         `mapstructure:"burst"`
	HostLimits              []HostLimit `mapstructure:"host_limits"`
	MaxBodyBytes            int         `mapstructure:"max_body_bytes"`
}

// HostLimit overrides the request rate for one hostname.
type HostLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HostRPS returns the per-host overrides keyed by lowercase hostname.
func (c CrawlerConfig) HostRPS() map[string]float64 {
	if len(c.HostLimits) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.HostLimits))
	for _, l := range c.HostLimits {
		out[strings.ToLower(l.Host)] = l.RPS
	}
	return out
}

// PipelineConfig sizes the hand-off and the job worker pool.
type PipelineConfig struct {
	QueueDepth    int `mapstructure:"queue_depth"`
	Workers       int `mapstructure:"workers"`
	JobQueueDepth int `mapstructure:"job_queue_depth"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where project artifacts live. The memory backend
// keeps nothing after exit and is meant for tests and dry runs.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres. An empty DSN keeps jobs in memory.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	JobTable     string `mapstructure:"job_table"`
	FetchTable   string `mapstructure:"fetch_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	ConnLifetime int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for artifact notifications. An empty project
// keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AIConfig configures the chat-completions collaborators.
type AIConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	APIURL                  string  `mapstructure:"api_url"`
	APIKey                  string  `mapstructure:"api_key"`
	Model                   string  `mapstructure:"model"`
	TimeoutSeconds          int     `mapstructure:"timeout_seconds"`
	Temperature             float64 `mapstructure:"temperature"`
	MaxTextChars            int     `mapstructure:"max_text_chars"`
	BreakerFailureThreshold uint    `mapstructure:"breaker_failure_threshold"`
	BreakerDelaySeconds     int     `mapstructure:"breaker_delay_seconds"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features. Level is empty or one of
// debug, info, warn, error.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.max_urls", 200)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.discovery_timeout_seconds", 10)
	v.SetDefault("crawler.sitemap_timeout_seconds", 10)
	v.SetDefault("crawler.max_retries", 5)
	v.SetDefault("crawler.backoff_base_ms", 1000)
	v.SetDefault("crawler.use_sitemap", true)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.requests_per_second", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("pipeline.job_queue_depth", 64)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("db.job_table", "harvest_jobs")
	v.SetDefault("db.fetch_table", "fetch_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.api_url", "https://api.openai.com/v1")
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("ai.breaker_failure_threshold", 5)
	v.SetDefault("ai.breaker_delay_seconds", 30)
	v.SetDefault("ai.max_text_chars", 60000)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("tracing.service_name", "site-harvester")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxURLs <= 0 {
		return fmt.Errorf("crawler.max_urls must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.OutputDir == "" {
			return fmt.Errorf("storage.output_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend must be %q, %q or %q, got %q",
			StorageLocal, StorageGCS, StorageMemory, c.Storage.Backend)
	}
	if c.AI.Enabled && c.AI.Model == "" {
		return fmt.Errorf("ai.model must be set when ai is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout bounds each content fetch attempt.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Crawler.RequestTimeoutSeconds)
}

// DiscoveryTimeout bounds each discovery page fetch.
func (c Config) DiscoveryTimeout() time.Duration {
	return seconds(c.Crawler.DiscoveryTimeoutSeconds)
}

// SitemapTimeout bounds each sitemap fetch.
func (c Config) SitemapTimeout() time.Duration {
	return seconds(c.Crawler.SitemapTimeoutSeconds)
}

// BackoffBase scales the exponential retry backoff.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Crawler.BackoffBaseMs) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
