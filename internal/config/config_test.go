package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  max_urls: 50
  max_depth: 2
  user_agent: real-agent
  request_timeout_seconds: 45
  max_retries: 3
  respect_robots: true
  extra_skip_patterns: ["/events/", "?print="]
  requests_per_second: 2.5
  host_limits:
    - host: Slow.Example.com
      rps: 0.5
pipeline:
  queue_depth: 8
  workers: 3
headless:
  enabled: true
  max_parallel: 2
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: harvests
ai:
  enabled: true
  model: gpt-4o-mini
  breaker_failure_threshold: 2
logging:
  development: false
standard_jobs:
  acme:
    base_url: "https://acme.example"
    max_urls: 20
    skip_harvest: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.MaxURLs != 50 || !cfg.Crawler.RespectRobots || cfg.Crawler.RequestsPerSecond != 2.5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.ExtraSkipPatterns) != 2 || cfg.Crawler.HostRPS()["slow.example.com"] != 0.5 {
		t.Fatalf("expected skip patterns and host rps: %+v", cfg.Crawler)
	}
	if cfg.Pipeline.Workers != 3 || cfg.Pipeline.QueueDepth != 8 {
		t.Fatalf("expected pipeline overrides: %+v", cfg.Pipeline)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage: %+v", cfg.Storage)
	}
	if cfg.AI.BreakerFailureThreshold != 2 || cfg.AI.TimeoutSeconds != 60 {
		t.Fatalf("expected ai overrides with defaults: %+v", cfg.AI)
	}
	job, ok := cfg.StandardJobs["acme"]
	if !ok || job.BaseURL != "https://acme.example" || job.MaxURLs != 20 || !job.SkipHarvest {
		t.Fatalf("expected standard job to be loaded: %+v", cfg.StandardJobs)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	if cfg.Crawler.SitemapTimeoutSeconds != 10 {
		t.Fatalf("expected default sitemap timeout, got %d", cfg.Crawler.SitemapTimeoutSeconds)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.MaxURLs != 200 || cfg.Crawler.MaxDepth != 3 || cfg.Crawler.MaxRetries != 5 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.UserAgent != DefaultUserAgent {
		t.Fatalf("unexpected user agent %q", cfg.Crawler.UserAgent)
	}
	if cfg.Pipeline.QueueDepth != 16 || cfg.Pipeline.Workers != 5 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Storage.Backend != StorageLocal || cfg.Storage.OutputDir != "output" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if got := cfg.BackoffBase(); got != time.Second {
		t.Fatalf("expected 1s backoff base, got %v", got)
	}
	if got := cfg.DiscoveryTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s discovery timeout, got %v", got)
	}
	if cfg.AI.MaxTextChars != 60000 || cfg.Logging.Level != "" {
		t.Fatalf("unexpected ai/logging defaults: %+v %+v", cfg.AI, cfg.Logging)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Crawler:  CrawlerConfig{MaxURLs: 10, MaxDepth: 1, RequestTimeoutSeconds: 10, MaxRetries: 2},
		Pipeline: PipelineConfig{Workers: 1},
		Storage:  StorageConfig{Backend: StorageLocal, OutputDir: "out"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid max urls", mutate: func(c *Config) { c.Crawler.MaxURLs = 0 }, want: "crawler.max_urls"},
		{name: "negative depth", mutate: func(c *Config) { c.Crawler.MaxDepth = -1 }, want: "crawler.max_depth"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Crawler.RequestTimeoutSeconds = 0 }, want: "crawler.request_timeout_seconds"},
		{name: "invalid retries", mutate: func(c *Config) { c.Crawler.MaxRetries = 0 }, want: "crawler.max_retries"},
		{name: "invalid workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, want: "pipeline.workers"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "missing output dir", mutate: func(c *Config) { c.Storage.OutputDir = "" }, want: "storage.output_dir"},
		{name: "gcs missing bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "ai missing model", mutate: func(c *Config) { c.AI.Enabled = true }, want: "ai.model"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
