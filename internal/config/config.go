// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// It is built once at process start and passed into constructors; no
// component reads ambient configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Collector CollectorConfig `mapstructure:"collector"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CacheConfig controls the fetched-page content cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	TTLDays int    `mapstructure:"ttl_days"`
}

// TTL returns the cache validity window.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// FetchConfig configures the fetch engine's network behavior.
type FetchConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	DelayMinMs       int    `mapstructure:"delay_min_ms"`
	DelayMaxMs       int    `mapstructure:"delay_max_ms"`
	RenderFallback   bool   `mapstructure:"render_fallback"`
	RenderMaxParal   int    `mapstructure:"render_max_parallel"`
	RenderTimeoutSec int    `mapstructure:"render_timeout_seconds"`
	Concurrency      int    `mapstructure:"concurrency"`
}

// Timeout returns the per-request deadline.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CollectorConfig governs the collection stage.
type CollectorConfig struct {
	MaxPages      int     `mapstructure:"max_pages"`
	MinPageRatio  float64 `mapstructure:"min_page_ratio"`
	ExtraSections bool    `mapstructure:"extra_sections"`
}

// PipelineConfig governs the orchestrator.
type PipelineConfig struct {
	StageTimeoutSeconds int `mapstructure:"stage_timeout_seconds"`
}

// StageTimeout returns the per-stage deadline; zero disables it.
func (c PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// MonitorConfig governs the recurring scheduler.
type MonitorConfig struct {
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	Sections        []string `mapstructure:"sections"`
	MaxRetryTicks   int      `mapstructure:"max_retry_ticks"`
	StatusDir       string   `mapstructure:"status_dir"`
	StatusKeep      int      `mapstructure:"status_keep"`
}

// Interval returns the tick period.
func (c MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MessagingConfig toggles event publication and selects the broker.
type MessagingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StoreConfig selects artifact and job store backends.
type StoreConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	JobsDSN   string `mapstructure:"jobs_dsn"`
}

// IndexConfig locates the search index database.
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the monitor-mode HTTP status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOUFLOW")
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
	v.SetDefault("data_dir", "dados")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "dados/cache")
	v.SetDefault("cache.ttl_days", 7)
	v.SetDefault("fetch.base_url", "https://www.in.gov.br/leiturajornal")
	v.SetDefault("fetch.user_agent", "douflow/0.1")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.delay_min_ms", 1000)
	v.SetDefault("fetch.delay_max_ms", 3000)
	v.SetDefault("fetch.render_fallback", false)
	v.SetDefault("fetch.render_max_parallel", 1)
	v.SetDefault("fetch.render_timeout_seconds", 30)
	v.SetDefault("fetch.concurrency", 2)
	v.SetDefault("collector.max_pages", 0)
	v.SetDefault("collector.min_page_ratio", 0.95)
	v.SetDefault("collector.extra_sections", true)
	v.SetDefault("pipeline.stage_timeout_seconds", 600)
	v.SetDefault("monitor.interval_seconds", 60)
	v.SetDefault("monitor.sections", []string{"3"})
	v.SetDefault("monitor.max_retry_ticks", 3)
	v.SetDefault("monitor.status_dir", "dados/status")
	v.SetDefault("monitor.status_keep", 10)
	v.SetDefault("messaging.enabled", false)
	v.SetDefault("messaging.provider", "memory")
	v.SetDefault("store.provider", "local")
	v.SetDefault("index.path", "dados/indice.db")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.DelayMinMs > c.Fetch.DelayMaxMs {
		return fmt.Errorf("fetch.delay_min_ms must be <= fetch.delay_max_ms")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Collector.MinPageRatio < 0 || c.Collector.MinPageRatio > 1 {
		return fmt.Errorf("collector.min_page_ratio must be within [0, 1]")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if c.Messaging.Enabled && c.Messaging.Provider == "pubsub" {
		if c.Messaging.ProjectID == "" || c.Messaging.Topic == "" {
			return fmt.Errorf("messaging.project_id and messaging.topic must be set for the pubsub provider")
		}
	}
	if c.Store.Provider == "gcs" && c.Store.GCSBucket == "" {
		return fmt.Errorf("store.gcs_bucket must be set for the gcs provider")
	}
	if c.Fetch.RenderFallback && c.Fetch.RenderMaxParal <= 0 {
		return fmt.Errorf("fetch.render_max_parallel must be > 0 when render fallback is enabled")
	}
	return nil
}
