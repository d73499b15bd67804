// Package config loads and validates crawld configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crawlforge/crawld/internal/crawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Session   SessionDefaults `mapstructure:"session"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Blob      BlobConfig      `mapstructure:"blob"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig selects and tunes the durable store backend.
type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
}

// SessionDefaults supplies crawl parameters for jobs that omit them.
type SessionDefaults struct {
	Strategy             string `mapstructure:"strategy"`
	MaxPages             int    `mapstructure:"max_pages"`
	MaxDepth             int    `mapstructure:"max_depth"`
	MaxConcurrent        int    `mapstructure:"max_concurrent"`
	DomainConcurrencyCap int    `mapstructure:"domain_concurrency_cap"`
	MinDelayMs           int    `mapstructure:"min_delay_ms"`
	RetryMaxAttempts     int    `mapstructure:"retry_max_attempts"`
	RetryBaseMs          int    `mapstructure:"retry_base_ms"`
	RetryMaxMs           int    `mapstructure:"retry_max_ms"`
}

// ProxyConfig seeds and tunes the proxy pool.
type ProxyConfig struct {
	Static                 []StaticProxy `mapstructure:"static"`
	BlacklistThreshold     int           `mapstructure:"blacklist_threshold"`
	BlacklistBaseSeconds   int           `mapstructure:"blacklist_base_seconds"`
	BlacklistMaxSeconds    int           `mapstructure:"blacklist_max_seconds"`
	RefreshIntervalSeconds int           `mapstructure:"refresh_interval_seconds"`
}

// StaticProxy is one configured proxy endpoint.
type StaticProxy struct {
	ID        string   `mapstructure:"id"`
	Endpoint  string   `mapstructure:"endpoint"`
	Protocols []string `mapstructure:"protocols"`
	Region    string   `mapstructure:"region"`
}

// SchedulerConfig controls the dispatch loop.
type SchedulerConfig struct {
	TickSeconds       int `mapstructure:"tick_seconds"`
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	RetryBaseSeconds  int `mapstructure:"retry_base_seconds"`
	RetryMaxSeconds   int `mapstructure:"retry_max_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ProjectID     string `mapstructure:"project_id"`
	PagesTopic    string `mapstructure:"pages_topic"`
	SessionsTopic string `mapstructure:"sessions_topic"`
}

// BlobConfig selects where raw page content lands.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "crawld/1.0")
	v.SetDefault("fetch.max_body_bytes", 8<<20)
	v.SetDefault("session.strategy", "breadth_first")
	v.SetDefault("session.max_pages", 100)
	v.SetDefault("session.max_depth", 3)
	v.SetDefault("session.max_concurrent", 4)
	v.SetDefault("session.domain_concurrency_cap", 2)
	v.SetDefault("session.min_delay_ms", 1000)
	v.SetDefault("session.retry_max_attempts", 3)
	v.SetDefault("session.retry_base_ms", 250)
	v.SetDefault("session.retry_max_ms", 30000)
	v.SetDefault("proxy.blacklist_threshold", 3)
	v.SetDefault("proxy.blacklist_base_seconds", 30)
	v.SetDefault("proxy.blacklist_max_seconds", 1800)
	v.SetDefault("proxy.refresh_interval_seconds", 60)
	v.SetDefault("scheduler.tick_seconds", 1)
	v.SetDefault("scheduler.max_concurrent_jobs", 4)
	v.SetDefault("scheduler.retry_base_seconds", 5)
	v.SetDefault("scheduler.retry_max_seconds", 300)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.pages_topic", "crawl.pages")
	v.SetDefault("pubsub.sessions_topic", "crawl.sessions")
	v.SetDefault("blob.backend", "memory")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if !crawl.StrategyKind(c.Session.Strategy).Known() {
		return fmt.Errorf("session.strategy %q is not a known strategy", c.Session.Strategy)
	}
	if c.Session.MaxPages <= 0 {
		return fmt.Errorf("session.max_pages must be > 0")
	}
	if c.Session.MaxDepth < 0 {
		return fmt.Errorf("session.max_depth must be >= 0")
	}
	if c.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("session.max_concurrent must be > 0")
	}
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be > 0")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	switch c.Blob.Backend {
	case "memory":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("blob.backend must be memory or gcs")
	}
	return nil
}

// SessionConfig expands the configured defaults into a full per-session
// config for jobs that do not override them.
func (c Config) SessionConfig() crawl.SessionConfig {
	return crawl.SessionConfig{
		Strategy:             crawl.StrategyKind(c.Session.Strategy),
		MaxPages:             c.Session.MaxPages,
		MaxDepth:             c.Session.MaxDepth,
		MaxConcurrent:        c.Session.MaxConcurrent,
		DomainConcurrencyCap: c.Session.DomainConcurrencyCap,
		MinDelayDefault:      time.Duration(c.Session.MinDelayMs) * time.Millisecond,
		Retry: crawl.RetryConfig{
			MaxAttempts: c.Session.RetryMaxAttempts,
			BaseDelay:   time.Duration(c.Session.RetryBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(c.Session.RetryMaxMs) * time.Millisecond,
		},
	}
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// SchedulerTick converts the configured tick into a duration.
func (c Config) SchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// ProxyRecords converts the static proxy list into pool candidates.
func (c Config) ProxyRecords() []crawl.ProxyRecord {
	recs := make([]crawl.ProxyRecord, 0, len(c.Proxy.Static))
	for i, p := range c.Proxy.Static {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("proxy-%d", i+1)
		}
		protocols := p.Protocols
		if len(protocols) == 0 {
			protocols = []string{"http", "https"}
		}
		recs = append(recs, crawl.ProxyRecord{
			ID:        id,
			Endpoint:  p.Endpoint,
			Protocols: protocols,
			Region:    p.Region,
		})
	}
	return recs
}
