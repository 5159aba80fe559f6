// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-queue/internal/executor"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPEQ_SCHEDULER_CONCURRENCY.
const EnvPrefix = "SCRAPEQ"

// Storage backends for the result archive.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Request   RequestConfig   `mapstructure:"request"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Cache     CacheConfig     `mapstructure:"cache"`
	GC        GCConfig        `mapstructure:"gc"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RequestConfig governs request key normalization.
type RequestConfig struct {
	KeyLength int `mapstructure:"key_length"`
}

// SchedulerConfig bounds admission and execution.
type SchedulerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// JobsConfig controls job record retention.
type JobsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// GCConfig sets the sweep cadence.
type GCConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	Headless      bool          `mapstructure:"headless"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
	UserAgent     string        `mapstructure:"user_agent"`
	WarmupTimeout time.Duration `mapstructure:"warmup_timeout"`
}

// ExecutorConfig describes the upstream lookup form.
type ExecutorConfig struct {
	TargetURL         string         `mapstructure:"target_url"`
	InputSelector     string         `mapstructure:"input_selector"`
	SubmitSelector    string         `mapstructure:"submit_selector"`
	ResultSelector    string         `mapstructure:"result_selector"`
	NotFoundSelector  string         `mapstructure:"not_found_selector"`
	NotFoundText      string         `mapstructure:"not_found_text"`
	Tabs              []executor.Tab `mapstructure:"tabs"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration  `mapstructure:"settle_delay"`
}

// RateLimitConfig throttles requests to the upstream host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// UpstreamConfig configures the readiness probe.
type UpstreamConfig struct {
	ProbeEnabled bool          `mapstructure:"probe_enabled"`
	ProbeURL     string        `mapstructure:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// StorageConfig selects where completed results are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the outcome history database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	// Keys without a real default are registered empty so env overrides reach Unmarshal.
	for _, key := range []string{
		"auth.api_key",
		"executor.target_url", "executor.input_selector", "executor.submit_selector",
		"executor.result_selector", "executor.not_found_selector", "executor.not_found_text",
		"browser.exec_path", "upstream.probe_url", "storage.gcs_bucket",
		"db.dsn", "pubsub.project_id", "pubsub.topic_name",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("request.key_length", 11)
	v.SetDefault("scheduler.concurrency", 2)
	v.SetDefault("scheduler.execution_timeout", "90s")
	v.SetDefault("jobs.ttl", "1h")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("gc.interval", "1m")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "scrapequeue/0.1")
	v.SetDefault("browser.warmup_timeout", "30s")
	v.SetDefault("executor.navigation_timeout", "45s")
	v.SetDefault("executor.settle_delay", "500ms")
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("upstream.probe_enabled", false)
	v.SetDefault("upstream.probe_timeout", "5s")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.local_dir", "data/results")
	v.SetDefault("db.table", "lookup_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Request.KeyLength <= 0 {
		return fmt.Errorf("request.key_length must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.ExecutionTimeout <= 0 {
		return fmt.Errorf("scheduler.execution_timeout must be > 0")
	}
	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("jobs.ttl must be > 0")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	if c.GC.Interval <= 0 {
		return fmt.Errorf("gc.interval must be > 0")
	}
	if c.Executor.TargetURL != "" {
		if _, err := url.ParseRequestURI(c.Executor.TargetURL); err != nil {
			return fmt.Errorf("executor.target_url: %w", err)
		}
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.Upstream.ProbeEnabled && c.ProbeURL() == "" {
		return fmt.Errorf("upstream.probe_url or executor.target_url must be set when the probe is enabled")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ProbeURL is the URL the readiness probe checks.
func (c Config) ProbeURL() string {
	if c.Upstream.ProbeURL != "" {
		return c.Upstream.ProbeURL
	}
	return c.Executor.TargetURL
}

// ExecutorSettings converts the executor section into executor.Config.
func (c Config) ExecutorSettings() executor.Config {
	return executor.Config{
		TargetURL:         c.Executor.TargetURL,
		InputSelector:     c.Executor.InputSelector,
		SubmitSelector:    c.Executor.SubmitSelector,
		ResultSelector:    c.Executor.ResultSelector,
		NotFoundSelector:  c.Executor.NotFoundSelector,
		NotFoundText:      c.Executor.NotFoundText,
		Tabs:              c.Executor.Tabs,
		NavigationTimeout: c.Executor.NavigationTimeout,
		SettleDelay:       c.Executor.SettleDelay,
		UserAgent:         c.Browser.UserAgent,
	}
}
