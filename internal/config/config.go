// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	MaxRetries      int      `mapstructure:"max_retries"`
	RetryDelayMs    int      `mapstructure:"retry_delay_ms"`
	RetryBackoff    float64  `mapstructure:"retry_backoff"`
	RotateUserAgent bool     `mapstructure:"rotate_user_agent"`
	Proxies         []string `mapstructure:"proxies"`
	VerifySSL       bool     `mapstructure:"verify_ssl"`
	FollowRedirects bool     `mapstructure:"follow_redirects"`
	MaxRedirects    int      `mapstructure:"max_redirects"`
}

// Timeout returns the per-request timeout as a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the base backoff delay as a duration.
func (c HTTPConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// RateLimitConfig controls the shared per-domain rate limiter. The redis
// provider shares request windows across processes; memory is per-process.
type RateLimitConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	DefaultRPM    int    `mapstructure:"default_rpm"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// QueueConfig selects the job queue backend. The redis provider lets
// several worker processes share one queue; it reuses the ratelimit
// redis connection settings.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	RedisKey string `mapstructure:"redis_key"`
}

// WorkerConfig governs the job worker pool and its outer retry policy.
type WorkerConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	MaxRetries        int `mapstructure:"max_retries"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// RetryDelay returns the delay between job attempts as a duration.
func (c WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// SchedulerConfig controls the periodic crawl scheduler.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CronSpec string `mapstructure:"cron_spec"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADSNIFFER")
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
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay_ms", 1000)
	v.SetDefault("http.retry_backoff", 2.0)
	v.SetDefault("http.rotate_user_agent", true)
	v.SetDefault("http.verify_ssl", true)
	v.SetDefault("http.follow_redirects", true)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("ratelimit.provider", "memory")
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.default_rpm", 10)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.redis_key", "leadsniffer:jobs")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_delay_seconds", 60)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron_spec", "@every 15m")
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RetryBackoff < 1 {
		return fmt.Errorf("http.retry_backoff must be >= 1")
	}
	if c.RateLimit.DefaultRPM <= 0 {
		return fmt.Errorf("ratelimit.default_rpm must be > 0")
	}
	switch c.RateLimit.Provider {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("ratelimit.provider is redis but ratelimit.redis_addr is not set")
		}
	default:
		return fmt.Errorf("unknown ratelimit provider %q", c.RateLimit.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("queue.provider is redis but ratelimit.redis_addr is not set")
		}
	default:
		return fmt.Errorf("unknown queue provider %q", c.Queue.Provider)
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.provider is postgres but storage.dsn is not set")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	return nil
}
