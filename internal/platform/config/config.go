package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Domains   DomainsConfig   `mapstructure:"domains"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type CacheConfig struct {
	LinkTTL    time.Duration `mapstructure:"link_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	// RedisURL switches the redirect cache from in-process memory to Redis.
	RedisURL string `mapstructure:"redis_url"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type RateLimitConfig struct {
	RedirectPerMinute int `mapstructure:"redirect_per_minute"`
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
}

type WebhooksConfig struct {
	WorkerCount      int           `mapstructure:"worker_count"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryFactor      int           `mapstructure:"retry_factor"`
	MaxRetryAfter    time.Duration `mapstructure:"max_retry_after"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	TaskBudget       time.Duration `mapstructure:"task_budget"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SnippetBytes     int           `mapstructure:"snippet_bytes"`
	RetentionDays    int           `mapstructure:"retention_days"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	SecretKey        string        `mapstructure:"secret_key"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type DomainsConfig struct {
	ShortDomain  string `mapstructure:"short_domain"`
	AppDomain    string `mapstructure:"app_domain"`
	VerifyPrefix string `mapstructure:"verify_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "file:klips.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("cache.link_ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 100000)

	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_token_ttl", 30*24*time.Hour)

	v.SetDefault("rate_limit.redirect_per_minute", 10000)
	v.SetDefault("rate_limit.api_read_per_minute", 1000)
	v.SetDefault("rate_limit.api_write_per_minute", 100)

	v.SetDefault("webhooks.worker_count", 32)
	v.SetDefault("webhooks.retry_attempts", 4)
	v.SetDefault("webhooks.retry_base_delay", time.Second)
	v.SetDefault("webhooks.retry_factor", 5)
	v.SetDefault("webhooks.max_retry_after", 30*time.Second)
	v.SetDefault("webhooks.request_timeout", 10*time.Second)
	v.SetDefault("webhooks.task_budget", 3*time.Minute)
	v.SetDefault("webhooks.failure_threshold", 10)
	v.SetDefault("webhooks.snippet_bytes", 512)
	v.SetDefault("webhooks.retention_days", 30)
	v.SetDefault("webhooks.event_buffer", 1024)
	v.SetDefault("webhooks.breaker.failure_threshold", 5)
	v.SetDefault("webhooks.breaker.open_timeout", 30*time.Second)
	v.SetDefault("webhooks.breaker.half_open_requests", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("domains.short_domain", "klips.to")
	v.SetDefault("domains.verify_prefix", "_klips-verify")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
