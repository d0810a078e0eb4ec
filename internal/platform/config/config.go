package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bounds for per-tenant and default outbound delivery settings.
const (
	MinRetryAttempts = 1
	MaxRetryAttempts = 10
	MinTimeoutMS     = 5000
	MaxTimeoutMS     = 120000
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PublicURL is the externally reachable base URL, used to advertise webhook endpoints.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	WebhookPerMinute int `mapstructure:"webhook_per_minute"`
	APIPerMinute     int `mapstructure:"api_per_minute"`
}

type WebhooksConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// RequireSignature rejects unsigned calls even for tenants without a secret.
	RequireSignature  bool          `mapstructure:"require_signature"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	TimeoutMS         int           `mapstructure:"timeout_ms"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	DeliveryRetention time.Duration `mapstructure:"delivery_retention"`
}

type RealtimeConfig struct {
	SendBuffer      int           `mapstructure:"send_buffer"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// ClientConfig configures cmd/bell.
type ClientConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	CompensateOnFailure bool          `mapstructure:"compensate_on_failure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.public_url", "http://localhost:8080")

	v.SetDefault("database.path", "./data/bizdash.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("jwt.access_token_ttl", 24*time.Hour)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Webhook-Signature"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("rate_limit.webhook_per_minute", 600)
	v.SetDefault("rate_limit.api_per_minute", 1200)

	v.SetDefault("webhooks.max_body_bytes", 1<<20)
	v.SetDefault("webhooks.require_signature", false)
	v.SetDefault("webhooks.retry_attempts", 3)
	v.SetDefault("webhooks.timeout_ms", 10000)
	v.SetDefault("webhooks.retry_interval", 5*time.Minute)
	v.SetDefault("webhooks.delivery_retention", 7*24*time.Hour)

	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.broadcast_buffer", 1024)
	v.SetDefault("realtime.ping_period", 54*time.Second)

	v.SetDefault("redis.channel", "bizdash:realtime")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.poll_interval", 30*time.Second)
	v.SetDefault("client.compensate_on_failure", false)
}

// Load reads the YAML file at path and applies BIZDASH_* environment overrides.
// A missing file is not an error; defaults and environment are used instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BIZDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required")
	}
	if c.Webhooks.RetryAttempts < MinRetryAttempts || c.Webhooks.RetryAttempts > MaxRetryAttempts {
		return fmt.Errorf("config: webhooks.retry_attempts must be between %d and %d", MinRetryAttempts, MaxRetryAttempts)
	}
	if c.Webhooks.TimeoutMS < MinTimeoutMS || c.Webhooks.TimeoutMS > MaxTimeoutMS {
		return fmt.Errorf("config: webhooks.timeout_ms must be between %d and %d", MinTimeoutMS, MaxTimeoutMS)
	}
	return nil
}
