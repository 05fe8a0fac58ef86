package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "notifyd.yaml"
	DefaultHTTPAddr        = ":8080"
	DefaultNATSURL         = "nats://localhost:4222"
	DefaultProviderTimeout = 120 * time.Second
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	NATSURL     string `yaml:"nats_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`

	// APIKey guards the management API when set. Generate one with
	// `notifyd genkey`.
	APIKey string `yaml:"api_key"`

	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	Retry       RetryConfig       `yaml:"retry"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	SMSGateway  SMSGatewayConfig  `yaml:"sms_gateway"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	JitterFactor      float64       `yaml:"jitter_factor"` // 0.0-1.0, percentage of jitter to add
	PollInterval      time.Duration `yaml:"poll_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SMSGatewayConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:        DefaultHTTPAddr,
		NATSURL:         DefaultNATSURL,
		Workers:         8,
		QueueSize:       256,
		ProviderTimeout: DefaultProviderTimeout,
		Retry: RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			JitterFactor:      0.2, // 20% jitter
			PollInterval:      5 * time.Second,
			StaleAfter:        5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if addr := os.Getenv("NOTIFYD_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if url := os.Getenv("NOTIFYD_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if dsn := os.Getenv("NOTIFYD_POSTGRES_DSN"); dsn != "" {
		cfg.PostgresDSN = dsn
	}
	if url := os.Getenv("NOTIFYD_REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if key := os.Getenv("NOTIFYD_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if key := os.Getenv("NOTIFYD_SMS_API_KEY"); key != "" {
		cfg.SMSGateway.APIKey = key
	}
	if pass := os.Getenv("NOTIFYD_SMTP_PASSWORD"); pass != "" {
		cfg.SMTP.Password = pass
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
