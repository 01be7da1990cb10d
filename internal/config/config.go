package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultPollIntervalSeconds = 5
	DefaultHTTPTimeout         = 10 * time.Second
	DefaultHTTPConnectTimeout  = 5 * time.Second
	DefaultRetryBaseDelay      = 1 * time.Second
	DefaultRetryMaxDelay       = 60 * time.Second
	DefaultRetryMaxAttempts    = 5
	DefaultCBFailureThreshold  = 5
	DefaultCBRecoveryTimeout   = 30 * time.Second
	DefaultOutboxBatchSize     = 10
	DefaultMetricsPort         = 9090
)

// Config is shared between cmd/server and cmd/outbox; each process only
// reads the fields relevant to it.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`

	// Database connection components (preferred over DatabaseURL)
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	DBSSLMode   string `mapstructure:"DB_SSLMODE"`

	DBMaxConns    int32 `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32 `mapstructure:"DB_MIN_CONNS"`
	DBMaxConnLife int   `mapstructure:"DB_MAX_CONN_LIFE_MINUTES"`
	DBMaxConnIdle int   `mapstructure:"DB_MAX_CONN_IDLE_MINUTES"`

	HTTPServerAddress string `mapstructure:"HTTP_SERVER_ADDRESS"`
	MetricsPort       int    `mapstructure:"METRICS_PORT"`

	InternalToken string `mapstructure:"INTERNAL_TOKEN"`

	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	ResendFrom   string `mapstructure:"RESEND_FROM"`

	TenancyServiceURL   string `mapstructure:"TENANCY_SERVICE_URL"`
	TenancyServiceToken string `mapstructure:"TENANCY_SERVICE_TOKEN"`

	DeviceServiceURL   string `mapstructure:"DEVICE_SERVICE_URL"`
	DeviceServiceToken string `mapstructure:"DEVICE_SERVICE_TOKEN"`

	PollIntervalSeconds int `mapstructure:"POLL_INTERVAL_SECONDS"`
	OutboxBatchSize     int `mapstructure:"OUTBOX_BATCH_SIZE"`

	HTTPTimeoutMs        int `mapstructure:"HTTP_TIMEOUT_MS"`
	HTTPConnectTimeoutMs int `mapstructure:"HTTP_CONNECT_TIMEOUT_MS"`

	RetryBaseDelayMs   int `mapstructure:"RETRY_BASE_DELAY_MS"`
	RetryMaxDelayMs    int `mapstructure:"RETRY_MAX_DELAY_MS"`
	RetryMaxAttempts   int `mapstructure:"RETRY_MAX_ATTEMPTS"`

	CBFailureThreshold    int `mapstructure:"CB_FAILURE_THRESHOLD"`
	CBRecoveryTimeoutMs   int `mapstructure:"CB_RECOVERY_TIMEOUT_MS"`
}

// GetDBSource returns the database connection string. If DB_HOST is set
// it builds the DSN from components with a URL-encoded password;
// otherwise it falls back to DATABASE_URL.
func (c *Config) GetDBSource() string {
	if c.DBHost != "" {
		encodedPassword := url.QueryEscape(c.DBPassword)
		sslMode := c.DBSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			c.DBUser, encodedPassword, c.DBHost, port, c.DBName, sslMode)
	}
	return c.DatabaseURL
}

func (c *Config) GetDBMaxConns() int32 {
	if c.DBMaxConns <= 0 {
		return 25
	}
	return c.DBMaxConns
}

func (c *Config) GetDBMinConns() int32 {
	if c.DBMinConns <= 0 {
		return 5
	}
	return c.DBMinConns
}

func (c *Config) GetDBMaxConnLifetime() time.Duration {
	if c.DBMaxConnLife <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.DBMaxConnLife) * time.Minute
}

func (c *Config) GetDBMaxConnIdleTime() time.Duration {
	if c.DBMaxConnIdle <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.DBMaxConnIdle) * time.Minute
}

// GetPollInterval returns the poller sleep interval, falling back to the
// documented default and logging a warning when misconfigured.
func (c *Config) GetPollInterval(logger *zap.Logger) time.Duration {
	if c.PollIntervalSeconds <= 0 {
		if logger != nil {
			logger.Warn("invalid POLL_INTERVAL_SECONDS, using default",
				zap.Int("configured", c.PollIntervalSeconds),
				zap.Int("default", DefaultPollIntervalSeconds))
		}
		return DefaultPollIntervalSeconds * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) GetOutboxBatchSize(logger *zap.Logger) int {
	if c.OutboxBatchSize <= 0 {
		if logger != nil {
			logger.Warn("invalid OUTBOX_BATCH_SIZE, using default",
				zap.Int("configured", c.OutboxBatchSize),
				zap.Int("default", DefaultOutboxBatchSize))
		}
		return DefaultOutboxBatchSize
	}
	return c.OutboxBatchSize
}

func (c *Config) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeoutMs <= 0 {
		return DefaultHTTPTimeout
	}
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

func (c *Config) GetHTTPConnectTimeout() time.Duration {
	if c.HTTPConnectTimeoutMs <= 0 {
		return DefaultHTTPConnectTimeout
	}
	return time.Duration(c.HTTPConnectTimeoutMs) * time.Millisecond
}

func (c *Config) GetRetryBaseDelay() time.Duration {
	if c.RetryBaseDelayMs <= 0 {
		return DefaultRetryBaseDelay
	}
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *Config) GetRetryMaxDelay() time.Duration {
	if c.RetryMaxDelayMs <= 0 {
		return DefaultRetryMaxDelay
	}
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c *Config) GetRetryMaxAttempts() int {
	if c.RetryMaxAttempts <= 0 {
		return DefaultRetryMaxAttempts
	}
	return c.RetryMaxAttempts
}

func (c *Config) GetCBFailureThreshold() int {
	if c.CBFailureThreshold <= 0 {
		return DefaultCBFailureThreshold
	}
	return c.CBFailureThreshold
}

func (c *Config) GetCBRecoveryTimeout() time.Duration {
	if c.CBRecoveryTimeoutMs <= 0 {
		return DefaultCBRecoveryTimeout
	}
	return time.Duration(c.CBRecoveryTimeoutMs) * time.Millisecond
}

func (c *Config) GetMetricsPort() int {
	if c.MetricsPort <= 0 {
		return DefaultMetricsPort
	}
	return c.MetricsPort
}

func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_HOST")
	_ = viper.BindEnv("DB_PORT")
	_ = viper.BindEnv("DB_USER")
	_ = viper.BindEnv("DB_PASSWORD")
	_ = viper.BindEnv("DB_NAME")
	_ = viper.BindEnv("DB_SSLMODE")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("DB_MAX_CONN_LIFE_MINUTES")
	_ = viper.BindEnv("DB_MAX_CONN_IDLE_MINUTES")
	_ = viper.BindEnv("HTTP_SERVER_ADDRESS")
	_ = viper.BindEnv("METRICS_PORT")
	_ = viper.BindEnv("INTERNAL_TOKEN")
	_ = viper.BindEnv("RESEND_API_KEY")
	_ = viper.BindEnv("RESEND_FROM")
	_ = viper.BindEnv("TENANCY_SERVICE_URL")
	_ = viper.BindEnv("TENANCY_SERVICE_TOKEN")
	_ = viper.BindEnv("DEVICE_SERVICE_URL")
	_ = viper.BindEnv("DEVICE_SERVICE_TOKEN")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("HTTP_TIMEOUT_MS")
	_ = viper.BindEnv("HTTP_CONNECT_TIMEOUT_MS")
	_ = viper.BindEnv("RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("RETRY_MAX_DELAY_MS")
	_ = viper.BindEnv("RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("CB_FAILURE_THRESHOLD")
	_ = viper.BindEnv("CB_RECOVERY_TIMEOUT_MS")

	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil //nolint:ineffassign // intentional reset for env-only mode
	}

	err = viper.Unmarshal(&config)
	return
}
