package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Vote       VoteConfig       `mapstructure:"vote"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Account    AccountConfig    `mapstructure:"account"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent | error | warn | info
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	UserCacheTTL time.Duration `mapstructure:"user_cache_ttl"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// FeedConfig 时间线与扇出参数
type FeedConfig struct {
	MaxLength     int           `mapstructure:"max_length"`
	BackfillCount int           `mapstructure:"backfill_count"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	ClaimLimit    int           `mapstructure:"claim_limit"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RateLimit     float64       `mapstructure:"rate_limit"` // feed writes per second, 0 = unlimited
	MaxAttempts   int           `mapstructure:"max_attempts"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type VoteConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type AlertConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type PaginationConfig struct {
	FeedPerPage    int `mapstructure:"feed_per_page"`
	ProfilePerPage int `mapstructure:"profile_per_page"`
	AlertsPerPage  int `mapstructure:"alerts_per_page"`
	MaxPerPage     int `mapstructure:"max_per_page"`
}

type AccountConfig struct {
	ActivationWindow time.Duration `mapstructure:"activation_window"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval"`
}

// DispatchConfig 告警外发（邮件等由下游消费）
type DispatchConfig struct {
	Workers      int      `mapstructure:"workers"`
	QueueSize    int      `mapstructure:"queue_size"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load 读取配置文件（FEED_CONFIG 或 ./config/config.yaml），并允许 FEED_ 前缀环境变量覆盖
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("FEED_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置（测试与基准使用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=socialfeed port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.user_cache_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("feed.max_length", 1000)
	v.SetDefault("feed.backfill_count", 5)
	v.SetDefault("feed.workers", 4)
	v.SetDefault("feed.batch_size", 500)
	v.SetDefault("feed.claim_limit", 64)
	v.SetDefault("feed.poll_interval", 50*time.Millisecond)
	v.SetDefault("feed.rate_limit", 0)
	v.SetDefault("feed.max_attempts", 5)
	v.SetDefault("feed.stale_after", time.Minute)

	v.SetDefault("vote.window", 5*time.Minute)

	v.SetDefault("alert.ttl", 28*24*time.Hour)

	v.SetDefault("pagination.feed_per_page", 25)
	v.SetDefault("pagination.profile_per_page", 50)
	v.SetDefault("pagination.alerts_per_page", 50)
	v.SetDefault("pagination.max_per_page", 100)

	v.SetDefault("account.activation_window", 24*time.Hour)
	v.SetDefault("account.purge_interval", 10*time.Minute)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 10000)
	v.SetDefault("dispatch.kafka_topic", "feed.alerts")

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "socialfeed")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate 检查会导致运行期异常的取值
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Feed.MaxLength <= 0 {
		return errors.New("feed.max_length must be positive")
	}
	if c.Feed.BackfillCount < 0 {
		return errors.New("feed.backfill_count must not be negative")
	}
	if c.Vote.Window <= 0 {
		return errors.New("vote.window must be positive")
	}
	if c.Pagination.MaxPerPage <= 0 {
		return errors.New("pagination.max_per_page must be positive")
	}
	return nil
}
