package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// SweeperConfig drives the notification sweep.
type SweeperConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	Concurrency         int           `mapstructure:"concurrency"`
	DeliveryConcurrency int           `mapstructure:"delivery_concurrency"`
	BatchSize           int           `mapstructure:"batch_size"`
	ChannelTimeout      time.Duration `mapstructure:"channel_timeout"`
	RunOnStart          bool          `mapstructure:"run_on_start"`
}

type RevocationConfig struct {
	Backend       string        `mapstructure:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetentionConfig enables periodic pruning of the activity log when Days > 0.
type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EmailConfig struct {
	From     string `mapstructure:"from"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Enabled reports whether enough is configured to send mail.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != "" && strings.TrimSpace(c.From) != ""
}

type PushConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	DatabaseURL string           `mapstructure:"database_url"`
	ServerPort  string           `mapstructure:"server_port"`
	JWTSecret   string           `mapstructure:"jwt_secret"`
	JWTTTL      time.Duration    `mapstructure:"jwt_ttl"`
	LogLevel    string           `mapstructure:"log_level"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Sweeper     SweeperConfig    `mapstructure:"sweeper"`
	Revocation  RevocationConfig `mapstructure:"revocation"`
	Retention   RetentionConfig  `mapstructure:"retention"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Email       EmailConfig      `mapstructure:"email"`
	Push        PushConfig       `mapstructure:"push"`
	CORS        CORSConfig       `mapstructure:"cors"`
}

// Load reads config.yaml from . or ./config, applies MONEV_* environment overrides
// and exits the process on invalid configuration.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	config, err := Parse(v)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return config
}

// SetDefaults registers every key so environment overrides apply even without a file.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix("MONEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_url", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", 24*time.Hour)
	v.SetDefault("log_level", "info")

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("sweeper.interval", 5*time.Minute)
	v.SetDefault("sweeper.concurrency", 8)
	v.SetDefault("sweeper.delivery_concurrency", 16)
	v.SetDefault("sweeper.batch_size", 500)
	v.SetDefault("sweeper.channel_timeout", 10*time.Second)
	v.SetDefault("sweeper.run_on_start", true)

	v.SetDefault("revocation.backend", "")
	v.SetDefault("revocation.sweep_interval", 24*time.Hour)

	v.SetDefault("retention.days", 0)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("email.from", "")
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.topic", "")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

// Parse unmarshals and validates v after applying defaults.
func Parse(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))
	config.Revocation.Backend = strings.ToLower(strings.TrimSpace(config.Revocation.Backend))
	if config.Revocation.Backend == "" {
		config.Revocation.Backend = config.Storage.Driver
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must be set")
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres storage driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Revocation.Backend {
	case DriverPostgres:
		if c.Storage.Driver != DriverPostgres {
			return errors.New("postgres revocation backend requires the postgres storage driver")
		}
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown revocation backend %q", c.Revocation.Backend)
	}
	if c.Sweeper.Interval <= 0 || c.Revocation.SweepInterval <= 0 {
		return errors.New("sweep intervals must be positive")
	}
	if c.Sweeper.Concurrency < 1 {
		return errors.New("sweeper.concurrency must be at least 1")
	}
	if c.Sweeper.DeliveryConcurrency < 1 {
		return errors.New("sweeper.delivery_concurrency must be at least 1")
	}
	if c.Sweeper.ChannelTimeout <= 0 {
		return errors.New("sweeper.channel_timeout must be positive")
	}
	if c.Retention.Days < 0 {
		return errors.New("retention.days must not be negative")
	}
	if c.Retention.Days > 0 && c.Retention.Interval <= 0 {
		return errors.New("retention.interval must be positive when retention.days is set")
	}
	return nil
}
