// Package config loads application configuration from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore: STATUS_AGGREGATOR__BATCH_SIZE.
const EnvPrefix = "STATUS_"

// Storage modes.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config is the application configuration.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Log            LogConfig            `koanf:"log"`
	Storage        StorageConfig        `koanf:"storage"`
	Redis          RedisConfig          `koanf:"redis"`
	Aggregator     AggregatorConfig     `koanf:"aggregator"`
	IncidentSource IncidentSourceConfig `koanf:"incident_source"`
	Publish        PublishConfig        `koanf:"publish"`
	Cache          CacheConfig          `koanf:"cache"`
	CORS           CORSConfig           `koanf:"cors"`
	Admin          AdminConfig          `koanf:"admin"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// StorageConfig selects the entity and cursor stores.
type StorageConfig struct {
	Mode   string `koanf:"mode" validate:"oneof=memory postgres"`
	Cursor string `koanf:"cursor" validate:"oneof=memory postgres redis"`
}

// RedisConfig configures the redis cursor store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

// AggregatorConfig tunes the aggregation run.
type AggregatorConfig struct {
	EventVisibilityPeriodDays     int           `koanf:"event_visibility_period_days" validate:"min=0"`
	EventStartMessageDelayMinutes int           `koanf:"event_start_message_delay_minutes" validate:"min=0"`
	IncidentGroupEndDelayMinutes  int           `koanf:"incident_group_end_delay_minutes" validate:"min=0"`
	EventEndDelayMinutes          int           `koanf:"event_end_delay_minutes" validate:"min=0"`
	MaximumSeverity               int           `koanf:"maximum_severity" validate:"min=0"`
	Environments                  []string      `koanf:"environments" validate:"min=1,dive,required"`
	BatchSize                     int           `koanf:"batch_size" validate:"min=1"`
	RunInterval                   time.Duration `koanf:"run_interval" validate:"gt=0"`
	RunTimeout                    time.Duration `koanf:"run_timeout" validate:"gt=0"`
}

// EventVisibilityPeriod returns how long ended events stay on the status page.
func (c AggregatorConfig) EventVisibilityPeriod() time.Duration {
	return time.Duration(c.EventVisibilityPeriodDays) * 24 * time.Hour
}

// EventStartMessageDelay returns how old a start must be before a message is opened.
func (c AggregatorConfig) EventStartMessageDelay() time.Duration {
	return time.Duration(c.EventStartMessageDelayMinutes) * time.Minute
}

// IncidentGroupEndDelay returns the grace window of incident groups.
func (c AggregatorConfig) IncidentGroupEndDelay() time.Duration {
	return time.Duration(c.IncidentGroupEndDelayMinutes) * time.Minute
}

// EventEndDelay returns the grace window of events.
func (c AggregatorConfig) EventEndDelay() time.Duration {
	return time.Duration(c.EventEndDelayMinutes) * time.Minute
}

// IncidentSourceConfig configures the incident API client.
// An empty base URL runs the aggregator without a source.
type IncidentSourceConfig struct {
	BaseURL    string        `koanf:"base_url" validate:"omitempty,url"`
	SigningKey string        `koanf:"signing_key"`
	Issuer     string        `koanf:"issuer"`
	PageSize   int           `koanf:"page_size" validate:"min=1"`
	RateLimit  float64       `koanf:"rate_limit" validate:"gt=0"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
}

// PublishConfig configures where status documents are written.
type PublishConfig struct {
	BlobName  string      `koanf:"blob_name" validate:"required"`
	Directory string      `koanf:"directory"`
	Kafka     KafkaConfig   `koanf:"kafka"`
	Webhook   WebhookConfig `koanf:"webhook"`
}

// KafkaConfig configures the kafka sink.
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// WebhookConfig configures the status change webhook. An empty URL disables it.
type WebhookConfig struct {
	URL      string        `koanf:"url" validate:"omitempty,url"`
	Username string        `koanf:"username"`
	IconURL  string        `koanf:"icon_url" validate:"omitempty,url"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`
}

// CacheConfig configures the status API document cache.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`
}

// CORSConfig configures allowed origins of the status API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AdminConfig configures the admin API. Admin routes are disabled without a signing key.
type AdminConfig struct {
	SigningKey string `koanf:"signing_key"`
	Issuer     string `koanf:"issuer"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Mode:   StorageMemory,
			Cursor: StorageMemory,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Aggregator: AggregatorConfig{
			EventVisibilityPeriodDays:     10,
			EventStartMessageDelayMinutes: 15,
			IncidentGroupEndDelayMinutes:  15,
			EventEndDelayMinutes:          15,
			MaximumSeverity:               2,
			Environments:                  []string{"PROD"},
			BatchSize:                     100,
			RunInterval:                   5 * time.Minute,
			RunTimeout:                    4 * time.Minute,
		},
		IncidentSource: IncidentSourceConfig{
			Issuer:    "status-aggregator",
			PageSize:  100,
			RateLimit: 5,
			Timeout:   30 * time.Second,
		},
		Publish: PublishConfig{
			BlobName: "status.json",
			Kafka: KafkaConfig{
				Topic: "status-documents",
			},
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Admin: AdminConfig{
			Issuer: "status-aggregator",
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults and
// environment variables are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	var errs []error
	if (c.Storage.Mode == StoragePostgres || c.Storage.Cursor == StoragePostgres) && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for postgres storage"))
	}
	if c.Storage.Cursor == StorageRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for redis cursor storage"))
	}
	if c.Storage.Mode == StorageMemory && c.Storage.Cursor == StoragePostgres {
		errs = append(errs, errors.New("postgres cursor storage requires postgres storage mode"))
	}
	if c.IncidentSource.BaseURL != "" && c.IncidentSource.SigningKey == "" {
		errs = append(errs, errors.New("incident_source.signing_key is required with a base url"))
	}
	if c.Publish.Kafka.Enabled && (len(c.Publish.Kafka.Brokers) == 0 || c.Publish.Kafka.Topic == "") {
		errs = append(errs, errors.New("publish.kafka requires brokers and topic when enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
