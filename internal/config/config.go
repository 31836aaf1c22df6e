package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Log          LogConfig          `mapstructure:"log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Translation  TranslationConfig  `mapstructure:"translation"`
	Notification NotificationConfig `mapstructure:"notification"`
	Business     BusinessConfig     `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`    // gin mode: debug, release, test
	NodeID          int64         `mapstructure:"node_id"` // snowflake node, unique per replica
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite only
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvents     string `mapstructure:"payment_events"`
	TranslationEvents string `mapstructure:"translation_events"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, text
	Output     string `mapstructure:"output"` // file, stdout, both
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint"` // https://<host>, path-style addressing
	Region        string        `mapstructure:"region"`
	Bucket        string        `mapstructure:"bucket"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	UploadTTL     time.Duration `mapstructure:"upload_ttl"`
}

type PaymentConfig struct {
	Provider      string           `mapstructure:"provider"` // cloudpayments, fake
	PublicID      string           `mapstructure:"public_id"`
	WebhookSecret string           `mapstructure:"webhook_secret"`
	Currency      string           `mapstructure:"currency"`
	Skin          string           `mapstructure:"skin"`
	Products      map[string]int64 `mapstructure:"products"` // product id -> price per minute, minor units
}

type TranslationConfig struct {
	Provider        string        `mapstructure:"provider"` // http, fake
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FakePollsToDone int           `mapstructure:"fake_polls_to_done"`
}

type NotificationConfig struct {
	Provider     string `mapstructure:"provider"` // smtp, log
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
	FromName     string `mapstructure:"from_name"`
	AppName      string `mapstructure:"app_name"`
	AppBaseURL   string `mapstructure:"app_base_url"`
}

type BusinessConfig struct {
	MaxVideoDurationSeconds int           `mapstructure:"max_video_duration_seconds"`
	ReconcileInterval       time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize      int           `mapstructure:"reconcile_batch_size"`
	ReconcileConcurrency    int           `mapstructure:"reconcile_concurrency"`
	ReconcileLease          bool          `mapstructure:"reconcile_lease"`
	MaxStartAttempts        int           `mapstructure:"max_start_attempts"`
	JobMaxAge               time.Duration `mapstructure:"job_max_age"`
	ClaimTTL                time.Duration `mapstructure:"claim_ttl"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval"`
	OutboxInterval          time.Duration `mapstructure:"outbox_interval"`
	OutboxMaxRetry          int           `mapstructure:"outbox_max_retry"`
	LanguageCacheTTL        time.Duration `mapstructure:"language_cache_ttl"`
}

const (
	minUploadTTL = time.Minute
	maxUploadTTL = time.Hour
)

// LoadConfig reads the YAML file at configPath (optional) and applies
// LIPDUB_* environment overrides on top of the defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("lipdub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	if c.Storage.UploadTTL < minUploadTTL || c.Storage.UploadTTL > maxUploadTTL {
		return fmt.Errorf("storage.upload_ttl must be between %s and %s, got %s", minUploadTTL, maxUploadTTL, c.Storage.UploadTTL)
	}
	// The fake provider still delivers completions through signed webhooks.
	if c.Payment.WebhookSecret == "" {
		return errors.New("payment.webhook_secret is required")
	}
	if len(c.Payment.Products) == 0 {
		return errors.New("payment.products must define at least one product")
	}
	for id, price := range c.Payment.Products {
		if price <= 0 {
			return fmt.Errorf("payment.products.%s must be positive", id)
		}
	}
	for name, d := range map[string]time.Duration{
		"business.reconcile_interval": c.Business.ReconcileInterval,
		"business.cleanup_interval":   c.Business.CleanupInterval,
		"business.outbox_interval":    c.Business.OutboxInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	// A claim must outlive the start call it guards.
	if c.Business.ClaimTTL <= c.Translation.Timeout {
		return fmt.Errorf("business.claim_ttl (%s) must be longer than translation.timeout (%s)",
			c.Business.ClaimTTL, c.Translation.Timeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", 1)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "lipdub.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.payment_events", "payment.events")
	v.SetDefault("kafka.topic.translation_events", "translation.events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.path", "./logs")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.upload_ttl", 15*time.Minute)

	v.SetDefault("payment.provider", "fake")
	v.SetDefault("payment.currency", "RUB")
	v.SetDefault("payment.skin", "classic")
	v.SetDefault("payment.products", map[string]int64{"lipsync": 149})

	v.SetDefault("translation.provider", "fake")
	v.SetDefault("translation.timeout", 15*time.Second)
	v.SetDefault("translation.fake_polls_to_done", 2)

	v.SetDefault("notification.provider", "log")
	v.SetDefault("notification.smtp_port", 587)
	v.SetDefault("notification.app_name", "LipDub")

	v.SetDefault("business.max_video_duration_seconds", 4*60*60)
	v.SetDefault("business.reconcile_interval", time.Minute)
	v.SetDefault("business.reconcile_batch_size", 50)
	v.SetDefault("business.reconcile_concurrency", 4)
	v.SetDefault("business.reconcile_lease", true)
	v.SetDefault("business.max_start_attempts", 5)
	v.SetDefault("business.job_max_age", 24*time.Hour)
	v.SetDefault("business.claim_ttl", 10*time.Minute)
	v.SetDefault("business.cleanup_interval", 5*time.Minute)
	v.SetDefault("business.outbox_interval", time.Second)
	v.SetDefault("business.outbox_max_retry", 5)
	v.SetDefault("business.language_cache_ttl", time.Hour)

	// AutomaticEnv only reaches keys viper already knows about.
	for key, value := range map[string]any{
		"database.host":              "",
		"database.port":              0,
		"database.user":              "",
		"database.password":          "",
		"database.database":          "",
		"database.log_sql":           false,
		"redis.enabled":              false,
		"redis.password":             "",
		"redis.db":                   0,
		"kafka.enabled":              false,
		"storage.endpoint":           "",
		"storage.bucket":             "",
		"storage.access_key":         "",
		"storage.secret_key":         "",
		"storage.public_base_url":    "",
		"payment.public_id":          "",
		"payment.webhook_secret":     "",
		"translation.base_url":       "",
		"translation.api_key":        "",
		"notification.smtp_host":     "",
		"notification.smtp_user":     "",
		"notification.smtp_password": "",
		"notification.from":          "",
		"notification.from_name":     "",
		"notification.app_base_url":  "",
	} {
		v.SetDefault(key, value)
	}
}
