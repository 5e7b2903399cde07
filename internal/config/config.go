package config

import (
	"fmt"
	"os"
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Migrations   MigrationsConfig   `mapstructure:"migrations"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Processing   ProcessingConfig   `mapstructure:"processing"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr               string   `mapstructure:"addr"`
	GinMode            string   `mapstructure:"gin_mode"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
	ReadTimeoutSec     int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int      `mapstructure:"write_timeout_sec"`
	MaxUploadSizeMB    int      `mapstructure:"max_upload_size_mb"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver               string `mapstructure:"driver"` // postgres | memory
	DSN                  string `mapstructure:"dsn"`
	Slaves               string `mapstructure:"slaves"`
	MaxOpenConns         int    `mapstructure:"max_open_conns"`
	MaxIdleConns         int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSec   int    `mapstructure:"conn_max_lifetime_sec"`
	ConnectRetries       int    `mapstructure:"connect_retries"`
	ConnectRetryDelaySec int    `mapstructure:"connect_retry_delay_sec"`
}

type MigrationsConfig struct {
	Path string `mapstructure:"path"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	TaskTopic         string   `mapstructure:"task_topic"`
	DeadLetterTopic   string   `mapstructure:"dead_letter_topic"`
	NotificationTopic string   `mapstructure:"notification_topic"`
	GroupID           string   `mapstructure:"group_id"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // local | s3 | memory
	LocalPath string `mapstructure:"local_path"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

type ProcessingConfig struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type WorkerConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	MaxAttempts int  `mapstructure:"max_attempts"` // deliveries before dead-lettering
	Embedded    bool `mapstructure:"embedded"`     // run the pool inside the api process

	// requeued task n waits requeue_delay_ms * requeue_backoff^(n-1), capped
	RequeueDelayMs     int     `mapstructure:"requeue_delay_ms"`
	RequeueBackoff     float64 `mapstructure:"requeue_backoff"`
	MaxRequeueDelaySec int     `mapstructure:"max_requeue_delay_sec"`
}

func (w WorkerConfig) RequeueDelay() time.Duration {
	return time.Duration(w.RequeueDelayMs) * time.Millisecond
}

func (w WorkerConfig) MaxRequeueDelay() time.Duration {
	return time.Duration(w.MaxRequeueDelaySec) * time.Second
}

type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSec   int    `mapstructure:"ttl_sec"`
}

type RetryConfig struct {
	Attempts int     `mapstructure:"attempts"`
	DelayMs  int     `mapstructure:"delay_ms"`
	Backoff  float64 `mapstructure:"backoff"`
}

func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

type NotificationConfig struct {
	PublicURL string `mapstructure:"public_url"` // base for links in notifications
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(path string) (*Config, error) {
	cfg := config.New()

	configPath := path
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else if _, err := os.Stat("/app/config.yaml"); err == nil {
			configPath = "/app/config.yaml"
		} else {
			return nil, fmt.Errorf("config.yaml not found")
		}
	}

	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = ""
	}

	if err := cfg.Load(configPath, envPath, "APP"); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appConfig := &Config{}
	if err := cfg.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(appConfig)

	if err := validateConfig(appConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	zlog.Logger.Info().
		Str("config_path", configPath).
		Str("database_driver", appConfig.Database.Driver).
		Str("storage_type", appConfig.Storage.Type).
		Str("task_topic", appConfig.Kafka.TaskTopic).
		Int("worker_concurrency", appConfig.Worker.Concurrency).
		Bool("cache_enabled", appConfig.Cache.Enabled).
		Msg("Config loaded successfully via wbf")

	return appConfig, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = "release"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.ConnectRetries == 0 {
		cfg.Database.ConnectRetries = 15
	}
	if cfg.Database.ConnectRetryDelaySec == 0 {
		cfg.Database.ConnectRetryDelaySec = 3
	}
	if cfg.Processing.JPEGQuality == 0 {
		cfg.Processing.JPEGQuality = 90
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.RequeueDelayMs == 0 {
		cfg.Worker.RequeueDelayMs = 2000
	}
	if cfg.Worker.RequeueBackoff == 0 {
		cfg.Worker.RequeueBackoff = 2
	}
	if cfg.Worker.MaxRequeueDelaySec == 0 {
		cfg.Worker.MaxRequeueDelaySec = 300
	}
	if cfg.Cache.TTLSec == 0 {
		cfg.Cache.TTLSec = 3600
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.DelayMs == 0 {
		cfg.Retry.DelayMs = 500
	}
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *Config) error {
	// Server
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive")
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		return fmt.Errorf("server.read_timeout_sec must be positive")
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("server.write_timeout_sec must be positive")
	}
	if cfg.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("server.max_upload_size_mb must be positive")
	}

	// Database
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if cfg.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if cfg.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns must be non-negative")
		}
		if cfg.Migrations.Path == "" {
			return fmt.Errorf("migrations.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'memory'")
	}

	// Kafka
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must contain at least one broker")
	}
	if cfg.Kafka.TaskTopic == "" {
		return fmt.Errorf("kafka.task_topic is required")
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		return fmt.Errorf("kafka.dead_letter_topic is required")
	}
	if cfg.Kafka.NotificationTopic == "" {
		return fmt.Errorf("kafka.notification_topic is required")
	}
	if cfg.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}

	// Storage
	switch cfg.Storage.Type {
	case "local":
		if cfg.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path is required for local storage")
		}
	case "s3":
		if cfg.Storage.S3Endpoint == "" {
			return fmt.Errorf("storage.s3_endpoint is required for s3 storage")
		}
		if cfg.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for s3 storage")
		}
		if cfg.Storage.S3AccessKey == "" || cfg.Storage.S3SecretKey == "" {
			return fmt.Errorf("storage.s3_access_key and storage.s3_secret_key are required for s3 storage")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage.type is required (local|s3|memory)")
	default:
		return fmt.Errorf("storage.type must be 'local', 's3' or 'memory'")
	}

	// Processing
	if cfg.Processing.JPEGQuality < 1 || cfg.Processing.JPEGQuality > 100 {
		return fmt.Errorf("processing.jpeg_quality must be within 1..100")
	}

	// Worker
	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if cfg.Worker.RequeueDelayMs < 0 {
		return fmt.Errorf("worker.requeue_delay_ms must not be negative")
	}
	if cfg.Worker.RequeueBackoff < 1 {
		return fmt.Errorf("worker.requeue_backoff must be at least 1")
	}

	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}
	if cfg.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive")
	}
	if cfg.Retry.Backoff < 1 {
		return fmt.Errorf("retry.backoff must be at least 1")
	}

	return nil
}
