package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultIngestTimeout bounds a single CSV upload
	DefaultIngestTimeout = 60 * time.Second
	// DefaultMaxFileBytes caps an uploaded CSV file (32 MiB)
	DefaultMaxFileBytes = 32 << 20
	// DefaultSweepSchedule runs the upload sweeper every 15 minutes
	DefaultSweepSchedule = "*/15 * * * *"
	// DefaultSweepMaxAge is the age after which a leftover upload is removed
	DefaultSweepMaxAge = time.Hour
	// DefaultPublishQueueSize bounds events waiting for the broker
	DefaultPublishQueueSize = 256
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Upload   UploadConfig   `yaml:"upload"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// Event publishing is skipped entirely when Enabled is false.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
	QueueSize         int           `yaml:"queue_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	File         string `yaml:"file"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// UploadConfig controls CSV upload handling
type UploadConfig struct {
	Dir           string        `yaml:"dir"`
	MaxFileBytes  int64         `yaml:"max_file_bytes"`
	IngestTimeout time.Duration `yaml:"ingest_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Upload.Dir == "" {
		c.Upload.Dir = os.TempDir()
	}
	if c.Upload.MaxFileBytes <= 0 {
		c.Upload.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Upload.IngestTimeout <= 0 {
		c.Upload.IngestTimeout = DefaultIngestTimeout
	}
	if c.Upload.SweepSchedule == "" {
		c.Upload.SweepSchedule = DefaultSweepSchedule
	}
	if c.Upload.SweepMaxAge <= 0 {
		c.Upload.SweepMaxAge = DefaultSweepMaxAge
	}
	if c.RabbitMQ.Publish.Timeout <= 0 {
		c.RabbitMQ.Publish.Timeout = 5 * time.Second
	}
	if c.RabbitMQ.Publish.QueueSize <= 0 {
		c.RabbitMQ.Publish.QueueSize = DefaultPublishQueueSize
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.ValidateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	// the sweeper must never reach a file an upload is still reading
	if c.Upload.SweepMaxAge <= c.Upload.IngestTimeout {
		return fmt.Errorf("upload sweep_max_age (%s) must be longer than ingest_timeout (%s)",
			c.Upload.SweepMaxAge, c.Upload.IngestTimeout)
	}

	if c.Upload.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Upload.SweepSchedule); err != nil {
			return fmt.Errorf("invalid upload sweep_schedule %q: %w", c.Upload.SweepSchedule, err)
		}
	}

	return nil
}

// ValidateDatabase checks only the database section; the admin CLI needs
// nothing else
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}
