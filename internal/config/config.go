// Package config loads and validates the YAML configuration shared by
// the API and worker services.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// weightTolerance is how far the scoring weight sum may drift from 1.0.
	weightTolerance = 1e-6
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// QueueConfig selects the queue backend and its delivery policy.
type QueueConfig struct {
	Backend     string `yaml:"backend"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
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
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue
// configuration.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      BrokerQueue      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// BrokerQueue holds RabbitMQ queue declaration settings.
type BrokerQueue struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings.
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings.
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings.
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds the Redis connection URL, e.g.
// redis://localhost:6379/0.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration.
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	ReclaimSchedule   string        `yaml:"reclaim_schedule"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig holds content pipeline defaults and scoring weights.
type PipelineConfig struct {
	Topics        []string       `yaml:"topics"`
	Sources       []string       `yaml:"sources"`
	NumCandidates int            `yaml:"num_candidates"`
	MaxResults    int            `yaml:"max_results"`
	Weights       ScoringWeights `yaml:"weights"`
}

// ScoringWeights are the per-dimension weights applied when scoring
// candidate posts. They must sum to 1.0.
type ScoringWeights struct {
	Relevance   float64 `yaml:"relevance"`
	Originality float64 `yaml:"originality"`
	Depth       float64 `yaml:"depth"`
	Clarity     float64 `yaml:"clarity"`
	Engagement  float64 `yaml:"engagement"`
}

// Validate rejects weight sets that do not sum to 1.0 within tolerance.
func (w ScoringWeights) Validate() error {
	sum := w.Relevance + w.Originality + w.Depth + w.Clarity + w.Engagement
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0, got %g", sum)
	}
	return nil
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.VisibilityTimeout <= 0 {
		c.Worker.VisibilityTimeout = 10 * time.Minute
	}
	if c.Worker.ReclaimSchedule == "" {
		c.Worker.ReclaimSchedule = "@every 1m"
	}
	if c.Pipeline.NumCandidates <= 0 {
		c.Pipeline.NumCandidates = 3
	}
	if c.Pipeline.MaxResults <= 0 {
		c.Pipeline.MaxResults = 10
	}
	if c.Pipeline.Weights == (ScoringWeights{}) {
		c.Pipeline.Weights = ScoringWeights{
			Relevance:   0.30,
			Originality: 0.25,
			Depth:       0.20,
			Clarity:     0.15,
			Engagement:  0.10,
		}
	}
}

// validateBackends checks that each selected backend has the connection
// settings it needs.
func (c *Config) validateBackends() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Queue.Backend {
	case "memory":
	case "postgres":
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for the redis queue backend")
		}
	case "rabbitmq":
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}

	return c.Pipeline.Weights.Validate()
}

func (c *Config) validateDatabase() error {
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

// ValidateAPIConfig checks the configuration for the API service.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return c.validateBackends()
}

// ValidateWorkerConfig checks the configuration for the worker service.
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}
	if c.Worker.VisibilityTimeout <= 0 {
		return fmt.Errorf("worker visibility_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	return c.validateBackends()
}
