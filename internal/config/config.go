package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Queue     QueueConfig     `yaml:"queue"`
	Rendering RenderingConfig `yaml:"rendering"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path             string        `yaml:"path"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

type CacheConfig struct {
	RedisURL    string        `yaml:"redis_url"`
	RegistryTTL time.Duration `yaml:"registry_ttl"`
}

// FleetConfig controls health monitoring and printer selection.
type FleetConfig struct {
	HealthCheckInterval time.Duration       `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration       `yaml:"probe_timeout"`
	EscalationThreshold int                 `yaml:"escalation_threshold"`
	Strategy            string              `yaml:"strategy"`
	BackupRegions       map[string][]string `yaml:"backup_regions"`
}

type QueueConfig struct {
	WorkerCount   int           `yaml:"worker_count"`
	AssignRetries int           `yaml:"assign_retries"`
	AssignBackoff time.Duration `yaml:"assign_backoff"`
}

type RenderingConfig struct {
	ServiceURL  string        `yaml:"service_url"`
	Timeout     time.Duration `yaml:"timeout"`
	ArtifactDir string        `yaml:"artifact_dir"`
}

type WebhookConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type WebhookEndpoint struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/pressroom.db",
			StatementTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			RedisURL:    "redis://localhost:6379/0",
			RegistryTTL: 5 * time.Minute,
		},
		Fleet: FleetConfig{
			HealthCheckInterval: 30 * time.Second,
			ProbeTimeout:        5 * time.Second,
			EscalationThreshold: 3,
			Strategy:            "least_connections",
		},
		Queue: QueueConfig{
			WorkerCount:   2,
			AssignRetries: 3,
			AssignBackoff: 5 * time.Second,
		},
		Rendering: RenderingConfig{
			ServiceURL:  "http://localhost:8090",
			Timeout:     2 * time.Minute,
			ArtifactDir: "./data/artifacts",
		},
		Webhooks: WebhookConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRESSROOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRESSROOM_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRESSROOM_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}

	if v := os.Getenv("PRESSROOM_STRATEGY"); v != "" {
		c.Fleet.Strategy = strings.ToLower(v)
	}

	if v := os.Getenv("PRESSROOM_RENDER_URL"); v != "" {
		c.Rendering.ServiceURL = v
	}

	if v := os.Getenv("PRESSROOM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.StatementTimeout < 0 {
		return fmt.Errorf("statement timeout must be non-negative")
	}

	if c.Cache.RegistryTTL < 0 {
		return fmt.Errorf("registry cache TTL must be non-negative")
	}

	if c.Fleet.HealthCheckInterval < 0 {
		return fmt.Errorf("health check interval must be non-negative")
	}

	if c.Fleet.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}

	if c.Fleet.EscalationThreshold < 1 {
		return fmt.Errorf("escalation threshold must be at least 1")
	}

	validStrategies := map[string]bool{
		"round_robin":       true,
		"least_connections": true,
		"weighted":          true,
	}

	if !validStrategies[c.Fleet.Strategy] {
		return fmt.Errorf("invalid strategy: %s (valid: round_robin, least_connections, weighted)", c.Fleet.Strategy)
	}

	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if c.Queue.AssignRetries < 1 {
		return fmt.Errorf("assign retries must be at least 1")
	}

	if c.Queue.AssignBackoff < 0 {
		return fmt.Errorf("assign backoff must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
