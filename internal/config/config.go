package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server identity configuration
type ServerConfig struct {
	ServerID        string        `yaml:"server_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds on-disk layout configuration
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	BranchesDir string `yaml:"branches_dir"`
	SchemasDir  string `yaml:"schemas_dir"`
	SeedsDir    string `yaml:"seeds_dir"`
}

// JournalConfig holds event journal configuration
type JournalConfig struct {
	SyncWrites bool `yaml:"sync_writes"`
}

// ArchiverConfig holds archive cycle configuration
type ArchiverConfig struct {
	Enabled     bool          `yaml:"enabled"`
	PostgresURL string        `yaml:"postgres_url"`
	Interval    time.Duration `yaml:"interval"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
}

// SequenceConfig holds sequence allocator configuration
type SequenceConfig struct {
	RulesPath string `yaml:"rules_path"`
}

// NotifierConfig holds outbound notification configuration.
// Redis publishing is optional; the in-process broadcaster always runs.
type NotifierConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

// ModuleDef declares a business module and the tables its schema must define
type ModuleDef struct {
	Tables []string `yaml:"tables"`
}

// ModulesConfig maps modules to their required tables and tenants to the
// modules they run
type ModulesConfig struct {
	Modules        map[string]ModuleDef `yaml:"modules"`
	Tenants        map[string][]string  `yaml:"tenants"`
	DefaultModules []string             `yaml:"default_modules"`
}

// PipelineConfig holds mutation pipeline configuration
type PipelineConfig struct {
	LockedTables []string `yaml:"locked_tables"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the branchstore daemon
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Journal  JournalConfig  `yaml:"journal"`
	Archiver ArchiverConfig `yaml:"archiver"`
	Sequence SequenceConfig `yaml:"sequence"`
	Notifier NotifierConfig `yaml:"notifier"`
	Modules  ModulesConfig  `yaml:"modules"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/branchstore"
	}
	if cfg.Storage.BranchesDir == "" {
		cfg.Storage.BranchesDir = filepath.Join(cfg.Storage.DataDir, "branches")
	}
	if cfg.Storage.SchemasDir == "" {
		cfg.Storage.SchemasDir = filepath.Join(cfg.Storage.DataDir, "schemas")
	}
	if cfg.Storage.SeedsDir == "" {
		cfg.Storage.SeedsDir = filepath.Join(cfg.Storage.DataDir, "seeds")
	}

	if cfg.Archiver.Interval == 0 {
		cfg.Archiver.Interval = time.Minute
	}
	if cfg.Archiver.Workers == 0 {
		cfg.Archiver.Workers = 4
	}
	if cfg.Archiver.QueueSize == 0 {
		cfg.Archiver.QueueSize = 64
	}

	if cfg.Sequence.RulesPath == "" {
		cfg.Sequence.RulesPath = filepath.Join(cfg.Storage.DataDir, "sequence-rules.json")
	}

	if cfg.Notifier.ChannelPrefix == "" {
		cfg.Notifier.ChannelPrefix = "branchstore:events"
	}
	if cfg.Notifier.BufferSize == 0 {
		cfg.Notifier.BufferSize = 256
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9095
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ServerID == "" {
		return fmt.Errorf("server.server_id is required")
	}
	if c.Archiver.Enabled && c.Archiver.PostgresURL == "" {
		return fmt.Errorf("archiver.postgres_url is required when the archiver is enabled")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535")
	}
	return nil
}

// TenantModules returns the modules configured for a tenant, falling back
// to the shared defaults when the tenant has no explicit entry.
func (c *Config) TenantModules(tenantID string) []string {
	if modules, ok := c.Modules.Tenants[tenantID]; ok {
		out := make([]string, len(modules))
		copy(out, modules)
		return out
	}
	out := make([]string, len(c.Modules.DefaultModules))
	copy(out, c.Modules.DefaultModules)
	return out
}
