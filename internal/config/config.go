// Package config provides configuration management for streamfetch using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8090
	defaultShutdownTimeout      = 10 * time.Second
	defaultMaxOpenConns         = 10
	defaultMaxIdleConns         = 5
	defaultConnMaxIdleTime      = 30 * time.Minute
	defaultPoolMaxConnections   = 5
	defaultPoolMaxIdle          = 5
	defaultPoolConnectTimeout   = 30 * time.Second
	defaultPoolReadTimeout      = 60 * time.Second
	defaultPoolKeepAlive        = 300 * time.Second
	defaultPoolHealthCheck      = 60 * time.Second
	defaultPerTaskParallelism   = 4
	defaultPerSegmentRetries    = 5
	defaultSamplingInterval     = time.Second
	defaultSchedulerConcurrency = 3
	defaultAdmissionTick        = 5 * time.Second
	defaultBandwidthSample      = time.Second
	defaultBandwidthHint        = 30 * time.Second
	defaultScratchSweep         = 10 * time.Minute
	defaultBatchGC              = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Engine         EngineConfig         `mapstructure:"engine"`
	ConnectionPool ConnectionPoolConfig `mapstructure:"connection_pool"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Priority       PriorityConfig       `mapstructure:"priority"`
	Bandwidth      BandwidthConfig      `mapstructure:"bandwidth"`
	Scratch        ScratchConfig        `mapstructure:"scratch"`
}

// ServerConfig holds the REST API surface's HTTP server configuration.
type ServerConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds history-store connection configuration.
type DatabaseConfig struct {
	Driver          string   `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string   `mapstructure:"dsn"`
	MaxOpenConns    int      `mapstructure:"max_open_conns"`
	MaxIdleConns    int      `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string   `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EngineConfig holds the engine's scratch root, user agent and per-task
// execution settings. PerTaskParallelism, PerSegmentMaxRetries and
// SamplingInterval are not passed on to the executor, which always runs
// with executor.DefaultConfig() (4 workers, 5 retries per segment, 1s
// sampling).
type EngineConfig struct {
	ScratchRoot          string   `mapstructure:"scratch_root"`
	UserAgent            string   `mapstructure:"user_agent"`
	PerTaskParallelism   int      `mapstructure:"per_task_parallelism"`
	PerSegmentMaxRetries int      `mapstructure:"per_segment_max_retries"`
	SamplingInterval     Duration `mapstructure:"sampling_interval"`
	SweeperInterval      Duration `mapstructure:"sweeper_interval"`
}

// ConnectionPoolConfig holds per-host ConnectionPool defaults.
type ConnectionPoolConfig struct {
	MaxConnections      int      `mapstructure:"max_connections"`
	MaxIdleConnections  int      `mapstructure:"max_idle_connections"`
	ConnectTimeout      Duration `mapstructure:"connect_timeout"`
	ReadTimeout         Duration `mapstructure:"read_timeout"`
	KeepAliveTimeout    Duration `mapstructure:"keep_alive_timeout"`
	HealthCheckInterval Duration `mapstructure:"health_check_interval"`
	RetryBudget         int      `mapstructure:"retry_budget"`
	RetryBackoffFactor  float64  `mapstructure:"retry_backoff_factor"`
}

// RetryCategoryConfig is one category's retry policy.
type RetryCategoryConfig struct {
	Strategy   string   `mapstructure:"strategy"` // exponential, linear, fixed, none
	MaxRetries int      `mapstructure:"max_retries"`
	BaseDelay  Duration `mapstructure:"base_delay"`
	Cap        Duration `mapstructure:"cap"`
	Multiplier float64  `mapstructure:"multiplier"`
}

// RetryConfig holds the per-category retry policy table.
// A category absent from this map falls back to retry.Default()'s entry.
type RetryConfig struct {
	Categories map[string]RetryCategoryConfig `mapstructure:"categories"`
}

// CircuitBreakerCategoryConfig is one category's breaker defaults.
type CircuitBreakerCategoryConfig struct {
	FailureThreshold  int      `mapstructure:"failure_threshold"`
	MonitoringWindow  Duration `mapstructure:"monitoring_window"`
	RecoveryTimeout   Duration `mapstructure:"recovery_timeout"`
	SuccessThreshold  int      `mapstructure:"success_threshold"`
}

// CircuitBreakerConfig holds the per-category breaker defaults.
type CircuitBreakerConfig struct {
	Categories map[string]CircuitBreakerCategoryConfig `mapstructure:"categories"`
}

// SchedulerConfig holds QueueScheduler admission defaults.
type SchedulerConfig struct {
	ConcurrencyLimit int      `mapstructure:"concurrency_limit"`
	AdmissionTick    Duration `mapstructure:"admission_tick"`
	Strategy         string   `mapstructure:"strategy"` // priority_first, size_optimized, time_balanced, resource_aware
}

// PriorityConfig holds PrioritizationEngine factor weights.
type PriorityConfig struct {
	Weights              map[string]float64 `mapstructure:"weights"`
	AdaptiveLearningRate float64            `mapstructure:"adaptive_learning_rate"`
}

// BandwidthConfig holds BandwidthMonitor sampling defaults.
type BandwidthConfig struct {
	SampleInterval    Duration `mapstructure:"sample_interval"`
	HintInterval      Duration `mapstructure:"hint_interval"`
	TheoreticalMaxBps float64  `mapstructure:"theoretical_max_bps"`
}

// ScratchConfig holds maintenance defaults for the scratch-directory sweep
// and batch GC cron jobs. OrphanAge is not passed to the engine; the sweep
// removes orphaned directories older than a fixed one hour.
type ScratchConfig struct {
	SweepInterval   Duration `mapstructure:"sweep_interval"`
	BatchGCInterval Duration `mapstructure:"batch_gc_interval"`
	OrphanAge       Duration `mapstructure:"orphan_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with STREAMFETCH_, using underscores for nesting.
// Example: STREAMFETCH_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamfetch")
		v.AddConfigPath("$HOME/.streamfetch")
	}

	v.SetEnvPrefix("STREAMFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This must be called before reading the config file so file/env values
// can override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamfetch.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("engine.scratch_root", "./scratch")
	v.SetDefault("engine.user_agent", "streamfetch/1.0")
	v.SetDefault("engine.per_task_parallelism", defaultPerTaskParallelism)
	v.SetDefault("engine.per_segment_max_retries", defaultPerSegmentRetries)
	v.SetDefault("engine.sampling_interval", defaultSamplingInterval)
	v.SetDefault("engine.sweeper_interval", 5*time.Second)

	v.SetDefault("connection_pool.max_connections", defaultPoolMaxConnections)
	v.SetDefault("connection_pool.max_idle_connections", defaultPoolMaxIdle)
	v.SetDefault("connection_pool.connect_timeout", defaultPoolConnectTimeout)
	v.SetDefault("connection_pool.read_timeout", defaultPoolReadTimeout)
	v.SetDefault("connection_pool.keep_alive_timeout", defaultPoolKeepAlive)
	v.SetDefault("connection_pool.health_check_interval", defaultPoolHealthCheck)
	v.SetDefault("connection_pool.retry_budget", 3)
	v.SetDefault("connection_pool.retry_backoff_factor", 0.3)

	v.SetDefault("scheduler.concurrency_limit", defaultSchedulerConcurrency)
	v.SetDefault("scheduler.admission_tick", defaultAdmissionTick)
	v.SetDefault("scheduler.strategy", "priority_first")

	v.SetDefault("priority.weights", map[string]float64{
		"file_size": 0.20, "user_preference": 0.30, "system_resources": 0.15,
		"historical_performance": 0.10, "time_sensitivity": 0.10,
		"dependency_chain": 0.05, "bandwidth_efficiency": 0.05, "completion_probability": 0.05,
	})
	v.SetDefault("priority.adaptive_learning_rate", 0.02)

	v.SetDefault("bandwidth.sample_interval", defaultBandwidthSample)
	v.SetDefault("bandwidth.hint_interval", defaultBandwidthHint)
	v.SetDefault("bandwidth.theoretical_max_bps", 100_000_000.0/8)

	v.SetDefault("scratch.sweep_interval", defaultScratchSweep)
	v.SetDefault("scratch.batch_gc_interval", defaultBatchGC)
	v.SetDefault("scratch.orphan_age", time.Hour)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Engine.PerTaskParallelism < 1 {
		return fmt.Errorf("engine.per_task_parallelism must be at least 1")
	}
	if c.Scheduler.ConcurrencyLimit < 1 {
		return fmt.Errorf("scheduler.concurrency_limit must be at least 1")
	}

	validStrategies := map[string]bool{"priority_first": true, "size_optimized": true, "time_balanced": true, "resource_aware": true}
	if !validStrategies[c.Scheduler.Strategy] {
		return fmt.Errorf("scheduler.strategy must be one of: priority_first, size_optimized, time_balanced, resource_aware")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
