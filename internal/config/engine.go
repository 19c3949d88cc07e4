package config

import (
	"gorm.io/gorm"

	"github.com/brightwavehq/streamfetch/internal/bandwidth"
	"github.com/brightwavehq/streamfetch/internal/circuitbreaker"
	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/connpool"
	"github.com/brightwavehq/streamfetch/internal/engine"
	"github.com/brightwavehq/streamfetch/internal/priority"
	"github.com/brightwavehq/streamfetch/internal/queue"
	"github.com/brightwavehq/streamfetch/internal/retry"
)

// ToEngineConfig adapts the flat, Viper-bound Config into the engine's own
// Config, layering any per-category retry overrides onto retry.Default()
// rather than replacing it wholesale.
func (c *Config) ToEngineConfig(db *gorm.DB) engine.Config {
	cfg := engine.Config{
		ScratchRoot: c.Engine.ScratchRoot,
		UserAgent:   c.Engine.UserAgent,
		ConnectionPool: connpool.HostConfig{
			MaxConnections:      c.ConnectionPool.MaxConnections,
			MaxIdleConnections:  c.ConnectionPool.MaxIdleConnections,
			ConnectTimeout:      c.ConnectionPool.ConnectTimeout.Duration(),
			ReadTimeout:         c.ConnectionPool.ReadTimeout.Duration(),
			KeepAliveTimeout:    c.ConnectionPool.KeepAliveTimeout.Duration(),
			HealthCheckInterval: c.ConnectionPool.HealthCheckInterval.Duration(),
			RetryBudget:         c.ConnectionPool.RetryBudget,
			RetryBackoffFactor:  c.ConnectionPool.RetryBackoffFactor,
		},
		RetryTable:      c.retryTable(),
		BreakerDefaults: c.breakerDefaults(),
		Scheduler: queue.Config{
			ConcurrencyLimit: c.Scheduler.ConcurrencyLimit,
			AdmissionTick:    c.Scheduler.AdmissionTick.Duration(),
			Strategy:         queue.Strategy(c.Scheduler.Strategy),
		},
		PriorityWeights:   c.priorityWeights(),
		Bandwidth: bandwidth.Config{
			SampleInterval:    c.Bandwidth.SampleInterval.Duration(),
			HintInterval:      c.Bandwidth.HintInterval.Duration(),
			TheoreticalMaxBps: c.Bandwidth.TheoreticalMaxBps,
		},
		SweeperInterval:   c.Engine.SweeperInterval.Duration(),
		BatchGCInterval:   c.Scratch.BatchGCInterval.Duration(),
		ScratchSweepEvery: c.Scratch.SweepInterval.Duration(),
		HistoryDB:         db,
	}
	return cfg
}

// categoryNames maps the config file's category keys to classify.Category
// values, since viper unmarshals map keys as plain strings.
var categoryNames = map[string]classify.Category{
	"network":        classify.CategoryNetwork,
	"filesystem":     classify.CategoryFilesystem,
	"authentication": classify.CategoryAuthentication,
	"validation":     classify.CategoryValidation,
	"resource":       classify.CategoryResource,
	"encryption":     classify.CategoryEncryption,
	"parsing":        classify.CategoryParsing,
	"system":         classify.CategorySystem,
}

func (c *Config) retryTable() retry.Table {
	table := retry.Default()
	for name, override := range c.Retry.Categories {
		cat, ok := categoryNames[name]
		if !ok {
			continue
		}
		table[cat] = retry.Policy{
			Strategy:   retry.Strategy(override.Strategy),
			MaxRetries: override.MaxRetries,
			BaseDelay:  override.BaseDelay.Duration(),
			Cap:        override.Cap.Duration(),
			Multiplier: override.Multiplier,
		}
	}
	return table
}

var priorityFactorNames = map[string]priority.Factor{
	"file_size":              priority.FactorFileSize,
	"user_preference":        priority.FactorUserPreference,
	"system_resources":       priority.FactorSystemResources,
	"historical_performance": priority.FactorHistoricalPerf,
	"time_sensitivity":       priority.FactorTimeSensitivity,
	"dependency_chain":       priority.FactorDependencyChain,
	"bandwidth_efficiency":   priority.FactorBandwidthEff,
	"completion_probability": priority.FactorCompletionProb,
}

func (c *Config) breakerDefaults() map[classify.Category]circuitbreaker.Config {
	overrides := make(map[classify.Category]circuitbreaker.Config, len(c.CircuitBreaker.Categories))
	for name, cfg := range c.CircuitBreaker.Categories {
		cat, ok := categoryNames[name]
		if !ok {
			continue
		}
		overrides[cat] = circuitbreaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			MonitoringWindow: cfg.MonitoringWindow.Duration(),
			RecoveryTimeout:  cfg.RecoveryTimeout.Duration(),
			SuccessThreshold: cfg.SuccessThreshold,
		}
	}
	return overrides
}

func (c *Config) priorityWeights() map[priority.Factor]float64 {
	weights := make(map[priority.Factor]float64, len(c.Priority.Weights))
	for name, w := range c.Priority.Weights {
		if factor, ok := priorityFactorNames[name]; ok {
			weights[factor] = w
		}
	}
	return weights
}
