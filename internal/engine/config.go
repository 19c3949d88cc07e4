// Package engine wires every subsystem into a single context. One process
// may hold several Engines; they share httpclient.DefaultRegistry, where
// each Engine's connection pool registers its per-host clients by host key.
package engine

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/brightwavehq/streamfetch/internal/bandwidth"
	"github.com/brightwavehq/streamfetch/internal/circuitbreaker"
	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/connpool"
	"github.com/brightwavehq/streamfetch/internal/priority"
	"github.com/brightwavehq/streamfetch/internal/queue"
	"github.com/brightwavehq/streamfetch/internal/retry"
)

// Config is the complete set of knobs New needs to build an Engine.
type Config struct {
	ScratchRoot       string
	UserAgent         string
	ConnectionPool    connpool.HostConfig
	RetryTable        retry.Table
	BreakerDefaults   map[classify.Category]circuitbreaker.Config
	Scheduler         queue.Config
	PriorityWeights   map[priority.Factor]float64
	Bandwidth         bandwidth.Config
	SweeperInterval   time.Duration
	BatchGCInterval   time.Duration
	ScratchSweepEvery time.Duration
	HistoryDB         *gorm.DB
}

// DefaultConfig fills every subsystem's own defaults.
func DefaultConfig(db *gorm.DB) Config {
	return Config{
		ScratchRoot:       "./scratch",
		UserAgent:         "streamfetch/1.0",
		ConnectionPool:    connpool.DefaultHostConfig(),
		Scheduler:         queue.DefaultConfig(),
		Bandwidth:         bandwidth.DefaultConfig(),
		SweeperInterval:   5 * time.Second,
		BatchGCInterval:   5 * time.Minute,
		ScratchSweepEvery: 10 * time.Minute,
		HistoryDB:         db,
	}
}

func defaultLogger() *slog.Logger { return slog.Default() }
