// Package circuitbreaker implements per-host failure isolation:
// Closed/Open/HalfOpen states driven by a rolling monitoring window of
// recent outcomes, with per-category defaults.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/brightwavehq/streamfetch/internal/classify"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config is one breaker's tunables.
type Config struct {
	FailureThreshold int
	MonitoringWindow time.Duration
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultConfig is the generic fallback: threshold 5, 300s monitoring
// window, 60s recovery.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, MonitoringWindow: 300 * time.Second, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 3}
}

// CategoryDefaults holds the per-category breaker tuning overrides.
func CategoryDefaults() map[classify.Category]Config {
	return map[classify.Category]Config{
		classify.CategoryNetwork:    {FailureThreshold: 3, MonitoringWindow: 30 * time.Second, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 2},
		classify.CategoryFilesystem: {FailureThreshold: 5, MonitoringWindow: 10 * time.Second, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 1},
		classify.CategoryEncryption: {FailureThreshold: 2, MonitoringWindow: 60 * time.Second, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 1},
	}
}

type outcome struct {
	at      time.Time
	success bool
}

// Breaker is one host's circuit breaker state.
type Breaker struct {
	mu    sync.Mutex
	cfg   Config
	state State

	outcomes []outcome // rolling window, oldest first

	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

// New constructs a breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

func (b *Breaker) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for i < len(b.outcomes) && b.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.outcomes = b.outcomes[i:]
	}
}

func (b *Breaker) countFailuresLocked() int {
	n := 0
	for _, o := range b.outcomes {
		if !o.success {
			n++
		}
	}
	return n
}

// Allow reports whether a new request may proceed, transitioning Open to
// HalfOpen once the recovery timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.consecutiveSuccess = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful request outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.outcomes = append(b.outcomes, outcome{at: now, success: true})
	b.evictStaleLocked(now)
	b.consecutiveFailures = 0

	if b.state == HalfOpen {
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccess = 0
		}
	}
}

// RecordFailure reports a failed request outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.outcomes = append(b.outcomes, outcome{at: now, success: false})
	b.evictStaleLocked(now)
	b.consecutiveFailures++

	switch b.state {
	case Closed:
		if b.countFailuresLocked() >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = now
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.consecutiveSuccess = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.outcomes = nil
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
}
