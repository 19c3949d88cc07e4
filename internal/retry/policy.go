// Package retry implements the per-category adaptive retry policy table:
// should_retry/delay decisions driven by a classified error's category,
// with exponential/linear/fixed/none strategies and jitter.
package retry

import (
	"math/rand"
	"time"

	"github.com/brightwavehq/streamfetch/internal/classify"
)

// Strategy names a backoff shape.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
	StrategyNone        Strategy = "none"
)

// Policy is one category's retry configuration.
type Policy struct {
	Strategy   Strategy
	MaxRetries int
	BaseDelay  time.Duration
	Cap        time.Duration
	Multiplier float64
}

// Table maps categories to policies. Zero value for a missing category
// falls back to StrategyNone (no retry), matching Authentication/Validation/System.
type Table map[classify.Category]Policy

// Default returns the standard per-category policy table.
func Default() Table {
	return Table{
		classify.CategoryNetwork: {
			Strategy: StrategyExponential, MaxRetries: 5,
			BaseDelay: 2 * time.Second, Cap: 30 * time.Second, Multiplier: 2.0,
		},
		classify.CategoryFilesystem: {
			Strategy: StrategyLinear, MaxRetries: 3,
			BaseDelay: 1 * time.Second, Cap: 10 * time.Second,
		},
		classify.CategoryAuthentication: {Strategy: StrategyNone},
		classify.CategoryValidation:     {Strategy: StrategyNone},
		classify.CategoryResource: {
			Strategy: StrategyLinear, MaxRetries: 2,
			BaseDelay: 5 * time.Second, Cap: 15 * time.Second,
		},
		classify.CategoryEncryption: {
			Strategy: StrategyExponential, MaxRetries: 3,
			BaseDelay: 1 * time.Second, Cap: 10 * time.Second, Multiplier: 2.0,
		},
		classify.CategoryParsing: {
			Strategy: StrategyFixed, MaxRetries: 2,
			BaseDelay: 500 * time.Millisecond,
		},
		classify.CategorySystem: {Strategy: StrategyNone},
	}
}

// Engine evaluates retry decisions against a policy table.
type Engine struct {
	table Table
	rand  *rand.Rand
}

// New constructs an Engine over the given table. A nil table uses Default().
func New(table Table) *Engine {
	if table == nil {
		table = Default()
	}
	return &Engine{table: table, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (e *Engine) policyFor(cat classify.Category) Policy {
	if p, ok := e.table[cat]; ok {
		return p
	}
	return Policy{Strategy: StrategyNone}
}

// ShouldRetry reports whether attemptNumber (1-based, the attempt about to
// be made) is permitted for the given classified error. It enforces the
// stricter of the policy's MaxRetries and the error's own MaxRetries hint,
// and honors the error's Retryable flag.
func (e *Engine) ShouldRetry(err *classify.Error, attemptNumber int) bool {
	if err == nil || !err.Retryable {
		return false
	}
	p := e.policyFor(err.Category)
	if p.Strategy == StrategyNone {
		return false
	}
	limit := p.MaxRetries
	if err.MaxRetries > 0 && err.MaxRetries < limit {
		limit = err.MaxRetries
	}
	return attemptNumber <= limit
}

// Delay computes the backoff duration before attemptNumber, including jitter.
func (e *Engine) Delay(err *classify.Error, attemptNumber int) time.Duration {
	if err == nil {
		return 0
	}
	p := e.policyFor(err.Category)
	var base time.Duration
	switch p.Strategy {
	case StrategyExponential:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		factor := 1.0
		for i := 1; i < attemptNumber; i++ {
			factor *= mult
		}
		base = time.Duration(float64(p.BaseDelay) * factor)
	case StrategyLinear:
		base = p.BaseDelay * time.Duration(attemptNumber)
	case StrategyFixed:
		base = p.BaseDelay
	default:
		return 0
	}
	if p.Cap > 0 && base > p.Cap {
		base = p.Cap
	}
	jitter := time.Duration(e.rand.Float64() * float64(base) * 0.1)
	return base + jitter
}

// Immediate is a delay of zero, for callers that want to re-enqueue without
// backoff (e.g. a forced retry).
const Immediate = time.Duration(0)
