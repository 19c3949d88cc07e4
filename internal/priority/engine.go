// Package priority implements the multi-factor weighted prioritization
// engine: normalized factor scores, adaptive weight learning, and
// confidence reporting.
package priority

import (
	"math"
	"sync"
	"time"
)

// Factor names one scoring dimension.
type Factor string

const (
	FactorFileSize        Factor = "file_size"
	FactorUserPreference   Factor = "user_preference"
	FactorSystemResources  Factor = "system_resources"
	FactorHistoricalPerf   Factor = "historical_performance"
	FactorTimeSensitivity  Factor = "time_sensitivity"
	FactorDependencyChain  Factor = "dependency_chain"
	FactorBandwidthEff     Factor = "bandwidth_efficiency"
	FactorCompletionProb   Factor = "completion_probability"
)

// DefaultWeights are the standard factor weights, summing to 1.
func DefaultWeights() map[Factor]float64 {
	return map[Factor]float64{
		FactorFileSize:       0.20,
		FactorUserPreference: 0.30,
		FactorSystemResources: 0.15,
		FactorHistoricalPerf: 0.10,
		FactorTimeSensitivity: 0.10,
		FactorDependencyChain: 0.05,
		FactorBandwidthEff:   0.05,
		FactorCompletionProb: 0.05,
	}
}

const (
	minWeight = 0.01
	maxWeight = 0.5
)

// Inputs is the evidence the engine scores for one task.
type Inputs struct {
	FileSizeBytes    int64
	UserPriority     int // 1..5, 1 = urgent
	CPUPercent       float64
	MemoryPercent    float64
	ResourceIntensity float64 // desired intensity in [0,1]; 0.5 if unknown
	HistoricalSuccessRate *float64 // nil -> default 0.7
	Deadline         *time.Time
	CreatedAt        time.Time
	DependencyCount  int
	AvailableBwBps   *float64
	RequiredBwBps    *float64
	Now              time.Time
}

// Result is a scored decision with per-factor breakdown.
type Result struct {
	Score      float64
	Confidence float64
	Factors    map[Factor]float64
}

// Engine scores tasks and learns factor weights from completion outcomes.
type Engine struct {
	mu      sync.Mutex
	weights map[Factor]float64
}

// New constructs an Engine with the given weights, normalized to sum to 1.
// A nil map uses DefaultWeights.
func New(weights map[Factor]float64) *Engine {
	if weights == nil {
		weights = DefaultWeights()
	}
	e := &Engine{weights: cloneWeights(weights)}
	e.normalizeLocked()
	return e
}

func cloneWeights(w map[Factor]float64) map[Factor]float64 {
	out := make(map[Factor]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func (e *Engine) normalizeLocked() {
	sum := 0.0
	for _, w := range e.weights {
		sum += w
	}
	if sum <= 0 {
		e.weights = DefaultWeights()
		return
	}
	for f, w := range e.weights {
		e.weights[f] = w / sum
	}
}

// Weights returns a copy of the current weight map.
func (e *Engine) Weights() map[Factor]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneWeights(e.weights)
}

func fileSizeScore(bytes int64) float64 {
	const mb = 1 << 20
	switch {
	case bytes < mb:
		return 1.0
	case bytes < 10*mb:
		return 0.9
	case bytes < 100*mb:
		return 0.7
	case bytes < 1<<30:
		return 0.5
	case bytes < 5*(1<<30):
		return 0.3
	default:
		return 0.1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func userPreferenceScore(priority int) float64 {
	return clamp01(float64(priority-1) / 4.0)
}

func systemResourcesScore(cpuPct, memPct, intensity float64) float64 {
	available := (2 - cpuPct - memPct) / 2
	return 1 - math.Abs(available-intensity)
}

func historicalPerformanceScore(rate *float64) float64 {
	if rate == nil {
		return 0.7
	}
	return *rate
}

func timeSensitivityScore(deadline *time.Time, createdAt, now time.Time) float64 {
	if deadline == nil {
		ageHours := now.Sub(createdAt).Hours()
		return math.Min(1, 0.5+ageHours/168)
	}
	remaining := deadline.Sub(now)
	switch {
	case remaining <= 0:
		return 1.0
	case remaining < time.Hour:
		return 0.95
	case remaining < 24*time.Hour:
		return 0.8
	case remaining < 7*24*time.Hour:
		return 0.6
	default:
		return 0.4
	}
}

func dependencyChainScore(count int) float64 {
	switch {
	case count == 0:
		return 0.5
	case count <= 2:
		return 0.7
	case count <= 5:
		return 0.8
	default:
		return 0.9
	}
}

func bandwidthEfficiencyScore(available, required *float64) float64 {
	if available == nil || required == nil || *required <= 0 {
		return 0.5
	}
	return math.Min(1, *available / *required)
}

func completionProbabilityScore(historical, sizeFactor, resourceScore float64) float64 {
	return historical * sizeFactor * resourceScore
}

// Score computes the weighted priority for one task.
func (e *Engine) Score(in Inputs) Result {
	e.mu.Lock()
	weights := cloneWeights(e.weights)
	e.mu.Unlock()

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	hist := historicalPerformanceScore(in.HistoricalSuccessRate)
	size := fileSizeScore(in.FileSizeBytes)
	resources := systemResourcesScore(in.CPUPercent, in.MemoryPercent, orDefault(in.ResourceIntensity, 0.5))

	factors := map[Factor]float64{
		FactorFileSize:        size,
		FactorUserPreference:  userPreferenceScore(in.UserPriority),
		FactorSystemResources: resources,
		FactorHistoricalPerf:  hist,
		FactorTimeSensitivity: timeSensitivityScore(in.Deadline, in.CreatedAt, now),
		FactorDependencyChain: dependencyChainScore(in.DependencyCount),
		FactorBandwidthEff:    bandwidthEfficiencyScore(in.AvailableBwBps, in.RequiredBwBps),
		FactorCompletionProb:  completionProbabilityScore(hist, size, resources),
	}

	score := 0.0
	for f, s := range factors {
		score += weights[f] * s
	}

	confidence := confidenceFor(in, factors)

	return Result{Score: score, Confidence: confidence, Factors: factors}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func confidenceFor(in Inputs, factors map[Factor]float64) float64 {
	historicalData := 0.5
	if in.HistoricalSuccessRate != nil {
		historicalData = 1.0
	}

	mean := 0.0
	for _, s := range factors {
		mean += s
	}
	mean /= float64(len(factors))
	variance := 0.0
	for _, s := range factors {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(factors))

	completeness := 0.5
	known := 0
	total := 3
	if in.Deadline != nil {
		known++
	}
	if in.AvailableBwBps != nil && in.RequiredBwBps != nil {
		known++
	}
	if in.HistoricalSuccessRate != nil {
		known++
	}
	completeness = float64(known) / float64(total)

	c := 0.4*historicalData + 0.4*(1-clamp01(variance)) + 0.2*completeness
	if c < 0.1 {
		c = 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

// Outcome is the evidence fed back after a task completes, used to adapt
// weights.
type Outcome struct {
	Succeeded   bool
	Factors     map[Factor]float64
	FinalScore  float64
}

// Adapt nudges weights toward factors that were high when the outcome was
// favorable (and low when it was not), then clamps to [0.01, 0.5] and
// renormalizes so the sum stays 1.
func (e *Engine) Adapt(o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const learningRate = 0.02
	direction := 1.0
	if !o.Succeeded {
		direction = -1.0
	}

	for f, score := range o.Factors {
		delta := direction * learningRate * (score - 0.5)
		w := e.weights[f] + delta
		if w < minWeight {
			w = minWeight
		}
		if w > maxWeight {
			w = maxWeight
		}
		e.weights[f] = w
	}
	e.normalizeLocked()
}
