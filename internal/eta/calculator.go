// Package eta implements five ETA estimation algorithms (four estimators
// and an adaptive hybrid selector over them) plus trend detection, over a
// bounded ring of
// (timestamp, speed, bytes_downloaded) samples per task.
package eta

import (
	"math"
	"time"
)

// Algorithm names one ETA estimation strategy.
type Algorithm string

const (
	SimpleLinear        Algorithm = "simple_linear"
	ExponentialSmoothing Algorithm = "exponential_smoothing"
	WeightedAverage      Algorithm = "weighted_average"
	RegressionBased      Algorithm = "regression_based"
	AdaptiveHybrid       Algorithm = "adaptive_hybrid"
)

// Trend classifies recent speed direction.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// Sample is one observation: wall-clock time, instantaneous speed, and
// cumulative bytes downloaded at that time.
type Sample struct {
	At              time.Time
	SpeedBps        float64
	BytesDownloaded int64
}

const defaultRingCapacity = 100

// Ring is a bounded, oldest-evicted sample buffer, one per task.
type Ring struct {
	buf  []Sample
	head int
	size int
}

// NewRing allocates a ring with the default capacity (100 samples).
func NewRing() *Ring {
	return &Ring{buf: make([]Sample, defaultRingCapacity)}
}

// Add appends a sample.
func (r *Ring) Add(s Sample) {
	cap := len(r.buf)
	if r.size < cap {
		r.buf[(r.head+r.size)%cap] = s
		r.size++
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % cap
}

// Samples returns the buffered samples, oldest first.
func (r *Ring) Samples() []Sample {
	out := make([]Sample, r.size)
	cap := len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%cap]
	}
	return out
}

// Estimate bundles one algorithm's output.
type Estimate struct {
	ETASeconds float64 // math.Inf(1) when undeterminable
	Confidence float64
	Trend      Trend
	Algorithm  Algorithm
	Metadata   map[string]float64
}

func undetermined(alg Algorithm) Estimate {
	return Estimate{ETASeconds: math.Inf(1), Confidence: 0, Trend: TrendUnknown, Algorithm: alg}
}

func lastN(samples []Sample, n int) []Sample {
	if len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}

func detectTrend(samples []Sample) Trend {
	window := lastN(samples, 10)
	if len(window) < 2 {
		return TrendUnknown
	}
	mid := len(window) / 2
	first := window[:mid]
	second := window[mid:]
	meanFirst := meanSpeed(first)
	meanSecond := meanSpeed(second)
	if meanFirst == 0 {
		return TrendUnknown
	}
	change := (meanSecond - meanFirst) / meanFirst
	switch {
	case change > 0.10:
		return TrendIncreasing
	case change < -0.10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanSpeed(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.SpeedBps
	}
	return sum / float64(len(samples))
}

// Calc computes ETA estimates given the known total size and bytes so far.
type Calc struct {
	ring *Ring
}

// New constructs a Calc over ring.
func New(ring *Ring) *Calc {
	return &Calc{ring: ring}
}

// AddSample records one progress observation into the underlying ring.
func (c *Calc) AddSample(s Sample) {
	c.ring.Add(s)
}

func (c *Calc) simpleLinear(remaining float64) Estimate {
	samples := lastN(c.ring.Samples(), 10)
	if len(samples) == 0 {
		return undetermined(SimpleLinear)
	}
	mean := meanSpeed(samples)
	if mean <= 0 {
		return undetermined(SimpleLinear)
	}
	return Estimate{
		ETASeconds: remaining / mean,
		Confidence: math.Min(float64(len(samples))/10, 1),
		Trend:      detectTrend(c.ring.Samples()),
		Algorithm:  SimpleLinear,
	}
}

func (c *Calc) exponentialSmoothing(remaining float64) Estimate {
	const alpha = 0.3
	samples := c.ring.Samples()
	if len(samples) == 0 {
		return undetermined(ExponentialSmoothing)
	}
	s := samples[0].SpeedBps
	for _, sample := range samples[1:] {
		s = alpha*sample.SpeedBps + (1-alpha)*s
	}
	if s <= 0 {
		return undetermined(ExponentialSmoothing)
	}
	return Estimate{
		ETASeconds: remaining / s,
		Confidence: math.Min(float64(len(samples))/5, 1),
		Trend:      detectTrend(samples),
		Algorithm:  ExponentialSmoothing,
	}
}

func (c *Calc) weightedAverage(remaining float64) Estimate {
	samples := c.ring.Samples()
	if len(samples) == 0 {
		return undetermined(WeightedAverage)
	}
	now := samples[len(samples)-1].At
	var weightedSum, weightTotal float64
	for _, s := range samples {
		ageSec := now.Sub(s.At).Seconds()
		w := math.Exp(-ageSec / 60)
		weightedSum += w * s.SpeedBps
		weightTotal += w
	}
	if weightTotal == 0 {
		return undetermined(WeightedAverage)
	}
	speed := weightedSum / weightTotal
	if speed <= 0 {
		return undetermined(WeightedAverage)
	}
	return Estimate{
		ETASeconds: remaining / speed,
		Confidence: math.Min(float64(len(samples))/10, 1),
		Trend:      detectTrend(samples),
		Algorithm:  WeightedAverage,
	}
}

func (c *Calc) regressionBased(remaining float64) Estimate {
	samples := c.ring.Samples()
	if len(samples) < 3 {
		return undetermined(RegressionBased)
	}
	t0 := samples[0].At
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(samples))
	for _, s := range samples {
		x := s.At.Sub(t0).Seconds()
		y := float64(s.BytesDownloaded)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return undetermined(RegressionBased)
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, s := range samples {
		x := s.At.Sub(t0).Seconds()
		y := float64(s.BytesDownloaded)
		pred := slope*x + intercept
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	confidence := r2
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	if slope <= 0 {
		return undetermined(RegressionBased)
	}
	return Estimate{
		ETASeconds: remaining / slope,
		Confidence: confidence,
		Trend:      detectTrend(samples),
		Algorithm:  RegressionBased,
		Metadata:   map[string]float64{"slope_bps": slope, "r_squared": r2},
	}
}

func (c *Calc) adaptiveHybrid(remaining float64) Estimate {
	candidates := []Estimate{
		c.simpleLinear(remaining),
		c.exponentialSmoothing(remaining),
		c.weightedAverage(remaining),
		c.regressionBased(remaining),
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Confidence > best.Confidence {
			best = cand
		}
	}
	if math.IsInf(best.ETASeconds, 1) {
		return undetermined(AdaptiveHybrid)
	}

	samples := c.ring.Samples()
	sampleCountFactor := math.Min(float64(len(samples))/defaultRingCapacity, 1)
	consistency := consistencyFactor(samples)
	recency := recencyFactor(samples)
	dataQuality := 0.4*sampleCountFactor + 0.4*consistency + 0.2*recency

	best.Confidence = best.Confidence * dataQuality
	best.Algorithm = AdaptiveHybrid
	return best
}

func consistencyFactor(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := meanSpeed(samples)
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, s := range samples {
		d := s.SpeedBps - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	cv := math.Sqrt(variance) / mean
	return math.Max(0, 1-math.Min(cv, 1))
}

func recencyFactor(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	last := samples[len(samples)-1].At
	age := time.Since(last).Seconds()
	return math.Max(0, 1-math.Min(age/60, 1))
}

// Estimate dispatches to the named algorithm.
func (c *Calc) Estimate(alg Algorithm, totalBytes, bytesDownloaded int64) Estimate {
	remaining := float64(totalBytes - bytesDownloaded)
	if totalBytes <= 0 || remaining < 0 {
		remaining = 0
	}
	switch alg {
	case SimpleLinear:
		return c.simpleLinear(remaining)
	case ExponentialSmoothing:
		return c.exponentialSmoothing(remaining)
	case WeightedAverage:
		return c.weightedAverage(remaining)
	case RegressionBased:
		return c.regressionBased(remaining)
	case AdaptiveHybrid:
		return c.adaptiveHybrid(remaining)
	default:
		return c.adaptiveHybrid(remaining)
	}
}
