package eta

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantSpeedRing(speed float64, n int, interval time.Duration) *Ring {
	r := NewRing()
	base := time.Now().Add(-time.Duration(n) * interval)
	var bytes int64
	for i := 0; i < n; i++ {
		bytes += int64(speed * interval.Seconds())
		r.Add(Sample{At: base.Add(time.Duration(i) * interval), SpeedBps: speed, BytesDownloaded: bytes})
	}
	return r
}

func TestSimpleLinearExactOnConstantSpeed(t *testing.T) {
	ring := constantSpeedRing(1000, 12, time.Second)
	c := New(ring)

	remaining := 5000.0
	est := c.simpleLinear(remaining)
	require.False(t, math.IsInf(est.ETASeconds, 1))
	assert.InDelta(t, remaining/1000, est.ETASeconds, 1e-9)
}

func TestNoSamplesReturnsUndetermined(t *testing.T) {
	c := New(NewRing())
	for _, alg := range []Algorithm{SimpleLinear, ExponentialSmoothing, WeightedAverage, RegressionBased, AdaptiveHybrid} {
		est := c.Estimate(alg, 1000, 0)
		assert.True(t, math.IsInf(est.ETASeconds, 1), alg)
		assert.Equal(t, 0.0, est.Confidence, alg)
		assert.Equal(t, TrendUnknown, est.Trend, alg)
	}
}

func TestRegressionRequiresThreeSamples(t *testing.T) {
	ring := constantSpeedRing(500, 2, time.Second)
	c := New(ring)
	est := c.regressionBased(1000)
	assert.True(t, math.IsInf(est.ETASeconds, 1))
}

func TestTrendDetectionIncreasing(t *testing.T) {
	r := NewRing()
	base := time.Now().Add(-10 * time.Second)
	speeds := []float64{100, 100, 100, 100, 100, 300, 300, 300, 300, 300}
	for i, sp := range speeds {
		r.Add(Sample{At: base.Add(time.Duration(i) * time.Second), SpeedBps: sp, BytesDownloaded: int64(sp) * int64(i+1)})
	}
	assert.Equal(t, TrendIncreasing, detectTrend(r.Samples()))
}

func TestAdaptiveHybridPicksHighestConfidence(t *testing.T) {
	ring := constantSpeedRing(2000, 20, time.Second)
	c := New(ring)
	est := c.adaptiveHybrid(10000)
	require.False(t, math.IsInf(est.ETASeconds, 1))
	assert.Equal(t, AdaptiveHybrid, est.Algorithm)
}
