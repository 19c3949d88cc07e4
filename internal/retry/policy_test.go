package retry

import (
	"testing"
	"time"

	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetryHonorsCategoryNone(t *testing.T) {
	e := New(nil)
	err := classify.Authentication(classify.VariantHTTP4xx, "unauthorized", nil)
	err.Retryable = true // even if flagged retryable, policy says no
	assert.False(t, e.ShouldRetry(err, 1))
}

func TestShouldRetryEnforcesStricterMaxRetries(t *testing.T) {
	e := New(nil)
	err := classify.Network(classify.VariantConnectionTimeout, "timeout", nil)
	err.MaxRetries = 2 // stricter than the Network policy's 5

	assert.True(t, e.ShouldRetry(err, 2))
	assert.False(t, e.ShouldRetry(err, 3))
}

func TestDelayExponentialWithinJitterBand(t *testing.T) {
	e := New(nil)
	err := classify.Network(classify.VariantConnectionTimeout, "timeout", nil)

	d0 := e.Delay(err, 1)
	d1 := e.Delay(err, 2)

	require.True(t, d0 >= 2*time.Second && d0 <= time.Duration(2.2*float64(time.Second)))
	require.True(t, d1 >= 4*time.Second && d1 <= time.Duration(4.4*float64(time.Second)))
}

func TestDelayRespectsCap(t *testing.T) {
	e := New(nil)
	err := classify.Network(classify.VariantConnectionTimeout, "timeout", nil)

	d := e.Delay(err, 10) // would be enormous uncapped
	assert.LessOrEqual(t, d, time.Duration(33*float64(time.Second)))
}

func TestNotRetryableNeverRetries(t *testing.T) {
	e := New(nil)
	err := classify.Network(classify.VariantHTTP4xx, "forbidden", nil)
	assert.False(t, e.ShouldRetry(err, 1))
}
