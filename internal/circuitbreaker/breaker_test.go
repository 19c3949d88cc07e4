package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterExactlyThresholdFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 5, MonitoringWindow: 30 * time.Second, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 3})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, Closed, b.State(), "should not open before threshold")
	}
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestOpenRejectsUntilRecoveryTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MonitoringWindow: time.Minute, RecoveryTimeout: 50 * time.Millisecond, SuccessThreshold: 1})
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MonitoringWindow: time.Minute, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MonitoringWindow: time.Minute, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestMonitoringWindowEvictsOldFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, MonitoringWindow: 20 * time.Millisecond, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "stale failures outside the window must not count")
}
