package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsSumToOne(t *testing.T) {
	e := New(nil)
	sum := 0.0
	for _, w := range e.Weights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestFileSizeScoreBands(t *testing.T) {
	assert.Equal(t, 1.0, fileSizeScore(500<<10))
	assert.Equal(t, 0.9, fileSizeScore(5<<20))
	assert.Equal(t, 0.7, fileSizeScore(50<<20))
	assert.Equal(t, 0.1, fileSizeScore(10<<30))
}

func TestUserPreferenceScoreExtremes(t *testing.T) {
	assert.Equal(t, 0.0, userPreferenceScore(1))
	assert.Equal(t, 1.0, userPreferenceScore(5))
}

func TestTimeSensitivityOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	assert.Equal(t, 1.0, timeSensitivityScore(&past, now.Add(-2*time.Hour), now))
}

func TestTimeSensitivityNoDeadlineGrowsWithAge(t *testing.T) {
	now := time.Now()
	recent := timeSensitivityScore(nil, now, now)
	old := timeSensitivityScore(nil, now.Add(-168*time.Hour), now)
	assert.Greater(t, old, recent)
}

func TestScoreProducesClampedConfidence(t *testing.T) {
	e := New(nil)
	res := e.Score(Inputs{FileSizeBytes: 1 << 20, UserPriority: 3, CreatedAt: time.Now()})
	assert.GreaterOrEqual(t, res.Confidence, 0.1)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestAdaptKeepsWeightsBoundedAndNormalized(t *testing.T) {
	e := New(nil)
	for i := 0; i < 50; i++ {
		e.Adapt(Outcome{Succeeded: i%2 == 0, Factors: map[Factor]float64{
			FactorFileSize:       0.9,
			FactorUserPreference: 0.1,
		}})
	}
	sum := 0.0
	for _, w := range e.Weights() {
		require.GreaterOrEqual(t, w, minWeight-1e-9)
		require.LessOrEqual(t, w, maxWeight+1e-9)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}
