package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.InDelta(t, 0.5, Mean([]float64{0, 1}), 1e-9)
	assert.InDelta(t, 0.75, Mean([]float64{1, 1, 1, 0}), 1e-9)
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, StdDev([]float64{1}))
	assert.InDelta(t, 0.5773502692, StdDev([]float64{0, 0.5, 1}), 1e-6)
}

func TestBootstrapDeterministicWithSeed(t *testing.T) {
	scores := []float64{1, 0, 1, 1, 0, 1, 0, 1, 1, 1}

	a := Bootstrap(scores, 0.95, 42)
	b := Bootstrap(scores, 0.95, 42)
	assert.Equal(t, a, b)

	assert.InDelta(t, 0.7, a.Mean, 1e-9)
	assert.LessOrEqual(t, a.Lower, a.Mean)
	assert.GreaterOrEqual(t, a.Upper, a.Mean)
	assert.Equal(t, DefaultResamples, a.Resamples)
	assert.Equal(t, 10, a.SampleSize)
}

func TestBootstrapTinySampleCollapses(t *testing.T) {
	ci := Bootstrap([]float64{0.8}, 0.95, 42)
	assert.Equal(t, 0.8, ci.Mean)
	assert.Equal(t, 0.8, ci.Lower)
	assert.Equal(t, 0.8, ci.Upper)
	assert.Zero(t, ci.Resamples)
}

func TestBootstrapIntervalNarrowsWithConfidence(t *testing.T) {
	scores := make([]float64, 50)
	for i := range scores {
		if i%2 == 0 {
			scores[i] = 1
		}
	}

	wide := Bootstrap(scores, 0.99, 7)
	narrow := Bootstrap(scores, 0.80, 7)
	assert.Less(t, wide.Lower, narrow.Lower)
	assert.Greater(t, wide.Upper, narrow.Upper)
}
