// Package statistics provides the summary math used in evaluation
// reports: means, standard deviations, and bootstrap confidence intervals
// over per-episode scores.
package statistics

import (
	"math"
	"math/rand"
	"sort"
)

// Interval is a bootstrap confidence interval over a score sample.
type Interval struct {
	Mean       float64 `json:"mean"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Level      float64 `json:"confidence_level"`
	Resamples  int     `json:"resamples"`
	SampleSize int     `json:"sample_size"`
}

// DefaultResamples is the number of bootstrap resamples.
const DefaultResamples = 10000

// Bootstrap computes a percentile-method confidence interval for the mean
// of scores. level is in (0, 1), e.g. 0.95. A negative seed draws from a
// non-deterministic source. With fewer than two samples the interval
// collapses to the mean.
func Bootstrap(scores []float64, level float64, seed int64) Interval {
	n := len(scores)
	m := Mean(scores)
	if n < 2 {
		return Interval{Mean: m, Lower: m, Upper: m, Level: level, SampleSize: n}
	}

	src := rand.NewSource(seed)
	if seed < 0 {
		src = rand.NewSource(rand.Int63())
	}
	rng := rand.New(src)

	means := make([]float64, DefaultResamples)
	resample := make([]float64, n)
	for i := range means {
		for j := range resample {
			resample[j] = scores[rng.Intn(n)]
		}
		means[i] = Mean(resample)
	}
	sort.Float64s(means)

	alpha := 1 - level
	lo := int(math.Floor(alpha / 2 * float64(len(means))))
	hi := int(math.Floor((1 - alpha/2) * float64(len(means))))
	if hi >= len(means) {
		hi = len(means) - 1
	}

	return Interval{
		Mean:       m,
		Lower:      means[lo],
		Upper:      means[hi],
		Level:      level,
		Resamples:  len(means),
		SampleSize: n,
	}
}

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation, or 0 for fewer than two
// values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
