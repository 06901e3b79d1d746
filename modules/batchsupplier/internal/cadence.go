package internal

import (
	"math"
	"time"
)

const (
	// cadenceWindow is the number of recent completion times kept.
	cadenceWindow = 64

	// rateStabilityThreshold is the maximum rate standard deviation as a
	// fraction of the mean rate for a stable producer.
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected interval for a stable producer.
	jitterStabilityThreshold = 0.20
)

// CadenceStats describes how regularly batches complete.
type CadenceStats struct {
	Batches      int           // completion times considered
	Span         time.Duration // first to last completion
	RateMean     float64       // batches per second
	RateStdDev   float64       // of instantaneous rates
	RateMin      float64
	RateMax      float64
	JitterMean   float64 // seconds, |interval - expected|
	JitterStdDev float64
	JitterMax    float64
	IsStable     bool // stddev < 15% of mean AND jitter < 20% of interval
}

// CalculateCadence computes batch-rate statistics from completion times.
//
// Algorithm:
//  1. Mean rate = intervals / span
//  2. Instantaneous rate per interval, min/max/stddev around the mean
//  3. Jitter = |interval - 1/mean| per interval
//  4. Stable when both spreads are under their thresholds
//
// Fewer than two times yield zero rates and IsStable false.
func CalculateCadence(times []time.Time) CadenceStats {
	n := len(times)
	stats := CadenceStats{Batches: n}
	if n < 2 {
		return stats
	}

	stats.Span = times[n-1].Sub(times[0])
	if stats.Span <= 0 {
		return stats
	}
	stats.RateMean = float64(n-1) / stats.Span.Seconds()

	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := times[i].Sub(times[i-1]).Seconds(); interval > 0 {
			rates = append(rates, 1/interval)
		}
	}
	if len(rates) == 0 {
		return stats
	}

	stats.RateMin, stats.RateMax = rates[0], rates[0]
	var sumSquares float64
	for _, r := range rates {
		stats.RateMin = math.Min(stats.RateMin, r)
		stats.RateMax = math.Max(stats.RateMax, r)
		diff := r - stats.RateMean
		sumSquares += diff * diff
	}
	stats.RateStdDev = math.Sqrt(sumSquares / float64(len(rates)))

	expected := 1 / stats.RateMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	stats.IsStable = stats.RateStdDev < rateStabilityThreshold*stats.RateMean &&
		stats.JitterMean < jitterStabilityThreshold*expected
	return stats
}

// cadenceRing keeps the last cadenceWindow completion times.
type cadenceRing struct {
	times []time.Time
	next  int
}

func (r *cadenceRing) add(t time.Time) {
	if len(r.times) < cadenceWindow {
		r.times = append(r.times, t)
		return
	}
	r.times[r.next] = t
	r.next = (r.next + 1) % cadenceWindow
}

// ordered returns the times oldest first.
func (r *cadenceRing) ordered() []time.Time {
	out := make([]time.Time, 0, len(r.times))
	out = append(out, r.times[r.next:]...)
	return append(out, r.times[:r.next]...)
}
