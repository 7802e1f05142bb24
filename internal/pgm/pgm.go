// Package pgm implements the Probe-Gap-Model estimator: turns a window of
// types.GapPair samples for one link into an available-bandwidth estimate,
// using gonum's quantile and weighted-mean routines for the underlying
// statistics rather than a hand-rolled implementation.
package pgm

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kjetilom/network-listener/internal/types"
)

// Config holds the per-estimator tunables.
type Config struct {
	Capacity float64 // C, bits/s or bytes/s depending on how callers scale GapPair.Len
	MSSFloor float64
	Quantile float64 // q, default 0.10
	MinN     int     // N_min, default 10
	EMAAlpha float64 // alpha, default 0.3
}

// Result is one estimation pass's output. Capacity is the link capacity
// actually used for this pass — either cfg.Capacity or, when that was
// unset, the value seedCapacity derived from the observed samples — so
// callers can report it alongside the bandwidth estimate.
type Result struct {
	ABW           float64
	Capacity      float64
	LowConfidence bool
	SampleCount   int
}

// Estimate runs the five-step PGM procedure over pairs, smoothing the
// result against lastABW with an EMA. It is a pure function: same inputs,
// same output, no package-level state.
func Estimate(cfg Config, pairs []types.GapPair, lastABW float64) Result {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = seedCapacity(pairs)
	}

	survivors := preFilter(pairs, cfg.MSSFloor, capacity)
	if len(survivors) == 0 {
		return Result{ABW: lastABW, Capacity: capacity, LowConfidence: true, SampleCount: 0}
	}

	tau := quantileThreshold(survivors, cfg.Quantile)

	var regressionSet []types.GapPair
	for _, p := range survivors {
		if p.Gin <= tau {
			regressionSet = append(regressionSet, p)
		}
	}

	if len(regressionSet) < cfg.MinN {
		return Result{ABW: lastABW, Capacity: capacity, LowConfidence: true, SampleCount: len(regressionSet)}
	}

	ybar := meanRatio(regressionSet, capacity)
	raw := capacity * (2 - ybar)
	if raw < 0 {
		raw = 0
	}

	alpha := cfg.EMAAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	smoothed := raw
	if lastABW > 0 {
		smoothed = alpha*raw + (1-alpha)*lastABW
	}

	return Result{ABW: smoothed, Capacity: capacity, LowConfidence: false, SampleCount: len(regressionSet)}
}

// preFilter drops pairs with len < MSS_floor, non-positive gaps, or rates
// that exceed capacity (likely measurement artifacts).
func preFilter(pairs []types.GapPair, mssFloor, capacity float64) []types.GapPair {
	out := make([]types.GapPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Len < mssFloor || p.Gin <= 0 || p.Gout <= 0 {
			continue
		}
		if capacity > 0 && (p.Len/p.Gin > capacity || p.Len/p.Gout > capacity) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// quantileThreshold returns the mean of gout values at or below the
// q-quantile cutoff, using gonum's empirical quantile interpolation.
func quantileThreshold(pairs []types.GapPair, q float64) float64 {
	if q <= 0 {
		q = 0.10
	}
	gouts := make([]float64, len(pairs))
	for i, p := range pairs {
		gouts[i] = p.Gout
	}
	sort.Float64s(gouts)

	cutoff := stat.Quantile(q, stat.Empirical, gouts, nil)

	var sum float64
	var n int
	for _, g := range gouts {
		if g <= cutoff {
			sum += g
			n++
		}
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

// meanRatio computes the mean of gout/gin over the regression set, weighted
// by num_acked. A single-point weighted mean degenerates to stat.Mean.
func meanRatio(pairs []types.GapPair, capacity float64) float64 {
	ratios := make([]float64, len(pairs))
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		ratios[i] = p.Gout / p.Gin
		weights[i] = float64(p.NumAcked)
		if weights[i] <= 0 {
			weights[i] = 1
		}
	}
	return stat.Mean(ratios, weights)
}

// seedCapacity estimates C from the maximum observed len/min(gin,gout) when
// no configured capacity is available.
func seedCapacity(pairs []types.GapPair) float64 {
	var max float64
	for _, p := range pairs {
		g := p.Gin
		if p.Gout < g {
			g = p.Gout
		}
		if g <= 0 {
			continue
		}
		if rate := p.Len / g; rate > max {
			max = rate
		}
	}
	return max
}
