package pgm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kjetilom/network-listener/internal/types"
)

func mkPairs(n int, gin, gout, length float64) []types.GapPair {
	out := make([]types.GapPair, n)
	for i := range out {
		out[i] = types.GapPair{Gin: gin, Gout: gout, Len: length, NumAcked: 1}
	}
	return out
}

func TestEstimateBelowMinNReturnsLastABWLowConfidence(t *testing.T) {
	cfg := Config{Capacity: 1e6, MSSFloor: 500, Quantile: 0.1, MinN: 10, EMAAlpha: 0.3}
	pairs := mkPairs(3, 0.01, 0.01, 1000)

	res := Estimate(cfg, pairs, 42.0)
	assert.True(t, res.LowConfidence)
	assert.Equal(t, 42.0, res.ABW)
}

func TestEstimateNoCrossTrafficApproachesCapacity(t *testing.T) {
	// gout == gin (no queuing delay) implies ABW ~= capacity.
	cfg := Config{Capacity: 1e6, MSSFloor: 500, Quantile: 0.5, MinN: 5, EMAAlpha: 1.0}
	pairs := mkPairs(20, 0.001, 0.001, 1000)

	res := Estimate(cfg, pairs, 0)
	assert.False(t, res.LowConfidence)
	assert.InDelta(t, 1e6, res.ABW, 1e-6)
}

func TestEstimateHeavyCrossTrafficLowersABW(t *testing.T) {
	// gout = 1.5*gin implies X/C = 0.5, ABW = C*(2-1.5) = 0.5C.
	cfg := Config{Capacity: 1e6, MSSFloor: 500, Quantile: 0.9, MinN: 5, EMAAlpha: 1.0}
	pairs := mkPairs(20, 0.001, 0.0015, 1000)

	res := Estimate(cfg, pairs, 0)
	assert.False(t, res.LowConfidence)
	assert.InDelta(t, 5e5, res.ABW, 1.0)
}

func TestEstimateSmoothingBlendsWithLastABW(t *testing.T) {
	cfg := Config{Capacity: 1e6, MSSFloor: 500, Quantile: 0.5, MinN: 5, EMAAlpha: 0.5}
	pairs := mkPairs(20, 0.001, 0.001, 1000)

	res := Estimate(cfg, pairs, 400000.0)
	// raw ~= 1e6, blended = 0.5*1e6 + 0.5*400000 = 700000
	assert.InDelta(t, 700000.0, res.ABW, 1.0)
}

func TestPreFilterDropsArtifactsAboveCapacity(t *testing.T) {
	cfg := Config{Capacity: 100, MSSFloor: 1, Quantile: 0.5, MinN: 1, EMAAlpha: 1.0}
	// len/gin = 10000/0.001 = way above capacity 100; should be filtered out
	// entirely, leaving nothing for the regression set.
	pairs := mkPairs(5, 0.001, 0.001, 10000)

	res := Estimate(cfg, pairs, 7.0)
	assert.True(t, res.LowConfidence)
	assert.Equal(t, 7.0, res.ABW)
}

func TestEmptyInputIsLowConfidence(t *testing.T) {
	cfg := Config{Capacity: 1e6, MSSFloor: 500, Quantile: 0.1, MinN: 10, EMAAlpha: 0.3}
	res := Estimate(cfg, nil, 99.0)
	assert.True(t, res.LowConfidence)
	assert.Equal(t, 99.0, res.ABW)
}
