package linkagg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilom/network-listener/internal/types"
)

var link = types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.2"}

func TestOnPacketAccumulatesBothDirections(t *testing.T) {
	a := New(2048, 64, 64, 16)
	a.OnPacket(link, 100, true)
	a.OnPacket(link, 50, true)
	a.OnPacket(link, 200, false)

	flushes := a.SnapshotAndReset(time.Now().Add(time.Second))
	require.Len(t, flushes, 1)
	assert.Greater(t, flushes[0].ThpOut, 0.0)
	assert.Greater(t, flushes[0].ThpIn, 0.0)
}

func TestGapPairRingEvictsOldest(t *testing.T) {
	a := New(3, 64, 0, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		a.OnGapPair(link, types.GapPair{Gin: 1, Gout: 1, Len: float64(i), NumAcked: 1, T: now})
	}

	flushes := a.SnapshotAndReset(now.Add(time.Second))
	require.Len(t, flushes, 1)
	require.Len(t, flushes[0].GapPairs, 3)
	// Ring capacity 3 over 5 pushes (0..4) keeps the newest three: 2,3,4.
	assert.Equal(t, 2.0, flushes[0].GapPairs[0].Len)
	assert.Equal(t, 3.0, flushes[0].GapPairs[1].Len)
	assert.Equal(t, 4.0, flushes[0].GapPairs[2].Len)
}

func TestSnapshotRetainsTailForSmoothing(t *testing.T) {
	a := New(2048, 64, 2, 1)
	now := time.Now()
	for i := 0; i < 4; i++ {
		a.OnGapPair(link, types.GapPair{Gin: 1, Gout: 1, Len: float64(i), NumAcked: 1, T: now})
	}
	a.OnRTT(link, types.RTTSample{Link: link, RTT: time.Millisecond, T: now})
	a.OnRTT(link, types.RTTSample{Link: link, RTT: 2 * time.Millisecond, T: now})

	first := a.SnapshotAndReset(now.Add(time.Second))
	require.Len(t, first, 1)
	assert.Len(t, first[0].GapPairs, 4)
	assert.Len(t, first[0].RTTs, 2)

	// A second flush immediately after with no new samples should return the
	// retained tail (2 gap pairs, 1 rtt) rather than an empty batch.
	second := a.SnapshotAndReset(now.Add(2 * time.Second))
	require.Len(t, second, 1)
	assert.Len(t, second[0].GapPairs, 2)
	assert.Len(t, second[0].RTTs, 1)
}

func TestSnapshotResetsByteCounters(t *testing.T) {
	a := New(2048, 64, 0, 0)
	now := time.Now()
	a.OnPacket(link, 1000, true)

	first := a.SnapshotAndReset(now.Add(time.Second))
	require.Len(t, first, 1)
	assert.Greater(t, first[0].ThpOut, 0.0)

	second := a.SnapshotAndReset(now.Add(2 * time.Second))
	require.Len(t, second, 1)
	assert.Equal(t, 0.0, second[0].ThpOut)
}

func TestUpdateAndLastABW(t *testing.T) {
	a := New(2048, 64, 0, 0)
	a.UpdateEstimate(link, 12345.0, 1e9)
	assert.Equal(t, 12345.0, a.LastABW(link))
}
