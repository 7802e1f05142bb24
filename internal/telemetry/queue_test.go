package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilom/network-listener/internal/types"
)

func TestEvictionPrefersGapPairThenRTTThenSnapshot(t *testing.T) {
	q := NewQueue(3)
	base := time.Unix(1000, 0)

	q.Push(Item{Kind: KindSnapshot, Snapshot: &types.Snapshot{}, EnqueuedAt: base})
	q.Push(Item{Kind: KindRTTBatch, RTTs: []types.RTTSample{{}}, EnqueuedAt: base.Add(time.Second)})
	q.Push(Item{Kind: KindGapPairBatch, GapPairs: []types.GapPair{{}}, EnqueuedAt: base.Add(2 * time.Second)})

	// Queue full (3/3); pushing a fourth must evict the gap-pair batch first.
	q.Push(Item{Kind: KindSnapshot, Snapshot: &types.Snapshot{}, EnqueuedAt: base.Add(3 * time.Second)})

	items := q.Drain()
	require.Len(t, items, 3)
	for _, it := range items {
		assert.NotEqual(t, KindGapPairBatch, it.Kind)
	}
}

func TestEvictionFallsBackToRTTWhenNoGapPairPresent(t *testing.T) {
	q := NewQueue(2)
	base := time.Unix(2000, 0)

	q.Push(Item{Kind: KindSnapshot, Snapshot: &types.Snapshot{}, EnqueuedAt: base})
	q.Push(Item{Kind: KindRTTBatch, RTTs: []types.RTTSample{{}}, EnqueuedAt: base.Add(time.Second)})
	q.Push(Item{Kind: KindSnapshot, Snapshot: &types.Snapshot{}, EnqueuedAt: base.Add(2 * time.Second)})

	items := q.Drain()
	require.Len(t, items, 2)
	for _, it := range items {
		assert.NotEqual(t, KindRTTBatch, it.Kind)
	}
}

func TestDropOlderThanExpiresStaleItems(t *testing.T) {
	q := NewQueue(10)
	base := time.Unix(3000, 0)

	q.Push(Item{Kind: KindSnapshot, EnqueuedAt: base})
	q.Push(Item{Kind: KindSnapshot, EnqueuedAt: base.Add(time.Minute)})

	dropped := q.DropOlderThan(base.Add(30 * time.Second))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, q.Len())
}
