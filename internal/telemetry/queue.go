// Package telemetry implements the Telemetry Fan-Out: a bounded per-peer
// outbound queue with gap-pair/RTT/snapshot drop priority, a collector
// client that reconnects with jittered exponential backoff, and the
// BandwidthService serving side (SayHello, GetBandwidth,
// SubscribeBandwidth) with slow-subscriber eviction.
package telemetry

import (
	"sync"
	"time"

	"github.com/kjetilom/network-listener/internal/types"
)

// ItemKind discriminates the three payload shapes an outbound queue holds.
type ItemKind int

const (
	KindGapPairBatch ItemKind = iota
	KindRTTBatch
	KindSnapshot
)

// Item is one enqueued unit of outbound telemetry. Only the field matching
// Kind is populated.
type Item struct {
	Kind ItemKind
	// Link attributes GapPairs/RTTs to a link; Snapshot already carries its
	// own Link field.
	Link       types.LinkKey
	GapPairs   []types.GapPair
	RTTs       []types.RTTSample
	Snapshot   *types.Snapshot
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO. When full, a new push evicts the oldest item
// matching, in priority order, gap-pair batch, then RTT batch, then
// snapshot — snapshots are "lossy-safe" since the next tick re-emits
// current state, so they're the last resort.
type Queue struct {
	mu    sync.Mutex
	cap   int
	items []Item
}

// NewQueue creates an empty queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{cap: capacity}
}

// Push enqueues an item, evicting by priority if the queue is full.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		q.evictOneLocked()
	}
	q.items = append(q.items, item)
}

func (q *Queue) evictOneLocked() {
	for _, kind := range []ItemKind{KindGapPairBatch, KindRTTBatch, KindSnapshot} {
		for i, it := range q.items {
			if it.Kind == kind {
				q.items = append(q.items[:i], q.items[i+1:]...)
				return
			}
		}
	}
	// Nothing matched (shouldn't happen since every item has a Kind); drop
	// the oldest entry outright rather than overflow.
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

// DropOlderThan discards items enqueued before cutoff, used to expire
// buffered batches that went stale while the client was reconnecting.
func (q *Queue) DropOlderThan(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	dropped := 0
	for _, it := range q.items {
		if it.EnqueuedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return dropped
}

// Drain removes and returns every queued item in FIFO order.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
