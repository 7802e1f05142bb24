// Package collector implements the Scheduler/Collector ingest service:
// accepts ClientDataService streams from any node, parses DataMsgs, and
// routes each payload to a persistence Sink with idempotent dedup and a
// bounded internal queue so a slow sink never blocks an upstream producer.
package collector

import (
	"sync"

	"github.com/kjetilom/network-listener/internal/types"
)

// Sink is the persistence boundary a real store (timeseries DB, object
// store) would implement; MemorySink below is the in-process stand-in used
// by tests and the collector binary.
type Sink interface {
	StoreSnapshot(senderIP string, snap types.Snapshot) error
	StoreGapPair(senderIP, linkID string, gp types.GapPair) error
	StoreRTT(senderIP, linkID string, rtt types.RTTSample) error
}

// dedupKey identifies a LinkState for at-most-once ingestion:
// (sender_ip, timestamp_ms, link_id).
type dedupKey struct {
	senderIP string
	tsMillis int64
	linkID   string
}

// MemorySink is an in-memory Sink keyed by link, useful for tests and for
// running the collector without an external datastore.
type MemorySink struct {
	mu sync.Mutex

	snapshots map[string][]types.Snapshot // keyed by link_id
	gapPairs  map[string][]types.GapPair
	rtts      map[string][]types.RTTSample

	seen map[dedupKey]struct{}
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		snapshots: make(map[string][]types.Snapshot),
		gapPairs:  make(map[string][]types.GapPair),
		rtts:      make(map[string][]types.RTTSample),
		seen:      make(map[dedupKey]struct{}),
	}
}

var _ Sink = (*MemorySink)(nil)

func (m *MemorySink) StoreSnapshot(senderIP string, snap types.Snapshot) error {
	key := dedupKey{senderIP: senderIP, tsMillis: snap.Timestamp, linkID: snap.Link.String()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}
	m.snapshots[snap.Link.String()] = append(m.snapshots[snap.Link.String()], snap)
	return nil
}

func (m *MemorySink) StoreGapPair(senderIP, linkID string, gp types.GapPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gapPairs[linkID] = append(m.gapPairs[linkID], gp)
	return nil
}

func (m *MemorySink) StoreRTT(senderIP, linkID string, rtt types.RTTSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtts[linkID] = append(m.rtts[linkID], rtt)
	return nil
}

// Snapshots returns the stored snapshots for a link, newest last.
func (m *MemorySink) Snapshots(linkID string) []types.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Snapshot, len(m.snapshots[linkID]))
	copy(out, m.snapshots[linkID])
	return out
}

// GapPairs returns the stored gap pairs for a link.
func (m *MemorySink) GapPairs(linkID string) []types.GapPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.GapPair, len(m.gapPairs[linkID]))
	copy(out, m.gapPairs[linkID])
	return out
}

// RTTs returns the stored RTT samples for a link.
func (m *MemorySink) RTTs(linkID string) []types.RTTSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.RTTSample, len(m.rtts[linkID]))
	copy(out, m.rtts[linkID])
	return out
}
