// Package linkagg implements the Link Aggregator: per-LinkKey rolling byte
// counters, bounded gap-pair/RTT rings, and atomic tick-driven snapshots,
// guarded by a per-link mutex rather than a single global lock.
package linkagg

import (
	"sync"
	"time"

	"github.com/kjetilom/network-listener/internal/types"
)

// ring is a fixed-capacity, oldest-evicted buffer.
type ring struct {
	buf   []interface{}
	cap   int
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]interface{}, capacity), cap: capacity}
}

func (r *ring) push(v interface{}) {
	if r.cap == 0 {
		return
	}
	idx := (r.start + r.size) % r.cap
	if r.size == r.cap {
		r.start = (r.start + 1) % r.cap
	} else {
		r.size++
	}
	r.buf[idx] = v
}

// drain returns all elements in insertion order and empties the ring,
// leaving keep of the most recent elements behind as a retained tail for
// smoothing on the next estimation pass.
func (r *ring) drain(keep int) []interface{} {
	out := make([]interface{}, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%r.cap]
	}
	if keep >= r.size {
		return out
	}
	if keep <= 0 {
		r.start, r.size = 0, 0
		return out
	}
	tail := out[r.size-keep:]
	for i, v := range tail {
		r.buf[i] = v
	}
	r.start, r.size = 0, keep
	return out
}

// linkState is the live per-link counters; one per direction of a
// conversation (see types.LinkKey).
type linkState struct {
	mu sync.Mutex

	bytesIn, bytesOut uint64
	gapPairs          *ring
	rtts              *ring

	lastABW   float64
	lastBW    float64
	lastFlush time.Time
}

// Aggregator owns all LinkStates. Access is per-link mutex guarded rather
// than message-passed; SnapshotAndReset is atomic per link because each
// link holds its own mutex.
type Aggregator struct {
	mu    sync.Mutex // guards the links map itself, not its values
	links map[types.LinkKey]*linkState

	gapPairCap int
	rttCap     int
	retainGap  int
	retainRTT  int
	isLocal    func(srcLocal bool) bool
}

// New creates an Aggregator. gapPairCap/rttCap are the ring capacities;
// retainGap/retainRTT are how many of the most recent samples survive a
// flush, for regression continuity.
func New(gapPairCap, rttCap, retainGap, retainRTT int) *Aggregator {
	return &Aggregator{
		links:      make(map[types.LinkKey]*linkState),
		gapPairCap: gapPairCap,
		rttCap:     rttCap,
		retainGap:  retainGap,
		retainRTT:  retainRTT,
	}
}

func (a *Aggregator) get(link types.LinkKey) *linkState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ls, ok := a.links[link]
	if !ok {
		ls = &linkState{
			gapPairs:  newRing(a.gapPairCap),
			rtts:      newRing(a.rttCap),
			lastFlush: time.Now(),
		}
		a.links[link] = ls
	}
	return ls
}

// OnPacket increments the appropriate byte counter. outbound is true when
// the packet travels from the local endpoint to the neighbor.
func (a *Aggregator) OnPacket(link types.LinkKey, nBytes int, outbound bool) {
	ls := a.get(link)
	ls.mu.Lock()
	if outbound {
		ls.bytesOut += uint64(nBytes)
	} else {
		ls.bytesIn += uint64(nBytes)
	}
	ls.mu.Unlock()
}

// OnGapPair appends a gap pair to the link's bounded ring.
func (a *Aggregator) OnGapPair(link types.LinkKey, gp types.GapPair) {
	ls := a.get(link)
	ls.mu.Lock()
	ls.gapPairs.push(gp)
	ls.mu.Unlock()
}

// OnRTT appends an RTT sample to the link's bounded ring.
func (a *Aggregator) OnRTT(link types.LinkKey, sample types.RTTSample) {
	ls := a.get(link)
	ls.mu.Lock()
	ls.rtts.push(sample)
	ls.mu.Unlock()
}

// Flush is one link's detached batch plus the snapshot fields a caller has
// not yet filled in (BW/ABW/Latency come from the PGM Estimator and RTT
// smoothing, applied by the Tick task after calling SnapshotAndReset).
type Flush struct {
	Link      types.LinkKey
	ThpIn     float64
	ThpOut    float64
	LastABW   float64
	LastBW    float64
	GapPairs  []types.GapPair
	RTTs      []types.RTTSample
	Timestamp time.Time
}

// SnapshotAndReset atomically captures every link's counters and ring
// contents, resets byte counters, and leaves a retained tail of gap pairs
// and RTTs for the next estimation window. now must be strictly after each
// link's last flush for its throughput rates to be meaningful.
func (a *Aggregator) SnapshotAndReset(now time.Time) []Flush {
	a.mu.Lock()
	links := make([]types.LinkKey, 0, len(a.links))
	for k := range a.links {
		links = append(links, k)
	}
	a.mu.Unlock()

	out := make([]Flush, 0, len(links))
	for _, key := range links {
		ls := a.get(key)
		ls.mu.Lock()

		elapsed := now.Sub(ls.lastFlush).Seconds()
		var thpIn, thpOut float64
		if elapsed > 0 {
			thpIn = float64(ls.bytesIn) / elapsed
			thpOut = float64(ls.bytesOut) / elapsed
		}

		gpRaw := ls.gapPairs.drain(a.retainGap)
		rttRaw := ls.rtts.drain(a.retainRTT)

		gp := make([]types.GapPair, 0, len(gpRaw))
		for _, v := range gpRaw {
			gp = append(gp, v.(types.GapPair))
		}
		rtts := make([]types.RTTSample, 0, len(rttRaw))
		for _, v := range rttRaw {
			rtts = append(rtts, v.(types.RTTSample))
		}

		f := Flush{
			Link:      key,
			ThpIn:     thpIn,
			ThpOut:    thpOut,
			LastABW:   ls.lastABW,
			LastBW:    ls.lastBW,
			GapPairs:  gp,
			RTTs:      rtts,
			Timestamp: now,
		}

		ls.bytesIn, ls.bytesOut = 0, 0
		ls.lastFlush = now

		ls.mu.Unlock()
		out = append(out, f)
	}
	return out
}

// UpdateEstimate records the PGM Estimator's output against a link so the
// next snapshot reports it, and so the estimator has last_abw to smooth
// against on its next invocation.
func (a *Aggregator) UpdateEstimate(link types.LinkKey, abw, bw float64) {
	ls := a.get(link)
	ls.mu.Lock()
	ls.lastABW = abw
	ls.lastBW = bw
	ls.mu.Unlock()
}

// LastABW returns a link's most recent smoothed estimate, used by the PGM
// Estimator as the EMA's previous value.
func (a *Aggregator) LastABW(link types.LinkKey) float64 {
	ls := a.get(link)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastABW
}

// Links returns the set of currently tracked link keys.
func (a *Aggregator) Links() []types.LinkKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.LinkKey, 0, len(a.links))
	for k := range a.links {
		out = append(out, k)
	}
	return out
}
