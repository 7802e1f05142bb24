// Package tick implements the Tick Driver: a periodic timer that, on each
// fire, asks the Link Aggregator for a snapshot and detached batches, runs
// the PGM Estimator over each link's window, enqueues outbound telemetry,
// and prunes closed flows. If the previous tick is still running when the
// next fire arrives, that fire is skipped (not queued) and counted as an
// overrun.
package tick

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjetilom/network-listener/internal/flowtable"
	"github.com/kjetilom/network-listener/internal/linkagg"
	"github.com/kjetilom/network-listener/internal/pgm"
	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/telemetry"
	"github.com/kjetilom/network-listener/internal/types"
)

// Publisher is the subset of a Telemetry Server a Driver fans snapshots out
// to; kept as an interface so tests can substitute a recorder and so a node
// without a serving side (collector-only deployments) can pass nil.
type Publisher interface {
	Publish(link types.LinkKey, snap types.Snapshot)
}

// Outbox is the subset of a telemetry Client a Driver enqueues onto.
type Outbox interface {
	Enqueue(item telemetry.Item)
}

// Driver owns the node's tick cadence. It holds no business state of its
// own beyond the most recent snapshot per link (for GetBandwidth queries);
// everything else is read from / written to the Link Aggregator, Flow
// Table, and telemetry layers it is handed at construction.
type Driver struct {
	interval time.Duration
	agg      *linkagg.Aggregator
	flows    *flowtable.Table
	pgmCfg   pgm.Config
	outbox   Outbox
	pub      Publisher

	mu     sync.Mutex
	latest map[types.LinkKey]types.Snapshot

	running  int32 // 1 while a Tick() call is in flight; guards overrun skip
	overruns uint64

	now func() time.Time
}

// New creates a Driver. outbox and pub may be nil (a node with no
// telemetry client configured, or no serving side, still runs ticks and
// keeps Latest() queryable locally).
func New(interval time.Duration, agg *linkagg.Aggregator, flows *flowtable.Table, pgmCfg pgm.Config, outbox Outbox, pub Publisher) *Driver {
	return &Driver{
		interval: interval,
		agg:      agg,
		flows:    flows,
		pgmCfg:   pgmCfg,
		outbox:   outbox,
		pub:      pub,
		latest:   make(map[types.LinkKey]types.Snapshot),
		now:      time.Now,
	}
}

// Run drives the tick cadence until ctx is cancelled. On cancellation it
// performs one final Tick to flush any pending state and returns.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
				time.Sleep(time.Millisecond)
			}
			d.Tick()
			atomic.StoreInt32(&d.running, 0)
			return
		case now := <-ticker.C:
			if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
				atomic.AddUint64(&d.overruns, 1)
				printer.Debugf("tick: previous tick still running, skipping fire at %s\n", now)
				continue
			}
			go func() {
				defer atomic.StoreInt32(&d.running, 0)
				d.tickLocked(now)
			}()
		}
	}
}

// Tick runs one pass synchronously, ignoring the overrun guard; used for
// the final shutdown flush and directly by tests.
func (d *Driver) Tick() {
	d.tickLocked(d.now())
}

func (d *Driver) tickLocked(now time.Time) {
	flushes := d.agg.SnapshotAndReset(now)

	for _, f := range flushes {
		result := pgm.Estimate(d.pgmCfg, f.GapPairs, f.LastABW)
		d.agg.UpdateEstimate(f.Link, result.ABW, result.Capacity)

		snap := types.Snapshot{
			Link:      f.Link,
			ThpIn:     f.ThpIn,
			ThpOut:    f.ThpOut,
			BW:        result.Capacity,
			ABW:       result.ABW,
			Latency:   meanRTT(f.RTTs),
			Timestamp: now.UnixMilli(),
		}

		d.mu.Lock()
		d.latest[f.Link] = snap
		d.mu.Unlock()

		printer.WithLink(f.Link.String()).V(3).Debugf(
			"tick: bw=%.0f abw=%.0f low_confidence=%v\n", snap.BW, snap.ABW, result.LowConfidence)

		if d.pub != nil {
			d.pub.Publish(f.Link, snap)
		}
		d.enqueueOutbound(f, snap)
	}

	if d.flows != nil {
		d.flows.Prune()
	}
}

func (d *Driver) enqueueOutbound(f linkagg.Flush, snap types.Snapshot) {
	if d.outbox == nil {
		return
	}
	now := f.Timestamp
	if len(f.GapPairs) > 0 {
		d.outbox.Enqueue(telemetry.Item{Kind: telemetry.KindGapPairBatch, Link: f.Link, GapPairs: f.GapPairs, EnqueuedAt: now})
	}
	if len(f.RTTs) > 0 {
		d.outbox.Enqueue(telemetry.Item{Kind: telemetry.KindRTTBatch, Link: f.Link, RTTs: f.RTTs, EnqueuedAt: now})
	}
	snapCopy := snap
	d.outbox.Enqueue(telemetry.Item{Kind: telemetry.KindSnapshot, Snapshot: &snapCopy, EnqueuedAt: now})
}

// meanRTT reduces a window of RTT samples to the smoothed latency (seconds)
// a Snapshot reports: a plain mean over the retained-plus-new window, with
// no second EMA alongside the PGM one.
func meanRTT(samples []types.RTTSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.RTT.Seconds()
	}
	return sum / float64(len(samples))
}

// Latest implements telemetry.Publisher for GetBandwidth queries.
func (d *Driver) Latest(link types.LinkKey) (types.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.latest[link]
	return snap, ok
}

// Overruns reports how many ticks were skipped because the previous tick
// was still running, for metrics/diagnostics.
func (d *Driver) Overruns() uint64 {
	return atomic.LoadUint64(&d.overruns)
}
