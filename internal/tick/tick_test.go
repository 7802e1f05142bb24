package tick

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilom/network-listener/internal/flowtable"
	"github.com/kjetilom/network-listener/internal/linkagg"
	"github.com/kjetilom/network-listener/internal/pgm"
	"github.com/kjetilom/network-listener/internal/telemetry"
	"github.com/kjetilom/network-listener/internal/types"
)

type recordingOutbox struct {
	items []telemetry.Item
}

func (r *recordingOutbox) Enqueue(item telemetry.Item) {
	r.items = append(r.items, item)
}

type recordingPublisher struct {
	published map[types.LinkKey]types.Snapshot
}

func (r *recordingPublisher) Publish(link types.LinkKey, snap types.Snapshot) {
	if r.published == nil {
		r.published = make(map[types.LinkKey]types.Snapshot)
	}
	r.published[link] = snap
}

func testLink() types.LinkKey {
	return types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.2"}
}

func testPGMConfig() pgm.Config {
	return pgm.Config{Capacity: 1_000_000, MSSFloor: 100, Quantile: 0.5, MinN: 1, EMAAlpha: 1}
}

// TestTickPublishesAndEnqueuesOneLinkPerFlush confirms a tick that finds
// one link with data records and publishes a snapshot for that link and
// enqueues a gap-pair batch and a snapshot item attributed to it.
func TestTickPublishesAndEnqueuesOneLinkPerFlush(t *testing.T) {
	agg := linkagg.New(64, 16, 8, 4)
	link := testLink()

	base := time.Now()
	agg.OnPacket(link, 1000, true)
	agg.OnGapPair(link, types.GapPair{Gin: 0.01, Gout: 0.012, Len: 1000, NumAcked: 1, T: base})
	agg.OnGapPair(link, types.GapPair{Gin: 0.01, Gout: 0.011, Len: 1000, NumAcked: 1, T: base.Add(time.Millisecond)})
	agg.OnRTT(link, types.RTTSample{Link: link, RTT: 20 * time.Millisecond, T: base})

	outbox := &recordingOutbox{}
	pub := &recordingPublisher{}

	d := New(time.Second, agg, nil, testPGMConfig(), outbox, pub)
	d.now = func() time.Time { return base.Add(time.Second) }

	d.Tick()

	snap, ok := d.Latest(link)
	require.True(t, ok)
	assert.Equal(t, link, snap.Link)
	assert.Greater(t, snap.ThpOut, 0.0)
	assert.InDelta(t, 0.02, snap.Latency, 1e-9)
	assert.Equal(t, testPGMConfig().Capacity, snap.BW)

	require.Contains(t, pub.published, link)

	var sawGapBatch, sawSnapshot bool
	for _, item := range outbox.items {
		switch item.Kind {
		case telemetry.KindGapPairBatch:
			sawGapBatch = true
			assert.Equal(t, link, item.Link)
		case telemetry.KindSnapshot:
			sawSnapshot = true
			require.NotNil(t, item.Snapshot)
			assert.Equal(t, link, item.Snapshot.Link)
		}
	}
	assert.True(t, sawGapBatch)
	assert.True(t, sawSnapshot)
}

// TestTickPrunesClosedFlows confirms the flow table's Prune is invoked as
// part of the tick pass.
func TestTickPrunesClosedFlows(t *testing.T) {
	localIP := net.ParseIP("10.0.0.1")

	tbl := flowtable.New(flowtable.Config{MSSFloor: 1, IdleTimeout: time.Hour, CloseGrace: time.Hour},
		func(ip net.IP) bool { return ip.Equal(localIP) },
		func(types.LinkKey, types.GapPair) {},
	)

	neighborIP := net.ParseIP("10.0.0.2")
	now := time.Now()
	tbl.OnPacket(&types.DecodedPacket{
		CaptureTime: now, WallTime: now,
		SrcIP: localIP, DstIP: neighborIP,
		Proto: types.ProtoTCP, PayloadLen: 10,
		TCP: &types.TCPInfo{SrcPort: 1, DstPort: 2, Seq: 0},
	})
	rst := &types.DecodedPacket{
		CaptureTime: now.Add(time.Millisecond), WallTime: now.Add(time.Millisecond),
		SrcIP: neighborIP, DstIP: localIP,
		Proto: types.ProtoTCP,
		TCP:   &types.TCPInfo{SrcPort: 2, DstPort: 1, Ack: 10, Flags: types.TCPFlags{ACK: true, RST: true}},
	}
	tbl.OnPacket(rst)
	require.Equal(t, 1, tbl.Len())

	agg := linkagg.New(8, 8, 4, 4)
	d := New(time.Second, agg, tbl, testPGMConfig(), nil, nil)

	d.Tick()
	assert.Equal(t, 0, tbl.Len())
}
