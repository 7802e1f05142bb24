package flowtable

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilom/network-listener/internal/types"
)

var (
	localIP    = net.ParseIP("10.0.0.1")
	neighborIP = net.ParseIP("10.0.0.2")
)

func isLocal(ip net.IP) bool { return ip.Equal(localIP) }

func testConfig() Config {
	return Config{
		MSSFloor:    100,
		IdleTimeout: time.Hour,
		CloseGrace:  time.Hour,
	}
}

func dataPkt(t time.Time, seq uint32, payloadLen int) *types.DecodedPacket {
	return &types.DecodedPacket{
		CaptureTime: t,
		WallTime:    t,
		SrcIP:       localIP,
		DstIP:       neighborIP,
		PayloadLen:  payloadLen,
		Proto:       types.ProtoTCP,
		TCP: &types.TCPInfo{
			SrcPort: 5000,
			DstPort: 80,
			Seq:     seq,
			Flags:   types.TCPFlags{},
		},
	}
}

func finPkt(t time.Time, fromLocal bool, ack uint32) *types.DecodedPacket {
	if fromLocal {
		return &types.DecodedPacket{
			CaptureTime: t,
			WallTime:    t,
			SrcIP:       localIP,
			DstIP:       neighborIP,
			Proto:       types.ProtoTCP,
			TCP: &types.TCPInfo{
				SrcPort: 5000,
				DstPort: 80,
				Ack:     ack,
				Flags:   types.TCPFlags{FIN: true, ACK: true},
			},
		}
	}
	return &types.DecodedPacket{
		CaptureTime: t,
		WallTime:    t,
		SrcIP:       neighborIP,
		DstIP:       localIP,
		Proto:       types.ProtoTCP,
		TCP: &types.TCPInfo{
			SrcPort: 80,
			DstPort: 5000,
			Ack:     ack,
			Flags:   types.TCPFlags{FIN: true, ACK: true},
		},
	}
}

func ackPkt(t time.Time, ack uint32) *types.DecodedPacket {
	return &types.DecodedPacket{
		CaptureTime: t,
		WallTime:    t,
		SrcIP:       neighborIP,
		DstIP:       localIP,
		Proto:       types.ProtoTCP,
		TCP: &types.TCPInfo{
			SrcPort: 80,
			DstPort: 5000,
			Ack:     ack,
			Flags:   types.TCPFlags{ACK: true},
		},
	}
}

// TestSingleFlowEmitsGapPair walks through the minimal two-ack sequence that
// should produce exactly one gap pair on the local->neighbor direction.
func TestSingleFlowEmitsGapPair(t *testing.T) {
	var emitted []types.GapPair
	tbl := New(testConfig(), isLocal, func(link types.LinkKey, g types.GapPair) {
		assert.Equal(t, localIP.String(), link.LocalIP)
		assert.Equal(t, neighborIP.String(), link.NeighborIP)
		emitted = append(emitted, g)
	})

	base := time.Unix(1000, 0)

	tbl.OnPacket(dataPkt(base, 0, 500))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), 500))

	tbl.OnPacket(dataPkt(base.Add(50*time.Millisecond), 500, 500))
	tbl.OnPacket(ackPkt(base.Add(70*time.Millisecond), 1000))

	require.Len(t, emitted, 1)
	gap := emitted[0]
	assert.InDelta(t, 0.050, gap.Gin, 1e-9)
	assert.InDelta(t, 0.060, gap.Gout, 1e-9)
	assert.Equal(t, 500.0, gap.Len)
	assert.Equal(t, 1, gap.NumAcked)
}

// TestDuplicateAckIgnored ensures a dup ack (ack == highest seen) neither
// emits a sample nor corrupts the ack history.
func TestDuplicateAckIgnored(t *testing.T) {
	var emitted []types.GapPair
	tbl := New(testConfig(), isLocal, func(_ types.LinkKey, g types.GapPair) {
		emitted = append(emitted, g)
	})

	base := time.Unix(2000, 0)
	tbl.OnPacket(dataPkt(base, 0, 500))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), 500))
	tbl.OnPacket(ackPkt(base.Add(20*time.Millisecond), 500)) // dup
	tbl.OnPacket(dataPkt(base.Add(30*time.Millisecond), 500, 500))
	tbl.OnPacket(ackPkt(base.Add(40*time.Millisecond), 1000))

	require.Len(t, emitted, 1)
}

// TestSequenceWrapAround verifies the modular ack comparison treats a wrapped
// sequence number as a forward advance, not a regression.
func TestSequenceWrapAround(t *testing.T) {
	var emitted []types.GapPair
	tbl := New(testConfig(), isLocal, func(_ types.LinkKey, g types.GapPair) {
		emitted = append(emitted, g)
	})

	base := time.Unix(3000, 0)
	nearWrap := uint32(1<<32 - 200)
	tbl.OnPacket(dataPkt(base, nearWrap, 150))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), nearWrap+150)) // 50 below max uint32

	tbl.OnPacket(dataPkt(base.Add(20*time.Millisecond), nearWrap+150, 150))
	tbl.OnPacket(ackPkt(base.Add(30*time.Millisecond), nearWrap+300)) // wraps past max uint32

	require.Len(t, emitted, 1)
	assert.Equal(t, 150.0, emitted[0].Len)
}

// TestBelowMSSFloorNotEmitted checks the mss_floor invariant suppresses
// samples from small acked windows.
func TestBelowMSSFloorNotEmitted(t *testing.T) {
	cfg := testConfig()
	cfg.MSSFloor = 1000
	var emitted []types.GapPair
	tbl := New(cfg, isLocal, func(_ types.LinkKey, g types.GapPair) {
		emitted = append(emitted, g)
	})

	base := time.Unix(4000, 0)
	tbl.OnPacket(dataPkt(base, 0, 50))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), 50))
	tbl.OnPacket(dataPkt(base.Add(20*time.Millisecond), 50, 50))
	tbl.OnPacket(ackPkt(base.Add(30*time.Millisecond), 100))

	assert.Empty(t, emitted)
}

// TestAckRegressionResetsHistoryWithoutDroppingFlow reproduces a stray
// out-of-window ack and checks the flow survives it, and that the reset
// history yields no gap pair from the first legitimate ack after it.
func TestAckRegressionResetsHistoryWithoutDroppingFlow(t *testing.T) {
	var emitted []types.GapPair
	tbl := New(testConfig(), isLocal, func(_ types.LinkKey, g types.GapPair) {
		emitted = append(emitted, g)
	})

	base := time.Unix(5000, 0)
	tbl.OnPacket(dataPkt(base, 0, 500))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), 500))

	// Stray regressed ack, far enough back to look like a real anomaly.
	tbl.OnPacket(ackPkt(base.Add(15*time.Millisecond), 10))

	tbl.OnPacket(dataPkt(base.Add(20*time.Millisecond), 500, 500))
	tbl.OnPacket(ackPkt(base.Add(30*time.Millisecond), 1000))

	require.Equal(t, 1, tbl.Len())
	assert.Empty(t, emitted)
}

// TestNonLocalFlowNeverEmits confirms transit traffic that doesn't touch a
// local address is tracked but never attributed to a link.
func TestNonLocalFlowNeverEmits(t *testing.T) {
	otherA := net.ParseIP("10.0.0.9")
	otherB := net.ParseIP("10.0.0.10")

	var emitted []types.GapPair
	tbl := New(testConfig(), isLocal, func(_ types.LinkKey, g types.GapPair) {
		emitted = append(emitted, g)
	})

	base := time.Unix(6000, 0)
	pkt1 := dataPkt(base, 0, 500)
	pkt1.SrcIP, pkt1.DstIP = otherA, otherB
	tbl.OnPacket(pkt1)

	ack1 := ackPkt(base.Add(10*time.Millisecond), 500)
	ack1.SrcIP, ack1.DstIP = otherB, otherA
	tbl.OnPacket(ack1)

	pkt2 := dataPkt(base.Add(20*time.Millisecond), 500, 500)
	pkt2.SrcIP, pkt2.DstIP = otherA, otherB
	tbl.OnPacket(pkt2)

	ack2 := ackPkt(base.Add(30*time.Millisecond), 1000)
	ack2.SrcIP, ack2.DstIP = otherB, otherA
	tbl.OnPacket(ack2)

	assert.Empty(t, emitted)
	assert.Equal(t, 1, tbl.Len())
}

// TestPruneRemovesOnlyClosedFlows confirms Prune evicts a flow that has
// seen an RST immediately, without touching a still-open flow.
func TestPruneRemovesOnlyClosedFlows(t *testing.T) {
	tbl := New(testConfig(), isLocal, func(types.LinkKey, types.GapPair) {})

	base := time.Unix(7000, 0)
	tbl.OnPacket(dataPkt(base, 0, 500))

	rst := ackPkt(base.Add(10*time.Millisecond), 500)
	rst.TCP.Flags.RST = true
	tbl.OnPacket(rst)

	otherData := dataPkt(base.Add(20*time.Millisecond), 0, 500)
	otherData.SrcIP, otherData.DstIP = net.ParseIP("10.0.0.9"), net.ParseIP("10.0.0.10")
	tbl.OnPacket(otherData)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, 1, tbl.Prune())
	assert.Equal(t, 1, tbl.Len())
}

// TestFinFinAckClosesFlow confirms a clean close handshake (FIN from each
// direction) reaches PhaseClosed and becomes eligible for Prune, rather
// than lingering until the much longer idle timeout.
func TestFinFinAckClosesFlow(t *testing.T) {
	tbl := New(testConfig(), isLocal, func(types.LinkKey, types.GapPair) {})

	base := time.Unix(8000, 0)
	tbl.OnPacket(dataPkt(base, 0, 500))
	tbl.OnPacket(ackPkt(base.Add(10*time.Millisecond), 500))

	tbl.OnPacket(finPkt(base.Add(20*time.Millisecond), true, 500))
	tbl.OnPacket(finPkt(base.Add(30*time.Millisecond), false, 501))

	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, 1, tbl.Prune())
	assert.Equal(t, 0, tbl.Len())
}

// TestSampledForLogIsDeterministic confirms the same (flow, gap) pair
// always makes the same sampling decision, so log volume is stable across
// repeated runs rather than flickering with an unseeded RNG.
func TestSampledForLogIsDeterministic(t *testing.T) {
	key := types.FlowKey{IPA: "10.0.0.1", PortA: 1000, IPB: "10.0.0.2", PortB: 80}
	gap := types.GapPair{T: time.Unix(1000, 0)}

	first := sampledForLog(key, gap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sampledForLog(key, gap))
	}
}
