// Package flowtable tracks per-connection TCP state and turns consecutive
// cumulative ACKs into Probe-Gap-Model samples: a mutex-guarded map of live
// connections with time.AfterFunc-driven idle/close eviction, per-direction
// sequence/ack bookkeeping, and gap-pair emission for the locally-sent
// direction of each flow.
package flowtable

import (
	"net"
	"sync"
	"time"

	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/types"
)

// logSampleRate keeps per-gap-pair debug logging from flooding a busy
// flow's output; only a deterministic fraction of a flow's emissions are
// logged, so repeated runs over the same traffic produce the same log
// volume instead of one gated by an unseeded RNG.
const logSampleRate = printer.SampleRate

func sampledForLog(key types.FlowKey, gap types.GapPair) bool {
	return printer.Sampled(key.String()+gap.T.String(), logSampleRate)
}

// Phase is a flow's position in the TCP handshake/teardown lifecycle.
type Phase int

const (
	PhaseSynSent Phase = iota
	PhaseSynAcked
	PhaseEstablished
	PhaseFinWait
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseSynSent:
		return "SYN_SENT"
	case PhaseSynAcked:
		return "SYN_ACKED"
	case PhaseEstablished:
		return "ESTABLISHED"
	case PhaseFinWait:
		return "FIN_WAIT"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Emitter receives a gap pair attributed to the link it was measured on.
// The link's LocalIP is always one of the flow's endpoints and its
// NeighborIP the other; only the direction whose data sender is local
// produces gap pairs, since the local capture point is what sees both the
// original send timestamps and the returning ACKs.
type Emitter func(link types.LinkKey, gap types.GapPair)

// Config bundles the tunables the flow table needs from the node config.
type Config struct {
	MSSFloor    float64
	IdleTimeout time.Duration
	CloseGrace  time.Duration
}

// ackRecord is one completed cumulative-ack event for a data direction.
type ackRecord struct {
	valid      bool
	tAckWall   time.Time
	tSendFirst time.Time
	len        float64
	numAcked   int
}

// pendingBlock accumulates bytes sent in a data direction since the last
// ack covering that direction was processed.
type pendingBlock struct {
	tFirstUnacked time.Time
	bytes         uint64
	segments      int
}

// dirState is the per-data-direction bookkeeping; a flow has two, one per
// direction of travel.
type dirState struct {
	haveHighestAck bool
	highestAck     uint32
	pending        pendingBlock
	hist           [2]ackRecord // hist[0] older, hist[1] newer
}

func (d *dirState) shiftIn(r ackRecord) {
	d.hist[0] = d.hist[1]
	d.hist[1] = r
}

// flowState is the live state for one tracked TCP connection. ipA/ipB and
// portA/portB are the canonical (FlowKey) ordering; dir 0 is A->B, dir 1 is
// B->A.
type flowState struct {
	key   types.FlowKey
	ipA   net.IP
	ipB   net.IP
	portA uint16
	portB uint16

	// localDir is the data direction whose sender is the local node, or -1
	// if this flow doesn't touch a local address (observed transit traffic
	// we don't attribute to any outgoing link).
	localDir int
	neighbor net.IP

	phase    Phase
	dirs     [2]dirState
	lastSeen time.Time

	// finSent[dir] is set once a FIN has been observed traveling in that
	// direction; the flow closes once both directions have sent one.
	finSent [2]bool

	timeout *time.Timer
}

// Table is the Flow Table: a mutex-guarded map of active connections plus
// idle/close eviction timers.
type Table struct {
	mu      sync.Mutex
	flows   map[types.FlowKey]*flowState
	cfg     Config
	isLocal func(net.IP) bool
	emit    Emitter
	now     func() time.Time
}

// New creates an empty flow table. isLocal reports whether an IP belongs to
// this node (used to pick the locally-sent data direction for a flow); emit
// receives every gap pair as it is produced.
func New(cfg Config, isLocal func(net.IP) bool, emit Emitter) *Table {
	return &Table{
		flows:   make(map[types.FlowKey]*flowState),
		cfg:     cfg,
		isLocal: isLocal,
		emit:    emit,
		now:     time.Now,
	}
}

// OnPacket feeds one decoded TCP packet into the table. Non-TCP packets are
// ignored; callers should filter before calling, but it is safe either way.
func (t *Table) OnPacket(pkt *types.DecodedPacket) {
	if pkt == nil || pkt.Proto != types.ProtoTCP || pkt.TCP == nil {
		return
	}
	tcp := pkt.TCP

	key, forward := types.NewFlowKey(pkt.SrcIP, tcp.SrcPort, pkt.DstIP, tcp.DstPort)
	// packetDir is the canonical direction (0 = A->B) this packet travels in.
	packetDir := 0
	if !forward {
		packetDir = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.flows[key]
	if !ok {
		f = t.newFlow(key, pkt, tcp, forward)
		t.flows[key] = f
	}
	f.lastSeen = t.now()
	f.timeout.Reset(t.idleFor(f))

	t.advancePhase(f, packetDir, tcp)

	if pkt.PayloadLen > 0 {
		t.onData(f, packetDir, pkt, tcp)
	}
	if tcp.Flags.ACK {
		t.onAck(f, packetDir, pkt, tcp)
	}

	if f.phase == PhaseClosed {
		f.timeout.Reset(t.cfg.CloseGrace)
	}
}

func (t *Table) newFlow(key types.FlowKey, pkt *types.DecodedPacket, tcp *types.TCPInfo, forward bool) *flowState {
	var ipA, ipB net.IP
	var portA, portB uint16
	if forward {
		ipA, portA = pkt.SrcIP, tcp.SrcPort
		ipB, portB = pkt.DstIP, tcp.DstPort
	} else {
		ipA, portA = pkt.DstIP, tcp.DstPort
		ipB, portB = pkt.SrcIP, tcp.SrcPort
	}

	f := &flowState{
		key:      key,
		ipA:      ipA,
		ipB:      ipB,
		portA:    portA,
		portB:    portB,
		localDir: -1,
		phase:    PhaseSynSent,
	}

	switch {
	case t.isLocal != nil && t.isLocal(ipA) && !(t.isLocal != nil && t.isLocal(ipB)):
		f.localDir = 0
		f.neighbor = ipB
	case t.isLocal != nil && t.isLocal(ipB) && !(t.isLocal != nil && t.isLocal(ipA)):
		f.localDir = 1
		f.neighbor = ipA
	}

	f.timeout = time.AfterFunc(t.cfg.IdleTimeout, func() {
		t.evict(key)
	})
	return f
}

func (t *Table) idleFor(f *flowState) time.Duration {
	if f.phase == PhaseClosed {
		return t.cfg.CloseGrace
	}
	return t.cfg.IdleTimeout
}

// evict removes a flow from the table on idle or close-grace expiry.
// Runs on the timer goroutine, so it takes the lock itself.
func (t *Table) evict(key types.FlowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.flows[key]; ok {
		f.timeout.Stop()
		delete(t.flows, key)
	}
}

// advancePhase updates f's lifecycle phase for a packet seen traveling in
// dir. A flow reaches PhaseClosed on an RST, or once a FIN has been
// observed in both directions (a FIN/FIN-ACK close handshake) — not on the
// first FIN alone, which only means that one side is done sending.
func (t *Table) advancePhase(f *flowState, dir int, tcp *types.TCPInfo) {
	switch {
	case tcp.Flags.RST:
		f.phase = PhaseClosed
	case tcp.Flags.FIN:
		f.finSent[dir] = true
		if f.finSent[0] && f.finSent[1] {
			f.phase = PhaseClosed
		} else if f.phase != PhaseClosed {
			f.phase = PhaseFinWait
		}
	case tcp.Flags.SYN && tcp.Flags.ACK:
		if f.phase == PhaseSynSent {
			f.phase = PhaseSynAcked
		}
	case tcp.Flags.SYN:
		if f.phase == PhaseSynSent {
			// stays SYN_SENT; a retransmitted SYN doesn't advance phase
		}
	default:
		if f.phase == PhaseSynAcked {
			f.phase = PhaseEstablished
		}
	}
}

func (t *Table) onData(f *flowState, dir int, pkt *types.DecodedPacket, tcp *types.TCPInfo) {
	d := &f.dirs[dir]
	if d.pending.segments == 0 {
		d.pending.tFirstUnacked = pkt.CaptureTime
	}
	d.pending.bytes += uint64(pkt.PayloadLen)
	d.pending.segments++
}

func (t *Table) onAck(f *flowState, packetDir int, pkt *types.DecodedPacket, tcp *types.TCPInfo) {
	// A packet traveling in packetDir acknowledges data sent in the other
	// direction.
	ackedDir := 1 - packetDir
	d := &f.dirs[ackedDir]

	if !d.haveHighestAck {
		d.highestAck = tcp.Ack
		d.haveHighestAck = true
		// The data accumulated before this first observed ack still forms a
		// valid window endpoint; it just has no predecessor to pair with
		// yet, so it becomes hist[1] with nothing to emit until the next
		// ack arrives.
		if d.pending.segments > 0 {
			d.shiftIn(ackRecord{
				valid:      true,
				tAckWall:   pkt.WallTime,
				tSendFirst: d.pending.tFirstUnacked,
				len:        float64(d.pending.bytes) / float64(d.pending.segments),
				numAcked:   d.pending.segments,
			})
			d.pending = pendingBlock{}
		}
		return
	}

	diff := int32(tcp.Ack - d.highestAck)
	if diff < 0 {
		// Ack falls behind the highest ack seen (modular comparison): treat
		// as an out-of-window anomaly and reset this direction's ack history
		// without tearing down the flow.
		d.hist = [2]ackRecord{}
		return
	}
	if diff == 0 {
		// Duplicate ack; no new bytes covered.
		return
	}

	ackedLen := float64(uint32(diff))
	numAcked := d.pending.segments
	if numAcked == 0 {
		numAcked = 1
	}
	tSendFirst := d.pending.tFirstUnacked
	if tSendFirst.IsZero() {
		tSendFirst = pkt.CaptureTime
	}

	rec := ackRecord{
		valid:      true,
		tAckWall:   pkt.WallTime,
		tSendFirst: tSendFirst,
		len:        ackedLen / float64(numAcked),
		numAcked:   numAcked,
	}
	d.shiftIn(rec)
	d.highestAck = tcp.Ack
	d.pending = pendingBlock{}

	if ackedDir == f.localDir && d.hist[0].valid && d.hist[1].valid && t.emit != nil {
		prev, cur := d.hist[0], d.hist[1]
		gap := types.GapPair{
			Gin:      cur.tSendFirst.Sub(prev.tSendFirst).Seconds(),
			Gout:     cur.tAckWall.Sub(prev.tAckWall).Seconds(),
			Len:      cur.len,
			NumAcked: cur.numAcked,
			T:        cur.tAckWall,
		}
		if gap.Valid(t.cfg.MSSFloor) {
			if sampledForLog(f.key, gap) {
				printer.V(2).Debugf("flowtable: emit gap pair flow=%s gin=%.6f gout=%.6f len=%.0f\n",
					f.key, gap.Gin, gap.Gout, gap.Len)
			}
			t.emit(types.LinkKey{LocalIP: localIPOf(f).String(), NeighborIP: f.neighbor.String()}, gap)
		}
	}
}

func localIPOf(f *flowState) net.IP {
	if f.localDir == 0 {
		return f.ipA
	}
	return f.ipB
}

// Prune removes every flow already in PhaseClosed, rather than waiting for
// its close-grace timer to fire. Meant to be called once per tick cycle;
// idle/open flows are left to their own timers.
func (t *Table) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, f := range t.flows {
		if f.phase == PhaseClosed {
			f.timeout.Stop()
			delete(t.flows, key)
			n++
		}
	}
	return n
}

// Len reports the number of currently tracked flows, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Close stops all pending eviction timers without flushing partial state;
// used on shutdown.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.flows {
		f.timeout.Stop()
	}
	t.flows = make(map[types.FlowKey]*flowState)
}
