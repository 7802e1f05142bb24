// Package types holds the data model shared across the capture, flow
// tracking, link aggregation, estimation, and telemetry packages.
package types

import (
	"fmt"
	"net"
	"time"
)

// Proto identifies the transport/network protocol of a DecodedPacket.
type Proto int

const (
	ProtoOther Proto = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	case ProtoICMP:
		return "ICMP"
	default:
		return "OTHER"
	}
}

// TCPFlags is the subset of TCP control bits the decoder cares about.
type TCPFlags struct {
	SYN, ACK, FIN, RST bool
}

// TCPInfo carries TCP-specific header fields. Only populated when
// DecodedPacket.Proto == ProtoTCP.
type TCPInfo struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	Window           uint16

	// HasTSOpt reports whether a TCP timestamp option was present.
	HasTSOpt     bool
	TSVal, TSEcr uint32
}

// DecodedPacket is the Decoder's output: a single observed frame reduced to
// the fields the rest of the pipeline needs. Created per frame, consumed
// once; never persisted.
type DecodedPacket struct {
	// CaptureTime is the timestamp attached by the capture backend (kernel
	// bpf timestamp for live capture, recorded pcap timestamp for replay).
	// It is monotonic with respect to other packets on the same source and
	// is what gap computations are derived from. WallTime is what gets
	// serialized into outgoing Snapshots.
	CaptureTime time.Time
	WallTime    time.Time

	SrcIP, DstIP net.IP
	Proto        Proto
	TotalLen     int
	PayloadLen   int

	TCP *TCPInfo // non-nil iff Proto == ProtoTCP
}

// DiscardReason explains why the Decoder rejected a frame.
type DiscardReason int

const (
	DiscardNone DiscardReason = iota
	DiscardTooShort
	DiscardUnknownEther
	DiscardUnsupportedProto
	DiscardTruncatedL4
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardTooShort:
		return "TooShort"
	case DiscardUnknownEther:
		return "UnknownEther"
	case DiscardUnsupportedProto:
		return "UnsupportedProto"
	case DiscardTruncatedL4:
		return "TruncatedL4"
	default:
		return "None"
	}
}

// FlowKey is an unordered TCP 4-tuple with a canonical ordering so that
// packets seen in either direction of a conversation hash to the same key.
type FlowKey struct {
	IPA   string
	PortA uint16
	IPB   string
	PortB uint16
}

// NewFlowKey canonicalizes (ipA,portA) vs (ipB,portB) so the lower tuple
// (by string then port) always occupies the A slot.
func NewFlowKey(ip1 net.IP, port1 uint16, ip2 net.IP, port2 uint16) (key FlowKey, forward bool) {
	s1, s2 := ip1.String(), ip2.String()
	if s1 < s2 || (s1 == s2 && port1 <= port2) {
		return FlowKey{IPA: s1, PortA: port1, IPB: s2, PortB: port2}, true
	}
	return FlowKey{IPA: s2, PortA: port2, IPB: s1, PortB: port1}, false
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d", k.IPA, k.PortA, k.IPB, k.PortB)
}

// GapPair is a single Probe-Gap-Model sample derived from two consecutive
// cumulative ACKs of a TCP flow. Emitted by the flow table, consumed by the
// link aggregator, never mutated after creation.
type GapPair struct {
	Gin      float64 // seconds, send-side spacing
	Gout     float64 // seconds, ACK-side spacing
	Len      float64 // bytes acknowledged in the bracketed window
	NumAcked int
	T        time.Time // wall time of the second ACK
}

// Valid reports whether the sample satisfies the emission invariants.
func (g GapPair) Valid(mssFloor float64) bool {
	return g.Gin > 0 && g.Gout > 0 && g.Len >= mssFloor
}

// LinkKey is an ordered (local, neighbor) pair; each direction of a
// conversation between two hosts gets its own LinkState.
type LinkKey struct {
	LocalIP    string
	NeighborIP string
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%s->%s", k.LocalIP, k.NeighborIP)
}

// Snapshot is the immutable, per-tick, per-link record handed to the
// telemetry layer.
type Snapshot struct {
	Link      LinkKey
	ThpIn     float64 // bytes/s
	ThpOut    float64 // bytes/s
	BW        float64 // configured/estimated capacity, bits/s
	ABW       float64 // available bandwidth estimate, bits/s
	Latency   float64 // seconds, most recent smoothed RTT
	Timestamp int64   // milliseconds since Unix epoch

	// Reserved for wire-compatibility with the existing deployment; always
	// zero until an upstream producer starts filling them in.
	Delay, Jitter, Loss float64
}

// RTTSample is a single round-trip measurement attributed to a link.
type RTTSample struct {
	Link LinkKey
	RTT  time.Duration
	T    time.Time
}

// HelloState is a Peer's position in the neighbor handshake.
type HelloState int

const (
	HelloUnknown HelloState = iota
	HelloHelloed
	HelloAcked
)

func (s HelloState) String() string {
	switch s {
	case HelloHelloed:
		return "HELLOED"
	case HelloAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Peer is the neighbor service's view of a remote node.
type Peer struct {
	IP          net.IP
	LastHello   time.Time
	State       HelloState
	RTTSequence uint32
}
