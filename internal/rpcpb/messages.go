// Package rpcpb defines the wire messages and service contracts for the
// node<->node Hello exchange and the node<->collector telemetry stream.
// protoc is unavailable in this environment, so instead of hand-writing
// protobuf wire encoding (error-prone without the real compiler) these are
// plain Go structs carried over grpc's pluggable codec interface (see
// codec.go), keeping genuine gRPC service/stream semantics — ServiceDesc,
// streaming handlers, codegen-shaped client stubs — without fabricating
// protobuf reflection.
package rpcpb

import "time"

// HelloRequest is sent by a node introducing itself to a peer.
type HelloRequest struct {
	Name   string
	IPAddr string
}

// HelloReply acknowledges a HelloRequest.
type HelloReply struct {
	IPAddr string
}

// BandwidthRequest asks a peer for its current view of a link.
type BandwidthRequest struct {
	LinkID string
}

// LinkStateMsg is the wire form of types.Snapshot.
type LinkStateMsg struct {
	SenderIP    string
	ReceiverIP  string
	ThpIn       float64
	ThpOut      float64
	BW          float64
	ABW         float64
	Latency     float64
	Delay       float64
	Jitter      float64
	Loss        float64
	TimestampMS int64
}

// GapPairMsg is the wire form of types.GapPair.
type GapPairMsg struct {
	LinkID      string
	Gin         float64
	Gout        float64
	Len         float64
	NumAcked    int32
	TimestampMS int64
}

// RTTMsg is the wire form of types.RTTSample.
type RTTMsg struct {
	LinkID      string
	RTTMicros   int64
	TimestampMS int64
}

// PGMMsg reports a single estimation pass's outcome, for diagnostics.
type PGMMsg struct {
	LinkID        string
	ABW           float64
	LowConfidence bool
	SampleCount   int32
}

// DataMsg is one unit of outbound telemetry: a single link snapshot, gap
// pair, RTT sample, or PGM report, tagged by Kind so a single client stream
// carries every payload shape.
type DataMsg struct {
	Kind      DataKind
	LinkState *LinkStateMsg
	GapPair   *GapPairMsg
	Rtt       *RTTMsg
	Pgm       *PGMMsg
}

// DataKind discriminates DataMsg's payload.
type DataKind int32

const (
	KindLinkState DataKind = iota
	KindGapPair
	KindRTT
	KindPGM
)

func millis(t time.Time) int64 { return t.UnixNano() / int64(time.Millisecond) }
