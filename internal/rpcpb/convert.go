package rpcpb

import (
	"time"

	"github.com/kjetilom/network-listener/internal/types"
)

// FromSnapshot converts a types.Snapshot into its wire form.
func FromSnapshot(s types.Snapshot) *LinkStateMsg {
	return &LinkStateMsg{
		SenderIP:    s.Link.LocalIP,
		ReceiverIP:  s.Link.NeighborIP,
		ThpIn:       s.ThpIn,
		ThpOut:      s.ThpOut,
		BW:          s.BW,
		ABW:         s.ABW,
		Latency:     s.Latency,
		Delay:       s.Delay,
		Jitter:      s.Jitter,
		Loss:        s.Loss,
		TimestampMS: s.Timestamp,
	}
}

// ToSnapshot reconstructs a types.Snapshot from its wire form.
func ToSnapshot(m *LinkStateMsg) types.Snapshot {
	return types.Snapshot{
		Link:      types.LinkKey{LocalIP: m.SenderIP, NeighborIP: m.ReceiverIP},
		ThpIn:     m.ThpIn,
		ThpOut:    m.ThpOut,
		BW:        m.BW,
		ABW:       m.ABW,
		Latency:   m.Latency,
		Delay:     m.Delay,
		Jitter:    m.Jitter,
		Loss:      m.Loss,
		Timestamp: m.TimestampMS,
	}
}

// FromGapPair converts a types.GapPair attributed to link into its wire
// form.
func FromGapPair(link types.LinkKey, g types.GapPair) *GapPairMsg {
	return &GapPairMsg{
		LinkID:      link.String(),
		Gin:         g.Gin,
		Gout:        g.Gout,
		Len:         g.Len,
		NumAcked:    int32(g.NumAcked),
		TimestampMS: millis(g.T),
	}
}

// FromRTT converts a types.RTTSample into its wire form.
func FromRTT(s types.RTTSample) *RTTMsg {
	return &RTTMsg{
		LinkID:      s.Link.String(),
		RTTMicros:   s.RTT.Microseconds(),
		TimestampMS: millis(s.T),
	}
}

// ToRTTDuration converts a wire RTT back into a time.Duration.
func ToRTTDuration(m *RTTMsg) time.Duration {
	return time.Duration(m.RTTMicros) * time.Microsecond
}

// ToGapPair reconstructs a types.GapPair from its wire form. The link it
// was attributed to is carried separately on GapPairMsg.LinkID, not on the
// returned value, matching how the Flow Table emits gap pairs decoupled
// from their link.
func ToGapPair(m *GapPairMsg) types.GapPair {
	return types.GapPair{
		Gin:      m.Gin,
		Gout:     m.Gout,
		Len:      m.Len,
		NumAcked: int(m.NumAcked),
		T:        time.UnixMilli(m.TimestampMS),
	}
}

// ToRTT reconstructs a types.RTTSample from its wire form.
func ToRTT(m *RTTMsg) types.RTTSample {
	return types.RTTSample{
		RTT: ToRTTDuration(m),
		T:   time.UnixMilli(m.TimestampMS),
	}
}
