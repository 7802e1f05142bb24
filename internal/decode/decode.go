// Package decode turns a raw link-layer frame into a types.DecodedPacket.
// It is a pure function with no state: a single fixed decode path over
// Ethernet (with VLAN unwrapping), IPv4/IPv6, and TCP/UDP, rather than a
// pluggable registry of decoders.
package decode

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/kjetilom/network-listener/internal/types"
)

const minEthernetFrame = 14

// Decode parses a single captured frame. captureTime is the backend-supplied
// capture timestamp (monotonic with respect to other frames from the same
// source); it becomes both DecodedPacket.CaptureTime and WallTime unless the
// caller wants to attribute a different wall clock (replay does not).
func Decode(data []byte, captureTime time.Time) (*types.DecodedPacket, types.DiscardReason) {
	if len(data) < minEthernetFrame {
		return nil, types.DiscardTooShort
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, types.DiscardUnknownEther
	}

	// gopacket decodes an 802.1Q tag as its own layer, so the IPv4/IPv6
	// lookup finds the network layer behind it. A frame with no IPv4 or IPv6
	// layer is discarded as UnknownEther below.
	var networkLayer gopacket.Layer
	if vlan := pkt.Layer(layers.LayerTypeDot1Q); vlan != nil {
		networkLayer = pkt.Layer(layers.LayerTypeIPv4)
		if networkLayer == nil {
			networkLayer = pkt.Layer(layers.LayerTypeIPv6)
		}
	} else {
		networkLayer = pkt.Layer(layers.LayerTypeIPv4)
		if networkLayer == nil {
			networkLayer = pkt.Layer(layers.LayerTypeIPv6)
		}
	}

	if networkLayer == nil {
		return nil, types.DiscardUnknownEther
	}

	if _, ok := networkLayer.(*layers.IPv6); ok {
		// Recognized but explicitly out of scope per spec.
		return nil, types.DiscardUnsupportedProto
	}

	ip4, ok := networkLayer.(*layers.IPv4)
	if !ok {
		return nil, types.DiscardUnknownEther
	}

	out := &types.DecodedPacket{
		CaptureTime: captureTime,
		WallTime:    captureTime,
		SrcIP:       ip4.SrcIP,
		DstIP:       ip4.DstIP,
		TotalLen:    int(ip4.Length),
	}

	switch ip4.Protocol {
	case layers.IPProtocolTCP:
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return nil, types.DiscardTruncatedL4
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok {
			return nil, types.DiscardTruncatedL4
		}
		out.Proto = types.ProtoTCP
		out.PayloadLen = len(tcp.LayerPayload())
		out.TCP = tcpInfo(tcp)
	case layers.IPProtocolUDP:
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return nil, types.DiscardTruncatedL4
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			return nil, types.DiscardTruncatedL4
		}
		out.Proto = types.ProtoUDP
		out.PayloadLen = len(udp.LayerPayload())
	case layers.IPProtocolICMPv4:
		if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer == nil {
			return nil, types.DiscardTruncatedL4
		}
		out.Proto = types.ProtoICMP
	default:
		out.Proto = types.ProtoOther
	}

	return out, types.DiscardNone
}

func tcpInfo(tcp *layers.TCP) *types.TCPInfo {
	info := &types.TCPInfo{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Window:  tcp.Window,
		Flags: types.TCPFlags{
			SYN: tcp.SYN,
			ACK: tcp.ACK,
			FIN: tcp.FIN,
			RST: tcp.RST,
		},
	}
	for _, opt := range tcp.Options {
		if opt.OptionType == layers.TCPOptionKindTimestamps && len(opt.OptionData) == 8 {
			info.HasTSOpt = true
			info.TSVal = be32(opt.OptionData[0:4])
			info.TSEcr = be32(opt.OptionData[4:8])
			break
		}
	}
	return info
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
