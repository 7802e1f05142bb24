package neighbor

import (
	"net"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/types"
)

// protocolICMP is the ipv4 header Protocol value for ICMP.
const protocolICMP = 1

// Pinger issues one ICMP echo per ACKED peer every probe interval, over a
// single shared unprivileged ("udp4") ICMP socket rather than a raw one, so
// it runs without elevated capabilities. Echo encoding and parsing are
// handled by golang.org/x/net/icmp instead of hand-rolled checksum/parsing;
// replies are matched to their probe by echo ID and sequence.
type Pinger struct {
	conn    *icmp.PacketConn
	id      int
	timeout time.Duration

	mu  sync.Mutex
	seq uint16
}

// NewPinger opens the shared ICMP listener. id should be stable for the
// process (conventionally the low 16 bits of the pid) so replies can be
// told apart from another process's probes sharing the same host.
func NewPinger(id int, timeout time.Duration) (*Pinger, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, err
	}
	return &Pinger{conn: conn, id: id, timeout: timeout}, nil
}

func (p *Pinger) nextSeq() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return int(p.seq)
}

// Ping sends one echo to dst and blocks until a reply arrives or timeout
// elapses. Returns the RTT sample on success; ok is false on timeout or any
// send/parse failure, in which case no sample is recorded.
func (p *Pinger) Ping(dst net.IP) (types.RTTSample, bool) {
	seq := p.nextSeq()
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("network-listener-rtt-probe"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return types.RTTSample{}, false
	}

	sendTime := time.Now()
	if _, err := p.conn.WriteTo(wb, &net.UDPAddr{IP: dst}); err != nil {
		printer.Debugf("icmp send to %s failed: %v\n", dst, err)
		return types.RTTSample{}, false
	}

	if err := p.conn.SetReadDeadline(sendTime.Add(p.timeout)); err != nil {
		return types.RTTSample{}, false
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := p.conn.ReadFrom(rb)
		if err != nil {
			// Deadline exceeded or socket error: no sample.
			return types.RTTSample{}, false
		}
		if !sameHost(peer, dst) {
			continue
		}

		recvTime := time.Now()
		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if echo.ID != p.id || echo.Seq != seq {
			continue
		}

		return types.RTTSample{RTT: recvTime.Sub(sendTime), T: recvTime}, true
	}
}

func sameHost(addr net.Addr, want net.IP) bool {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.Equal(want)
	case *net.IPAddr:
		return a.IP.Equal(want)
	default:
		return false
	}
}

// Close releases the shared ICMP socket.
func (p *Pinger) Close() error {
	return p.conn.Close()
}

// ProbeAll pings every peer in peers sequentially and delivers each
// successful sample to sink, attributed to the (local, peer) link. Run
// periodically by the node's Neighbor task at T_ping cadence.
func (p *Pinger) ProbeAll(localIP net.IP, peers []net.IP, sink RTTSink) {
	for _, peer := range peers {
		sample, ok := p.Ping(peer)
		if !ok {
			continue
		}
		sample.Link = types.LinkKey{LocalIP: localIP.String(), NeighborIP: peer.String()}
		sink(peer, sample)
	}
}
