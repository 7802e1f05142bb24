// Package neighbor implements the Neighbor Service: peer discovery subject
// to subnet allow/deny lists, the Hello handshake state machine, and
// periodic ICMP RTT probing over an unprivileged socket
// (golang.org/x/net/icmp + golang.org/x/net/ipv4) rather than a raw one.
package neighbor

import (
	"net"
	"sync"
	"time"

	"github.com/kjetilom/network-listener/internal/config"
	"github.com/kjetilom/network-listener/internal/types"
)

// HelloTransport sends a Hello/HelloAck; wired by the node package to the
// telemetry RPC client once a peer's address is known. Kept abstract here
// so the Neighbor Service has no transport dependency.
type HelloTransport interface {
	SendHello(peer net.IP) error
}

// RTTSink receives a completed RTT measurement, normally
// linkagg.Aggregator.OnRTT bound to the (local, peer) LinkKey.
type RTTSink func(peer net.IP, sample types.RTTSample)

// Service owns the peer set and drives both the Hello cadence and the ICMP
// probing cadence.
type Service struct {
	mu    sync.Mutex
	peers map[string]*types.Peer

	allow []*net.IPNet
	deny  []*net.IPNet

	helloInterval time.Duration
	staleAfter    time.Duration
	transport     HelloTransport
	now           func() time.Time
}

// New builds a Service from the node's subnet configuration. A nil or empty
// allow list means "allow everything not explicitly denied".
func New(subnets config.SubnetsConfig, helloInterval, staleAfter time.Duration, transport HelloTransport) *Service {
	return &Service{
		peers:         make(map[string]*types.Peer),
		allow:         parseCIDRs(subnets.Allow),
		deny:          parseCIDRs(subnets.Deny),
		helloInterval: helloInterval,
		staleAfter:    staleAfter,
		transport:     transport,
		now:           time.Now,
	}
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (s *Service) permitted(ip net.IP) bool {
	for _, n := range s.deny {
		if n.Contains(ip) {
			return false
		}
	}
	if len(s.allow) == 0 {
		return true
	}
	for _, n := range s.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Observe registers ip as a peer if it is not already known and passes the
// subnet filter. Called from the Capture task for every unique remote IP
// seen in a decoded packet.
func (s *Service) Observe(ip net.IP) {
	if ip == nil || !s.permitted(ip) {
		return
	}
	key := ip.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[key]; ok {
		return
	}
	s.peers[key] = &types.Peer{IP: ip, State: types.HelloUnknown}
}

// Tick drives the Hello cadence and staleness revert; called periodically
// (normally from the Tick task, independent of the T_tick snapshot cadence
// since T_hello has its own configured period). Peers not yet ACKED, or due
// for a re-send, get a Hello sent through transport.
func (s *Service) Tick() {
	now := s.now()

	s.mu.Lock()
	var toHello []net.IP
	for _, p := range s.peers {
		switch p.State {
		case types.HelloUnknown:
			toHello = append(toHello, p.IP)
		case types.HelloHelloed:
			if now.Sub(p.LastHello) >= s.helloInterval {
				toHello = append(toHello, p.IP)
			}
		case types.HelloAcked:
			if now.Sub(p.LastHello) >= s.staleAfter {
				p.State = types.HelloHelloed
				toHello = append(toHello, p.IP)
			}
		}
	}
	s.mu.Unlock()

	if s.transport == nil {
		return
	}
	for _, ip := range toHello {
		if err := s.transport.SendHello(ip); err == nil {
			s.markHelloed(ip, now)
		}
	}
}

func (s *Service) markHelloed(ip net.IP, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[ip.String()]; ok {
		p.State = types.HelloHelloed
		p.LastHello = now
	}
}

// OnHelloAck transitions a peer to ACKED on receipt of a HelloReply.
func (s *Service) OnHelloAck(ip net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[ip.String()]; ok {
		p.State = types.HelloAcked
		p.LastHello = s.now()
	}
}

// OnTraffic refreshes a peer's LastHello on any observed traffic from it,
// which is what keeps an ACKED peer from reverting to HELLOED as long as
// it's actually reachable.
func (s *Service) OnTraffic(ip net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[ip.String()]; ok && p.State == types.HelloAcked {
		p.LastHello = s.now()
	}
}

// Acked returns the IPs of all currently ACKED peers, the set eligible for
// RTT probing.
func (s *Service) Acked() []net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []net.IP
	for _, p := range s.peers {
		if p.State == types.HelloAcked {
			out = append(out, p.IP)
		}
	}
	return out
}

// Peer returns a copy of a peer's current state, for tests and diagnostics.
func (s *Service) Peer(ip net.IP) (types.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[ip.String()]
	if !ok {
		return types.Peer{}, false
	}
	return *p, true
}
