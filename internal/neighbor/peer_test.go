package neighbor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilom/network-listener/internal/config"
	"github.com/kjetilom/network-listener/internal/types"
)

type fakeTransport struct {
	sent []net.IP
	fail map[string]bool
}

func (f *fakeTransport) SendHello(peer net.IP) error {
	if f.fail[peer.String()] {
		return assert.AnError
	}
	f.sent = append(f.sent, peer)
	return nil
}

func TestObserveRespectsAllowDenyLists(t *testing.T) {
	s := New(config.SubnetsConfig{
		Allow: []string{"10.0.0.0/24"},
		Deny:  []string{"10.0.0.9/32"},
	}, time.Minute, 5*time.Minute, nil)

	s.Observe(net.ParseIP("10.0.0.5"))    // allowed
	s.Observe(net.ParseIP("10.0.0.9"))    // explicitly denied
	s.Observe(net.ParseIP("192.168.1.1")) // outside allow list

	_, ok := s.Peer(net.ParseIP("10.0.0.5"))
	assert.True(t, ok)
	_, ok = s.Peer(net.ParseIP("10.0.0.9"))
	assert.False(t, ok)
	_, ok = s.Peer(net.ParseIP("192.168.1.1"))
	assert.False(t, ok)
}

func TestHelloStateMachineProgression(t *testing.T) {
	transport := &fakeTransport{fail: map[string]bool{}}
	s := New(config.SubnetsConfig{}, time.Minute, 5*time.Minute, transport)

	peerIP := net.ParseIP("10.0.0.2")
	s.Observe(peerIP)

	p, _ := s.Peer(peerIP)
	assert.Equal(t, types.HelloUnknown, p.State)

	s.Tick()
	p, _ = s.Peer(peerIP)
	assert.Equal(t, types.HelloHelloed, p.State)
	require.Len(t, transport.sent, 1)

	s.OnHelloAck(peerIP)
	p, _ = s.Peer(peerIP)
	assert.Equal(t, types.HelloAcked, p.State)
	assert.Contains(t, s.Acked(), peerIP)
}

func TestStalePeerRevertsToHelloed(t *testing.T) {
	transport := &fakeTransport{fail: map[string]bool{}}
	s := New(config.SubnetsConfig{}, time.Minute, 5*time.Minute, transport)
	fixed := time.Unix(1000, 0)
	s.now = func() time.Time { return fixed }

	peerIP := net.ParseIP("10.0.0.3")
	s.Observe(peerIP)
	s.OnHelloAck(peerIP)

	p, _ := s.Peer(peerIP)
	require.Equal(t, types.HelloAcked, p.State)

	s.now = func() time.Time { return fixed.Add(6 * time.Minute) }
	s.Tick()

	p, _ = s.Peer(peerIP)
	assert.Equal(t, types.HelloHelloed, p.State)
}

func TestOnTrafficKeepsAckedPeerFresh(t *testing.T) {
	transport := &fakeTransport{fail: map[string]bool{}}
	s := New(config.SubnetsConfig{}, time.Minute, 5*time.Minute, transport)
	fixed := time.Unix(2000, 0)
	s.now = func() time.Time { return fixed }

	peerIP := net.ParseIP("10.0.0.4")
	s.Observe(peerIP)
	s.OnHelloAck(peerIP)

	s.now = func() time.Time { return fixed.Add(4 * time.Minute) }
	s.OnTraffic(peerIP)

	s.now = func() time.Time { return fixed.Add(8 * time.Minute) } // 4min since OnTraffic, still fresh
	s.Tick()

	p, _ := s.Peer(peerIP)
	assert.Equal(t, types.HelloAcked, p.State)
}
