package capture

import (
	"net"

	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/kjetilom/network-listener/internal/printer"
)

// defaultSnapLen matches tcpdump's default.
const defaultSnapLen = 262144

// LiveSource captures from a named interface in promiscuous mode.
type LiveSource struct {
	iface  string
	handle *pcap.Handle
	frames chan Frame
	done   chan struct{}
}

// NewLiveSource opens a live capture handle on iface, optionally filtered by
// a BPF expression.
func NewLiveSource(iface, bpfFilter string) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, defaultSnapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, &SourceUnavailable{Interface: iface, Cause: err}
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "failed to set BPF filter")
		}
	}

	s := &LiveSource{
		iface:  iface,
		handle: handle,
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *LiveSource) run() {
	defer func() {
		close(s.frames)
		s.handle.Close()
	}()

	for {
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			printer.Debugf("capture on %s ended: %v\n", s.iface, err)
			return
		}

		// ZeroCopyReadPacketData's buffer is reused on the next read, so we
		// must copy before handing it to another goroutine.
		cp := make([]byte, len(data))
		copy(cp, data)

		select {
		case s.frames <- Frame{Timestamp: ci.Timestamp, Data: cp}:
		case <-s.done:
			return
		}
	}
}

func (s *LiveSource) Frames() <-chan Frame { return s.frames }

func (s *LiveSource) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// InterfaceAddrs resolves the host IPs bound to iface.
func (s *LiveSource) InterfaceAddrs() ([]net.IP, error) {
	return InterfaceAddrs(s.iface)
}

// InterfaceAddrs is factored out so replay sources (which have no live NIC)
// can still answer for a named interface when the config asks them to.
func InterfaceAddrs(iface string) ([]net.IP, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "no network interface with name %s", iface)
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get addresses on interface %s", ifi.Name)
	}

	var ips []net.IP
	for _, a := range addrs {
		switch v := a.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips, nil
}
