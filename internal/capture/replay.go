package capture

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/kjetilom/network-listener/internal/printer"
)

// ReplaySource replays a capture file, preserving the inter-arrival pacing
// recorded in the file. It exists alongside LiveSource as the other Packet
// Source backend, reading through pcapgo rather than opening a live
// handle.
type ReplaySource struct {
	localIPs []net.IP
	frames   chan Frame
	done     chan struct{}
	clock    Clock
}

// NewReplaySource opens path for offline replay. localIPs stands in for the
// interface addresses a live capture would have reported, since a replay
// file has no attached NIC.
func NewReplaySource(path string, localIPs []net.IP, clock Clock) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceUnavailable{Interface: path, Cause: err}
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &SourceUnavailable{Interface: path, Cause: errors.Wrap(err, "bad pcap file")}
	}
	if clock == nil {
		clock = RealClock
	}

	s := &ReplaySource{
		localIPs: localIPs,
		frames:   make(chan Frame, 256),
		done:     make(chan struct{}),
		clock:    clock,
	}
	go s.run(f, reader)
	return s, nil
}

func (s *ReplaySource) run(f *os.File, reader *pcapgo.Reader) {
	defer func() {
		close(s.frames)
		f.Close()
	}()

	var lastRecorded time.Time
	for {
		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if err != io.EOF {
				printer.Debugf("replay ended: %v\n", err)
			}
			return
		}

		if !lastRecorded.IsZero() {
			if gap := ci.Timestamp.Sub(lastRecorded); gap > 0 {
				select {
				case <-time.After(gap):
				case <-s.done:
					return
				}
			}
		}
		lastRecorded = ci.Timestamp

		cp := make([]byte, len(data))
		copy(cp, data)

		select {
		case s.frames <- Frame{Timestamp: ci.Timestamp, Data: cp}:
		case <-s.done:
			return
		}
	}
}

func (s *ReplaySource) Frames() <-chan Frame { return s.frames }

func (s *ReplaySource) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *ReplaySource) InterfaceAddrs() ([]net.IP, error) {
	return s.localIPs, nil
}
