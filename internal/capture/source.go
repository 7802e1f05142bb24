// Package capture implements the Packet Source: a pluggable abstraction
// over live capture and offline replay, each feeding a channel of frames
// read by a single consumer goroutine.
package capture

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Frame is a single captured link-layer frame with its capture timestamp.
type Frame struct {
	Timestamp time.Time
	Data      []byte
}

// SourceUnavailable is returned when a backend cannot be opened (interface
// down, missing permission, replay file not found).
type SourceUnavailable struct {
	Interface string
	Cause     error
}

func (e *SourceUnavailable) Error() string {
	return errors.Wrapf(e.Cause, "packet source unavailable on %s", e.Interface).Error()
}

func (e *SourceUnavailable) Unwrap() error { return e.Cause }

// Source produces a lazy, possibly-infinite sequence of frames. Backends:
// live capture on a named interface in promiscuous mode, or replay from a
// capture file with original inter-arrival pacing preserved.
type Source interface {
	// Frames returns a channel that is closed when the source is exhausted
	// (replay EOF) or Close is called.
	Frames() <-chan Frame

	// InterfaceAddrs returns the local IP addresses bound to the interface
	// this source reads from, used to determine packet direction.
	InterfaceAddrs() ([]net.IP, error)

	// Close requests a non-blocking shutdown; Frames() closes once the
	// capture goroutine has drained.
	Close()
}
