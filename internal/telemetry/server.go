package telemetry

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/kjetilom/network-listener/internal/rpcpb"
	"github.com/kjetilom/network-listener/internal/types"
)

// Publisher is the read side of whatever holds the node's most recent
// per-link Snapshots (normally the Tick task's latest batch), used to
// answer GetBandwidth and to seed new subscribers.
type Publisher interface {
	Latest(link types.LinkKey) (types.Snapshot, bool)
}

// Server implements rpcpb.BandwidthServiceServer: the Hello handshake
// responder and the GetBandwidth/SubscribeBandwidth query surface.
type Server struct {
	localIP string

	maxMissed int // K_slow

	mu          sync.Mutex
	publisher   Publisher
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	link   types.LinkKey
	ch     chan types.Snapshot
	missed int
}

// NewServer creates a Server. localIP is reported in HelloReply; kSlow is
// the missed-tick threshold (default 3) after which a subscriber is
// dropped.
func NewServer(localIP string, publisher Publisher, kSlow int) *Server {
	return &Server{
		localIP:     localIP,
		publisher:   publisher,
		maxMissed:   kSlow,
		subscribers: make(map[*subscriber]struct{}),
	}
}

var _ rpcpb.BandwidthServiceServer = (*Server)(nil)

// SayHello answers a peer's handshake request.
func (s *Server) SayHello(ctx context.Context, req *rpcpb.HelloRequest) (*rpcpb.HelloReply, error) {
	return &rpcpb.HelloReply{IPAddr: s.localIP}, nil
}

// SetPublisher wires the read side for GetBandwidth/subscriber seeding
// after construction, breaking the construction-order cycle between a
// Server and the Tick Driver that both needs this Server (for Publish) and
// is needed by it (for Latest).
func (s *Server) SetPublisher(pub Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = pub
}

// GetBandwidth returns the most recent snapshot for the requested link.
func (s *Server) GetBandwidth(ctx context.Context, req *rpcpb.BandwidthRequest) (*rpcpb.LinkStateMsg, error) {
	link, err := parseLinkID(req.LinkID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	pub := s.publisher
	s.mu.Unlock()
	if pub == nil {
		return nil, errors.Errorf("no snapshot known for link %s", req.LinkID)
	}
	snap, ok := pub.Latest(link)
	if !ok {
		return nil, errors.Errorf("no snapshot known for link %s", req.LinkID)
	}
	return rpcpb.FromSnapshot(snap), nil
}

// SubscribeBandwidth streams snapshots for a link at tick cadence until the
// client disconnects or falls behind by K_slow ticks. Only Publish calls
// for the requested link are ever delivered to this subscriber; other
// links' traffic neither fills its channel nor counts toward eviction.
func (s *Server) SubscribeBandwidth(req *rpcpb.BandwidthRequest, stream rpcpb.BandwidthService_SubscribeBandwidthServer) error {
	link, err := parseLinkID(req.LinkID)
	if err != nil {
		return err
	}
	sub := &subscriber{link: link, ch: make(chan types.Snapshot, 1)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case snap, ok := <-sub.ch:
			if !ok {
				return errors.New("subscriber evicted: exceeded missed-tick threshold")
			}
			if err := stream.Send(rpcpb.FromSnapshot(snap)); err != nil {
				return err
			}
		}
	}
}

// Publish fans a tick's snapshot for link out to every subscriber whose
// requested link matches, dropping (non-blocking) into that subscriber's
// single-slot channel and evicting it once it has missed K_slow
// consecutive ticks on its own link. Subscribers on other links are
// untouched: neither their channel nor their missed count is affected by
// publishes for links they didn't ask for.
func (s *Server) Publish(link types.LinkKey, snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub.link != link {
			continue
		}
		select {
		case sub.ch <- snap:
			sub.missed = 0
		default:
			sub.missed++
			if sub.missed >= s.maxMissed {
				close(sub.ch)
				delete(s.subscribers, sub)
			}
		}
	}
}

func parseLinkID(id string) (types.LinkKey, error) {
	for i := 0; i+1 < len(id); i++ {
		if id[i] == '-' && id[i+1] == '>' {
			return types.LinkKey{LocalIP: id[:i], NeighborIP: id[i+2:]}, nil
		}
	}
	return types.LinkKey{}, errors.Errorf("malformed link id %q", id)
}

// LocalAddrIP resolves the wire IP string for a net.Conn's local address,
// used by callers constructing HelloReply.IPAddr from a listener.
func LocalAddrIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return addr.String()
}
