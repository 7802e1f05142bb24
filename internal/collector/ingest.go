package collector

import (
	"io"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"google.golang.org/grpc/peer"

	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/rpcpb"
)

// defaultQueueDepth bounds the per-stream channel between the gRPC receive
// loop and the sink-writing goroutine, so a slow sink never blocks the
// network read.
const defaultQueueDepth = 1024

// Ingest implements rpcpb.ClientDataServiceServer: one goroutine per
// inbound stream reads DataMsgs and hands them to a bounded channel; a
// second goroutine drains that channel into the Sink, dropping the oldest
// buffered message when the sink falls behind.
type Ingest struct {
	sink    Sink
	dropped uint64
}

// NewIngest creates an Ingest service backed by sink.
func NewIngest(sink Sink) *Ingest {
	return &Ingest{sink: sink}
}

var _ rpcpb.ClientDataServiceServer = (*Ingest)(nil)

// Dropped reports how many messages were spilled due to sink backpressure,
// for metrics/diagnostics.
func (g *Ingest) Dropped() uint64 { return atomic.LoadUint64(&g.dropped) }

// ClientStream reads a node's stream of DataMsgs to completion, routing
// each to the sink, and returns an IngestAck summarizing what was applied.
func (g *Ingest) ClientStream(stream rpcpb.ClientDataService_ClientStreamServer) error {
	senderIP := peerIP(stream)

	queue := make(chan *rpcpb.DataMsg, defaultQueueDepth)
	applyDone := make(chan int64)

	go g.applyLoop(senderIP, queue, applyDone)

	var received int64
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			close(queue)
			applied := <-applyDone
			return stream.SendAndClose(&rpcpb.IngestAck{ReceivedCount: applied})
		}
		if err != nil {
			close(queue)
			<-applyDone
			return errors.Wrap(err, "ingest recv")
		}
		received++

		select {
		case queue <- msg:
		default:
			// Sink-side goroutine is behind; drop the oldest queued message
			// to make room rather than block the network read.
			select {
			case <-queue:
				atomic.AddUint64(&g.dropped, 1)
			default:
			}
			select {
			case queue <- msg:
			default:
			}
		}
	}
}

func (g *Ingest) applyLoop(senderIP string, queue <-chan *rpcpb.DataMsg, done chan<- int64) {
	var applied int64
	for msg := range queue {
		if err := g.apply(senderIP, msg); err != nil {
			printer.Debugf("ingest: apply from %s failed: %v\n", senderIP, err)
			continue
		}
		applied++
	}
	done <- applied
}

func (g *Ingest) apply(senderIP string, msg *rpcpb.DataMsg) error {
	switch msg.Kind {
	case rpcpb.KindLinkState:
		if msg.LinkState == nil {
			return nil
		}
		return g.sink.StoreSnapshot(senderIP, rpcpb.ToSnapshot(msg.LinkState))
	case rpcpb.KindGapPair:
		if msg.GapPair == nil {
			return nil
		}
		return g.sink.StoreGapPair(senderIP, msg.GapPair.LinkID, rpcpb.ToGapPair(msg.GapPair))
	case rpcpb.KindRTT:
		if msg.Rtt == nil {
			return nil
		}
		return g.sink.StoreRTT(senderIP, msg.Rtt.LinkID, rpcpb.ToRTT(msg.Rtt))
	default:
		return nil
	}
}

// peerIP resolves the remote IP (without port) grpc recorded for this
// stream.
func peerIP(stream rpcpb.ClientDataService_ClientStreamServer) string {
	p, ok := peer.FromContext(stream.Context())
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
