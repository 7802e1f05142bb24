package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/rpcpb"
)

// dropAfter bounds how long a buffered item waits for a reconnect before
// it's discarded rather than sent once the connection comes back.
const dropAfter = 60 * time.Second

// Client owns one node's outbound connection to the collector: a bounded
// queue fed by the Tick task, and a background goroutine that drains it
// over a ClientDataService stream, reconnecting with jittered exponential
// backoff on failure.
type Client struct {
	addr   string
	queue  *Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a telemetry client targeting the collector at addr and
// starts its background send loop, backed by a bounded outbound queue of
// the given capacity.
func NewClient(addr string, queueCapacity int) *Client {
	c := &Client{
		addr:  addr,
		queue: NewQueue(queueCapacity),
		done:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c
}

// Enqueue adds one outbound item, subject to the queue's drop-priority
// policy when full.
func (c *Client) Enqueue(item Item) {
	c.queue.Push(item)
}

// Close stops the send loop and closes the underlying connection.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.streamOnce(ctx, b); err != nil {
			printer.Debugf("telemetry client: stream to %s ended: %v\n", c.addr, err)
		}
		delay := b.Duration()

		c.queue.DropOlderThan(time.Now().Add(-dropAfter))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// streamOnce dials the collector, opens one ClientStream, and drains the
// queue into it until the connection fails or the context is cancelled.
func (c *Client) streamOnce(ctx context.Context, b *backoff.Backoff) error {
	// A fresh ID per connection attempt so reconnects are distinguishable
	// in the collector's logs from the same node.
	streamID := uuid.New()

	cc, err := grpc.DialContext(ctx, c.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName)),
	)
	if err != nil {
		return errors.Wrap(err, "dial collector")
	}
	defer cc.Close()

	client := rpcpb.NewClientDataServiceClient(cc)
	stream, err := client.ClientStream(ctx)
	if err != nil {
		return errors.Wrap(err, "open client stream")
	}
	printer.Debugf("telemetry client: stream %s to %s established\n", streamID, c.addr)
	b.Reset()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, _ = stream.CloseAndRecv()
			return ctx.Err()
		case <-ticker.C:
			for _, item := range c.queue.Drain() {
				if err := sendItem(stream, item); err != nil {
					return errors.Wrap(err, "send telemetry item")
				}
			}
		}
	}
}

func sendItem(stream rpcpb.ClientDataService_ClientStreamClient, item Item) error {
	switch item.Kind {
	case KindSnapshot:
		if item.Snapshot == nil {
			return nil
		}
		return stream.Send(&rpcpb.DataMsg{Kind: rpcpb.KindLinkState, LinkState: rpcpb.FromSnapshot(*item.Snapshot)})
	case KindGapPairBatch:
		for _, gp := range item.GapPairs {
			msg := rpcpb.FromGapPair(item.Link, gp)
			if err := stream.Send(&rpcpb.DataMsg{Kind: rpcpb.KindGapPair, GapPair: msg}); err != nil {
				return err
			}
		}
		return nil
	case KindRTTBatch:
		for _, rtt := range item.RTTs {
			msg := rpcpb.FromRTT(rtt)
			if err := stream.Send(&rpcpb.DataMsg{Kind: rpcpb.KindRTT, Rtt: msg}); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
