package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/kjetilom/network-listener/internal/rpcpb"
	"github.com/kjetilom/network-listener/internal/types"
)

// fakeSubscribeStream is a minimal rpcpb.BandwidthService_SubscribeBandwidthServer
// for driving SubscribeBandwidth without a real gRPC connection. Only
// Context and Send are ever called by the server.
type fakeSubscribeStream struct {
	grpc.ServerStream
	ctx      context.Context
	received chan *rpcpb.LinkStateMsg
}

func (f *fakeSubscribeStream) Context() context.Context { return f.ctx }

func (f *fakeSubscribeStream) Send(m *rpcpb.LinkStateMsg) error {
	f.received <- m
	return nil
}

type fakePublisher struct {
	snap types.Snapshot
	ok   bool
}

func (f fakePublisher) Latest(link types.LinkKey) (types.Snapshot, bool) {
	return f.snap, f.ok
}

func TestParseLinkID(t *testing.T) {
	link, err := parseLinkID("10.0.0.1->10.0.0.2")
	assert.NoError(t, err)
	assert.Equal(t, types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.2"}, link)

	_, err = parseLinkID("not-a-link-id-format")
	assert.Error(t, err)
}

func TestPublishEvictsSlowSubscriberAfterKSlowMisses(t *testing.T) {
	s := NewServer("10.0.0.1", fakePublisher{}, 3)
	link := types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.2"}

	sub := &subscriber{link: link, ch: make(chan types.Snapshot, 1)}
	s.subscribers[sub] = struct{}{}

	// First publish fills the subscriber's single-slot channel.
	s.Publish(link, types.Snapshot{})
	assert.Equal(t, 0, sub.missed)

	// Subsequent publishes find the channel still full (nobody's reading)
	// and count as misses.
	s.Publish(link, types.Snapshot{})
	s.Publish(link, types.Snapshot{})
	assert.Equal(t, 2, sub.missed)

	s.Publish(link, types.Snapshot{})
	_, stillPresent := s.subscribers[sub]
	assert.False(t, stillPresent)
}

// TestSubscribeBandwidthIsolatesLinks drives SubscribeBandwidth itself (not
// the subscriber map directly) for two links and confirms a subscriber on
// link A neither receives nor is evicted by publishes on link B.
func TestSubscribeBandwidthIsolatesLinks(t *testing.T) {
	s := NewServer("10.0.0.1", fakePublisher{}, 3)

	linkA := types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.2"}
	linkB := types.LinkKey{LocalIP: "10.0.0.1", NeighborIP: "10.0.0.3"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamA := &fakeSubscribeStream{ctx: ctx, received: make(chan *rpcpb.LinkStateMsg, 1)}
	go s.SubscribeBandwidth(&rpcpb.BandwidthRequest{LinkID: "10.0.0.1->10.0.0.2"}, streamA)

	// Give the subscribe goroutine a chance to register before publishing.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subscribers) == 1
	}, time.Second, time.Millisecond)

	// Publish many times on linkB only; a subscriber on linkA must be
	// completely unaffected (no delivery, no missed-tick eviction).
	for i := 0; i < 10; i++ {
		s.Publish(linkB, types.Snapshot{Link: linkB})
	}

	select {
	case <-streamA.received:
		t.Fatal("subscriber on linkA received a publish meant for linkB")
	default:
	}

	s.mu.Lock()
	require.Equal(t, 1, len(s.subscribers))
	for sub := range s.subscribers {
		assert.Equal(t, linkA, sub.link)
		assert.Equal(t, 0, sub.missed)
	}
	s.mu.Unlock()

	// A publish on linkA itself is delivered normally.
	s.Publish(linkA, types.Snapshot{Link: linkA})
	select {
	case msg := <-streamA.received:
		assert.Equal(t, linkA.String(), msg.SenderIP+"->"+msg.ReceiverIP)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber on linkA to receive its own link's publish")
	}
}
