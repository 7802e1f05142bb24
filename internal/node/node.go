// Package node wires the four cooperative tasks (Capture, Tick, Telemetry,
// Neighbor) into one running process, threading an explicit Context
// through construction rather than reaching for package-level singletons.
// A single cancellable context is the shutdown token shared by all four.
package node

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kjetilom/network-listener/internal/capture"
	"github.com/kjetilom/network-listener/internal/config"
	"github.com/kjetilom/network-listener/internal/decode"
	"github.com/kjetilom/network-listener/internal/flowtable"
	"github.com/kjetilom/network-listener/internal/linkagg"
	"github.com/kjetilom/network-listener/internal/neighbor"
	"github.com/kjetilom/network-listener/internal/pgm"
	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/rpcpb"
	"github.com/kjetilom/network-listener/internal/telemetry"
	"github.com/kjetilom/network-listener/internal/tick"
	"github.com/kjetilom/network-listener/internal/types"
)

// shutdownDrain bounds how long shutdown waits for the telemetry client to
// stop. The client closes its stream on cancellation without sending the
// items still in its queue; those are discarded.
const shutdownDrain = 2 * time.Second

const (
	defaultBandwidthPort = "7700"
	outboundQueueDepth   = 256
	kSlowDefault         = 3
	helloDialTimeout     = 5 * time.Second
)

// Context is the explicit, passed-around bundle of a node's identity and
// configuration; nothing in this package is read from a global.
type Context struct {
	Config    *config.Config
	LocalIPs  map[string]struct{}
	ProcessID int
}

// NewContext resolves the set of local IPs across cfg.Interfaces (or every
// non-loopback interface when the list is empty) and bundles them with cfg.
func NewContext(cfg *config.Config, pid int) (*Context, error) {
	ips := make(map[string]struct{})

	ifaces := cfg.Interfaces
	if len(ifaces) == 0 {
		all, err := net.Interfaces()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate interfaces")
		}
		for _, ifi := range all {
			if ifi.Flags&net.FlagLoopback != 0 {
				continue
			}
			ifaces = append(ifaces, ifi.Name)
		}
	}

	for _, name := range ifaces {
		addrs, err := capture.InterfaceAddrs(name)
		if err != nil {
			printer.Warningf("node: skipping interface %s: %v\n", name, err)
			continue
		}
		for _, ip := range addrs {
			ips[ip.String()] = struct{}{}
		}
	}

	if len(ips) == 0 {
		return nil, errors.New("no usable local interfaces found")
	}

	return &Context{Config: cfg, LocalIPs: ips, ProcessID: pid}, nil
}

func (c *Context) isLocal(ip net.IP) bool {
	if ip == nil {
		return false
	}
	_, ok := c.LocalIPs[ip.String()]
	return ok
}

func (c *Context) firstLocalIP() net.IP {
	for ip := range c.LocalIPs {
		return net.ParseIP(ip)
	}
	return nil
}

// Node owns every long-lived task and the shared Flow Table / Link
// Aggregator / Neighbor Service they read and write.
type Node struct {
	ctx *Context

	flows  *flowtable.Table
	agg    *linkagg.Aggregator
	ticker *tick.Driver

	neighborSvc *neighbor.Service
	pinger      *neighbor.Pinger

	telemetryClient *telemetry.Client
	bandwidthServer *telemetry.Server
	grpcServer      *grpc.Server

	sources []capture.Source

	wg sync.WaitGroup
}

// New assembles a Node from a resolved Context. It opens the packet
// sources, the ICMP pinger, and the telemetry client/server. Opening a live
// source starts its capture reader and NewClient starts the telemetry send
// loop; the four tasks themselves start in Run.
func New(ctx *Context) (*Node, error) {
	cfg := ctx.Config

	agg := linkagg.New(cfg.Windows.GapPairCapacity, cfg.Windows.RTTCapacity,
		cfg.Windows.GapPairCapacity/4, cfg.Windows.RTTCapacity/4)

	flows := flowtable.New(flowtable.Config{
		MSSFloor:    cfg.PGM.MSSFloor,
		IdleTimeout: cfg.Windows.FlowIdle,
		CloseGrace:  cfg.Windows.FlowClose,
	}, ctx.isLocal, func(link types.LinkKey, gap types.GapPair) {
		agg.OnGapPair(link, gap)
	})

	pinger, err := neighbor.NewPinger(ctx.ProcessID&0xffff, cfg.PingTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "open icmp pinger")
	}

	neighborSvc := neighbor.New(cfg.Subnets, cfg.HelloInterval, 3*cfg.HelloInterval,
		&helloTransport{timeout: helloDialTimeout})

	var telemetryClient *telemetry.Client
	if cfg.CollectorAddr != "" {
		telemetryClient = telemetry.NewClient(cfg.CollectorAddr, outboundQueueDepth)
	}

	bandwidthServer := telemetry.NewServer(ctx.firstLocalIP().String(), nil, kSlowDefault)

	pgmCfg := pgm.Config{
		Capacity: cfg.PGM.CapacityBPS,
		MSSFloor: cfg.PGM.MSSFloor,
		Quantile: cfg.PGM.Quantile,
		MinN:     cfg.PGM.MinSamples,
		EMAAlpha: cfg.PGM.EMAAlpha,
	}
	ticker := tick.New(cfg.TickInterval, agg, flows, pgmCfg, outboxAdapter{telemetryClient}, bandwidthServer)
	bandwidthServer.SetPublisher(ticker)

	var sources []capture.Source
	for _, iface := range cfg.Interfaces {
		src, err := capture.NewLiveSource(iface, "tcp or icmp")
		if err != nil {
			return nil, errors.Wrapf(err, "open capture on %s", iface)
		}
		sources = append(sources, src)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&rpcpb.BandwidthService_ServiceDesc, bandwidthServer)

	return &Node{
		ctx:             ctx,
		flows:           flows,
		agg:             agg,
		ticker:          ticker,
		neighborSvc:     neighborSvc,
		pinger:          pinger,
		telemetryClient: telemetryClient,
		bandwidthServer: bandwidthServer,
		grpcServer:      grpcServer,
		sources:         sources,
	}, nil
}

// outboxAdapter lets a nil *telemetry.Client satisfy tick.Outbox as a
// no-op, since a node run without a configured collector_addr still ticks
// locally and still serves BandwidthService requests.
type outboxAdapter struct{ c *telemetry.Client }

func (o outboxAdapter) Enqueue(item telemetry.Item) {
	if o.c != nil {
		o.c.Enqueue(item)
	}
}

// helloTransport adapts the Hello RPC to neighbor.HelloTransport, dialing
// each peer's BandwidthService on demand so the Neighbor Service has no
// direct RPC dependency of its own.
type helloTransport struct {
	timeout time.Duration
}

func (h *helloTransport) SendHello(peer net.IP) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	cc, err := grpc.DialContext(ctx, net.JoinHostPort(peer.String(), defaultBandwidthPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName)),
		grpc.WithBlock(),
	)
	if err != nil {
		return errors.Wrap(err, "dial peer for hello")
	}
	defer cc.Close()

	client := rpcpb.NewBandwidthServiceClient(cc)
	_, err = client.SayHello(ctx, &rpcpb.HelloRequest{Name: peer.String()})
	return err
}

// Run starts all four tasks and blocks until ctx is cancelled, then shuts
// down, waiting up to shutdownDrain for the telemetry client to stop.
func (n *Node) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", net.JoinHostPort("", defaultBandwidthPort))
	if err != nil {
		return errors.Wrap(err, "listen for bandwidth service")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.grpcServer.Serve(lis); err != nil {
			printer.Debugf("node: bandwidth server stopped: %v\n", err)
		}
	}()

	n.wg.Add(1)
	go n.runCaptureTasks(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.ticker.Run(ctx)
	}()

	n.wg.Add(1)
	go n.runNeighborTask(ctx)

	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	n.shutdown(drainCtx)

	n.wg.Wait()
	return nil
}

func (n *Node) shutdown(ctx context.Context) {
	n.grpcServer.Stop()

	for _, src := range n.sources {
		src.Close()
	}
	n.flows.Close()

	if n.telemetryClient != nil {
		done := make(chan struct{})
		go func() {
			n.telemetryClient.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			printer.Warningln("node: telemetry client did not drain within shutdown window")
		}
	}

	if err := n.pinger.Close(); err != nil {
		printer.Debugf("node: closing pinger: %v\n", err)
	}
}

// runCaptureTasks runs one Capture task per configured interface. Each
// reads frames, decodes them, and dispatches to the Flow Table and Link
// Aggregator; it must never block on telemetry, which is why it only ever
// calls non-blocking methods on agg/flows.
func (n *Node) runCaptureTasks(ctx context.Context) {
	defer n.wg.Done()

	var inner sync.WaitGroup
	for _, src := range n.sources {
		inner.Add(1)
		go func(src capture.Source) {
			defer inner.Done()
			n.captureLoop(ctx, src)
		}(src)
	}
	inner.Wait()
}

func (n *Node) captureLoop(ctx context.Context, src capture.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-src.Frames():
			if !ok {
				return
			}
			pkt, reason := decode.Decode(frame.Data, frame.Timestamp)
			if reason != types.DiscardNone || pkt == nil {
				continue
			}
			n.dispatch(pkt)
		}
	}
}

func (n *Node) dispatch(pkt *types.DecodedPacket) {
	var local, remote net.IP
	switch {
	case n.ctx.isLocal(pkt.SrcIP):
		local, remote = pkt.SrcIP, pkt.DstIP
	case n.ctx.isLocal(pkt.DstIP):
		local, remote = pkt.DstIP, pkt.SrcIP
	default:
		return
	}

	n.neighborSvc.Observe(remote)
	n.neighborSvc.OnTraffic(remote)

	link := types.LinkKey{LocalIP: local.String(), NeighborIP: remote.String()}
	outbound := local.Equal(pkt.SrcIP)
	n.agg.OnPacket(link, pkt.TotalLen, outbound)

	if pkt.Proto == types.ProtoTCP {
		n.flows.OnPacket(pkt)
	}
}

// runNeighborTask drives the Hello cadence and ICMP probing on their own
// cadences, writing RTT samples into the Link Aggregator via a bounded,
// non-blocking channel hand-off.
func (n *Node) runNeighborTask(ctx context.Context) {
	defer n.wg.Done()

	helloTicker := time.NewTicker(n.ctx.Config.HelloInterval)
	defer helloTicker.Stop()
	pingTicker := time.NewTicker(n.ctx.Config.PingInterval)
	defer pingTicker.Stop()

	localIP := n.ctx.firstLocalIP()

	rttCh := make(chan types.RTTSample, 64)
	go func() {
		for sample := range rttCh {
			n.agg.OnRTT(sample.Link, sample)
		}
	}()
	defer close(rttCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-helloTicker.C:
			n.neighborSvc.Tick()
		case <-pingTicker.C:
			n.pinger.ProbeAll(localIP, n.neighborSvc.Acked(), func(peer net.IP, sample types.RTTSample) {
				select {
				case rttCh <- sample:
				default:
					printer.Debugf("node: rtt channel full, dropping sample for %s\n", peer)
				}
			})
		}
	}
}
