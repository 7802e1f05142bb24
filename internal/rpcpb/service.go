package rpcpb

import (
	"context"

	"google.golang.org/grpc"
)

// IngestAck is returned once by the collector's ClientStream RPC when the
// node-side stream closes, summarizing what was ingested.
type IngestAck struct {
	ReceivedCount int64
}

// --- BandwidthService: SayHello / GetBandwidth / SubscribeBandwidth -------

// BandwidthServiceServer is implemented by the telemetry serving side
// (internal/telemetry).
type BandwidthServiceServer interface {
	SayHello(context.Context, *HelloRequest) (*HelloReply, error)
	GetBandwidth(context.Context, *BandwidthRequest) (*LinkStateMsg, error)
	SubscribeBandwidth(*BandwidthRequest, BandwidthService_SubscribeBandwidthServer) error
}

// BandwidthService_SubscribeBandwidthServer streams LinkStateMsg values at
// tick cadence to one subscriber.
type BandwidthService_SubscribeBandwidthServer interface {
	Send(*LinkStateMsg) error
	grpc.ServerStream
}

type bandwidthServiceSubscribeBandwidthServer struct {
	grpc.ServerStream
}

func (x *bandwidthServiceSubscribeBandwidthServer) Send(m *LinkStateMsg) error {
	return x.ServerStream.SendMsg(m)
}

func _BandwidthService_SayHello_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HelloRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BandwidthServiceServer).SayHello(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcpb.BandwidthService/SayHello"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BandwidthServiceServer).SayHello(ctx, req.(*HelloRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BandwidthService_GetBandwidth_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BandwidthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BandwidthServiceServer).GetBandwidth(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcpb.BandwidthService/GetBandwidth"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BandwidthServiceServer).GetBandwidth(ctx, req.(*BandwidthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BandwidthService_SubscribeBandwidth_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(BandwidthRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BandwidthServiceServer).SubscribeBandwidth(m, &bandwidthServiceSubscribeBandwidthServer{stream})
}

// BandwidthService_ServiceDesc is handed to grpc.Server.RegisterService.
var BandwidthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcpb.BandwidthService",
	HandlerType: (*BandwidthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SayHello", Handler: _BandwidthService_SayHello_Handler},
		{MethodName: "GetBandwidth", Handler: _BandwidthService_GetBandwidth_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SubscribeBandwidth", Handler: _BandwidthService_SubscribeBandwidth_Handler, ServerStreams: true},
	},
	Metadata: "rpcpb/bandwidth.rpc",
}

// BandwidthServiceClient is the node-to-node client used for the Hello
// handshake and ad hoc bandwidth queries.
type BandwidthServiceClient interface {
	SayHello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloReply, error)
	GetBandwidth(ctx context.Context, in *BandwidthRequest, opts ...grpc.CallOption) (*LinkStateMsg, error)
	SubscribeBandwidth(ctx context.Context, in *BandwidthRequest, opts ...grpc.CallOption) (BandwidthService_SubscribeBandwidthClient, error)
}

type bandwidthServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBandwidthServiceClient wraps a dialed connection.
func NewBandwidthServiceClient(cc grpc.ClientConnInterface) BandwidthServiceClient {
	return &bandwidthServiceClient{cc}
}

func (c *bandwidthServiceClient) SayHello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloReply, error) {
	out := new(HelloReply)
	if err := c.cc.Invoke(ctx, "/rpcpb.BandwidthService/SayHello", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bandwidthServiceClient) GetBandwidth(ctx context.Context, in *BandwidthRequest, opts ...grpc.CallOption) (*LinkStateMsg, error) {
	out := new(LinkStateMsg)
	if err := c.cc.Invoke(ctx, "/rpcpb.BandwidthService/GetBandwidth", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bandwidthServiceClient) SubscribeBandwidth(ctx context.Context, in *BandwidthRequest, opts ...grpc.CallOption) (BandwidthService_SubscribeBandwidthClient, error) {
	stream, err := c.cc.NewStream(ctx, &BandwidthService_ServiceDesc.Streams[0], "/rpcpb.BandwidthService/SubscribeBandwidth", opts...)
	if err != nil {
		return nil, err
	}
	x := &bandwidthServiceSubscribeBandwidthClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// BandwidthService_SubscribeBandwidthClient is the subscriber-side stream
// handle; slow readers that fall behind are dropped by the server's own
// eviction policy, not by anything on this side.
type BandwidthService_SubscribeBandwidthClient interface {
	Recv() (*LinkStateMsg, error)
	grpc.ClientStream
}

type bandwidthServiceSubscribeBandwidthClient struct {
	grpc.ClientStream
}

func (x *bandwidthServiceSubscribeBandwidthClient) Recv() (*LinkStateMsg, error) {
	m := new(LinkStateMsg)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- ClientDataService: ClientStream (node -> collector ingest) ----------

// ClientDataServiceServer is implemented by the collector's ingest side
// (internal/collector).
type ClientDataServiceServer interface {
	ClientStream(ClientDataService_ClientStreamServer) error
}

// ClientDataService_ClientStreamServer is the collector's view of one
// node's inbound stream: many DataMsgs in, one IngestAck out on close.
type ClientDataService_ClientStreamServer interface {
	SendAndClose(*IngestAck) error
	Recv() (*DataMsg, error)
	grpc.ServerStream
}

type clientDataServiceClientStreamServer struct {
	grpc.ServerStream
}

func (x *clientDataServiceClientStreamServer) SendAndClose(m *IngestAck) error {
	return x.ServerStream.SendMsg(m)
}

func (x *clientDataServiceClientStreamServer) Recv() (*DataMsg, error) {
	m := new(DataMsg)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _ClientDataService_ClientStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ClientDataServiceServer).ClientStream(&clientDataServiceClientStreamServer{stream})
}

// ClientDataService_ServiceDesc is handed to grpc.Server.RegisterService on
// the collector process.
var ClientDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcpb.ClientDataService",
	HandlerType: (*ClientDataServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "ClientStream", Handler: _ClientDataService_ClientStream_Handler, ClientStreams: true},
	},
	Metadata: "rpcpb/clientdata.rpc",
}

// ClientDataServiceClient is the node-side handle used by the telemetry
// outbound task to stream DataMsgs to the collector.
type ClientDataServiceClient interface {
	ClientStream(ctx context.Context, opts ...grpc.CallOption) (ClientDataService_ClientStreamClient, error)
}

type clientDataServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewClientDataServiceClient wraps a dialed connection to the collector.
func NewClientDataServiceClient(cc grpc.ClientConnInterface) ClientDataServiceClient {
	return &clientDataServiceClient{cc}
}

func (c *clientDataServiceClient) ClientStream(ctx context.Context, opts ...grpc.CallOption) (ClientDataService_ClientStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ClientDataService_ServiceDesc.Streams[0], "/rpcpb.ClientDataService/ClientStream", opts...)
	if err != nil {
		return nil, err
	}
	return &clientDataServiceClientStreamClient{stream}, nil
}

// ClientDataService_ClientStreamClient is the node's outbound stream
// handle.
type ClientDataService_ClientStreamClient interface {
	Send(*DataMsg) error
	CloseAndRecv() (*IngestAck, error)
	grpc.ClientStream
}

type clientDataServiceClientStreamClient struct {
	grpc.ClientStream
}

func (x *clientDataServiceClientStreamClient) Send(m *DataMsg) error {
	return x.ClientStream.SendMsg(m)
}

func (x *clientDataServiceClientStreamClient) CloseAndRecv() (*IngestAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(IngestAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
