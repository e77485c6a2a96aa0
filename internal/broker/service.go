package broker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified name of the broker's value service.
const ServiceName = "kuksa.val.v1.VAL"

const (
	MethodGet           = "/" + ServiceName + "/Get"
	MethodSet           = "/" + ServiceName + "/Set"
	MethodSubscribe     = "/" + ServiceName + "/Subscribe"
	MethodGetServerInfo = "/" + ServiceName + "/GetServerInfo"
)

// VALClient is the client API of the broker value service.
type VALClient interface {
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClientStream, error)
	GetServerInfo(ctx context.Context, in *GetServerInfoRequest, opts ...grpc.CallOption) (*GetServerInfoResponse, error)
}

// SubscribeClientStream receives subscription batches.
type SubscribeClientStream interface {
	Recv() (*SubscribeResponse, error)
	grpc.ClientStream
}

type valClient struct {
	cc grpc.ClientConnInterface
}

// NewVALClient returns a VALClient speaking protobuf over cc.
func NewVALClient(cc grpc.ClientConnInterface) VALClient {
	return &valClient{cc: cc}
}

func (c *valClient) invoke(ctx context.Context, method string, in, out Message, opts []grpc.CallOption) error {
	req, err := ToProto(in)
	if err != nil {
		return err
	}
	resp := newProto(out)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return err
	}
	return FromProto(resp, out)
}

func (c *valClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.invoke(ctx, MethodGet, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *valClient) Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error) {
	out := new(SetResponse)
	if err := c.invoke(ctx, MethodSet, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *valClient) GetServerInfo(ctx context.Context, in *GetServerInfoRequest, opts ...grpc.CallOption) (*GetServerInfoResponse, error) {
	out := new(GetServerInfoResponse)
	if err := c.invoke(ctx, MethodGetServerInfo, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *valClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClientStream, error) {
	req, err := ToProto(in)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &valServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClientStream{stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type subscribeClientStream struct {
	grpc.ClientStream
}

func (x *subscribeClientStream) Recv() (*SubscribeResponse, error) {
	out := new(SubscribeResponse)
	m := newProto(out)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	if err := FromProto(m, out); err != nil {
		return nil, err
	}
	return out, nil
}

// VALServer is the server API of the broker value service.
type VALServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Subscribe(*SubscribeRequest, SubscribeServerStream) error
	GetServerInfo(context.Context, *GetServerInfoRequest) (*GetServerInfoResponse, error)
}

// SubscribeServerStream sends subscription batches.
type SubscribeServerStream interface {
	Send(*SubscribeResponse) error
	grpc.ServerStream
}

// UnimplementedVALServer can be embedded to get forward compatible implementations.
type UnimplementedVALServer struct{}

func (UnimplementedVALServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Get not implemented")
}

func (UnimplementedVALServer) Set(context.Context, *SetRequest) (*SetResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Set not implemented")
}

func (UnimplementedVALServer) Subscribe(*SubscribeRequest, SubscribeServerStream) error {
	return status.Errorf(codes.Unimplemented, "method Subscribe not implemented")
}

func (UnimplementedVALServer) GetServerInfo(context.Context, *GetServerInfoRequest) (*GetServerInfoResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetServerInfo not implemented")
}

// RegisterVALServer registers srv on s.
func RegisterVALServer(s grpc.ServiceRegistrar, srv VALServer) {
	s.RegisterService(&valServiceDesc, srv)
}

// decodeRequest reads the next request message into in.
func decodeRequest(dec func(any) error, in Message) error {
	m := newProto(in)
	if err := dec(m); err != nil {
		return err
	}
	return FromProto(m, in)
}

// encodeResponse converts a handler result into its protobuf form.
func encodeResponse(out any, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	msg, ok := out.(Message)
	if !ok {
		return nil, status.Errorf(codes.Internal, "unexpected response type %T", out)
	}
	resp, err := ToProto(msg)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := decodeRequest(dec, in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return encodeResponse(srv.(VALServer).Get(ctx, in))
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGet}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VALServer).Get(ctx, req.(*GetRequest))
	}
	return encodeResponse(interceptor(ctx, in, info, handler))
}

func setHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetRequest)
	if err := decodeRequest(dec, in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return encodeResponse(srv.(VALServer).Set(ctx, in))
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSet}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VALServer).Set(ctx, req.(*SetRequest))
	}
	return encodeResponse(interceptor(ctx, in, info, handler))
}

func getServerInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetServerInfoRequest)
	if err := decodeRequest(dec, in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return encodeResponse(srv.(VALServer).GetServerInfo(ctx, in))
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetServerInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VALServer).GetServerInfo(ctx, req.(*GetServerInfoRequest))
	}
	return encodeResponse(interceptor(ctx, in, info, handler))
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := decodeRequest(stream.RecvMsg, in); err != nil {
		return err
	}
	return srv.(VALServer).Subscribe(in, &subscribeServerStream{stream})
}

type subscribeServerStream struct {
	grpc.ServerStream
}

func (x *subscribeServerStream) Send(m *SubscribeResponse) error {
	resp, err := ToProto(m)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return x.ServerStream.SendMsg(resp)
}

var valServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VALServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Set", Handler: setHandler},
		{MethodName: "GetServerInfo", Handler: getServerInfoHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kuksa/val/v1/val.proto",
}
