package remoteexec

import (
	"context"

	"google.golang.org/grpc"
)

const (
	RemoteExec_ServiceName                  = "remoteexec.RemoteExec"
	RemoteExec_RemoteExecute_FullMethodName = "/remoteexec.RemoteExec/RemoteExecute"
)

// RemoteExecClient is the client API for the RemoteExec service, mirroring
// the shape protoc-gen-go-grpc would emit for the service in
// remoteexec.proto.
type RemoteExecClient interface {
	RemoteExecute(ctx context.Context, opts ...grpc.CallOption) (RemoteExec_RemoteExecuteClient, error)
}

type remoteExecClient struct {
	cc grpc.ClientConnInterface
}

// NewRemoteExecClient wraps a dialed connection as a RemoteExecClient.
func NewRemoteExecClient(cc grpc.ClientConnInterface) RemoteExecClient {
	return &remoteExecClient{cc}
}

func (c *remoteExecClient) RemoteExecute(ctx context.Context, opts ...grpc.CallOption) (RemoteExec_RemoteExecuteClient, error) {
	stream, err := c.cc.NewStream(ctx, &RemoteExec_ServiceDesc.Streams[0], RemoteExec_RemoteExecute_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &remoteExecRemoteExecuteClient{stream}, nil
}

// RemoteExec_RemoteExecuteClient is the agent's view of the stream: it
// sends Responses and receives Requests.
type RemoteExec_RemoteExecuteClient interface {
	Send(*Response) error
	Recv() (*Request, error)
	grpc.ClientStream
}

type remoteExecRemoteExecuteClient struct {
	grpc.ClientStream
}

func (x *remoteExecRemoteExecuteClient) Send(m *Response) error {
	return x.ClientStream.SendMsg(m)
}

func (x *remoteExecRemoteExecuteClient) Recv() (*Request, error) {
	m := new(Request)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemoteExecServer is the server API for the RemoteExec service. The
// control plane implements this; the agent only ever plays the client
// role described above.
type RemoteExecServer interface {
	RemoteExecute(RemoteExec_RemoteExecuteServer) error
}

type RemoteExec_RemoteExecuteServer interface {
	Send(*Request) error
	Recv() (*Response, error)
	grpc.ServerStream
}

type remoteExecRemoteExecuteServer struct {
	grpc.ServerStream
}

func (x *remoteExecRemoteExecuteServer) Send(m *Request) error {
	return x.ServerStream.SendMsg(m)
}

func (x *remoteExecRemoteExecuteServer) Recv() (*Response, error) {
	m := new(Response)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _RemoteExec_RemoteExecute_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RemoteExecServer).RemoteExecute(&remoteExecRemoteExecuteServer{stream})
}

// RemoteExec_ServiceDesc is the grpc.ServiceDesc for the RemoteExec
// service, used by both NewRemoteExecClient and RegisterRemoteExecServer.
var RemoteExec_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RemoteExec_ServiceName,
	HandlerType: (*RemoteExecServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "RemoteExecute",
			Handler:       _RemoteExec_RemoteExecute_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "remoteexec.proto",
}

// RegisterRemoteExecServer registers srv on s under the RemoteExec
// service descriptor.
func RegisterRemoteExecServer(s grpc.ServiceRegistrar, srv RemoteExecServer) {
	s.RegisterService(&RemoteExec_ServiceDesc, srv)
}
