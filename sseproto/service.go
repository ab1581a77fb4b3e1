// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package sseproto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ConnectorServiceName = "qlik.sse.Connector"

	GetCapabilitiesFullMethod = "/qlik.sse.Connector/GetCapabilities"
	ExecuteFunctionFullMethod = "/qlik.sse.Connector/ExecuteFunction"
	EvaluateScriptFullMethod  = "/qlik.sse.Connector/EvaluateScript"
)

type (
	ExecuteFunctionServer = grpc.BidiStreamingServer[BundledRows, BundledRows]
	EvaluateScriptServer  = grpc.BidiStreamingServer[BundledRows, BundledRows]
	ExecuteFunctionClient = grpc.BidiStreamingClient[BundledRows, BundledRows]
	EvaluateScriptClient  = grpc.BidiStreamingClient[BundledRows, BundledRows]
)

// ConnectorServer is the server API of the qlik.sse.Connector service.
type ConnectorServer interface {
	GetCapabilities(context.Context, *Empty) (*Capabilities, error)
	ExecuteFunction(ExecuteFunctionServer) error
	EvaluateScript(EvaluateScriptServer) error
}

// UnimplementedConnectorServer answers every call with codes.Unimplemented.
type UnimplementedConnectorServer struct{}

func (UnimplementedConnectorServer) GetCapabilities(context.Context, *Empty) (*Capabilities, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCapabilities not implemented")
}

func (UnimplementedConnectorServer) ExecuteFunction(ExecuteFunctionServer) error {
	return status.Error(codes.Unimplemented, "method ExecuteFunction not implemented")
}

func (UnimplementedConnectorServer) EvaluateScript(EvaluateScriptServer) error {
	return status.Error(codes.Unimplemented, "method EvaluateScript not implemented")
}

func RegisterConnectorServer(s grpc.ServiceRegistrar, srv ConnectorServer) {
	s.RegisterService(&ConnectorServiceDesc, srv)
}

func getCapabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConnectorServer).GetCapabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetCapabilitiesFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConnectorServer).GetCapabilities(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func executeFunctionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConnectorServer).ExecuteFunction(&grpc.GenericServerStream[BundledRows, BundledRows]{ServerStream: stream})
}

func evaluateScriptHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConnectorServer).EvaluateScript(&grpc.GenericServerStream[BundledRows, BundledRows]{ServerStream: stream})
}

var ConnectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ConnectorServiceName,
	HandlerType: (*ConnectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCapabilities",
			Handler:    getCapabilitiesHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExecuteFunction",
			Handler:       executeFunctionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "EvaluateScript",
			Handler:       evaluateScriptHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ServerSideExtension.proto",
}

// ConnectorClient is the client API of the qlik.sse.Connector service. The
// plugin never dials the engine; the client exists for tests and tooling.
type ConnectorClient interface {
	GetCapabilities(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Capabilities, error)
	ExecuteFunction(ctx context.Context, opts ...grpc.CallOption) (ExecuteFunctionClient, error)
	EvaluateScript(ctx context.Context, opts ...grpc.CallOption) (EvaluateScriptClient, error)
}

type connectorClient struct {
	cc grpc.ClientConnInterface
}

// NewConnectorClient returns a client that always uses Codec.
func NewConnectorClient(cc grpc.ClientConnInterface) ConnectorClient {
	return &connectorClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
}

func (c *connectorClient) GetCapabilities(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Capabilities, error) {
	out := new(Capabilities)
	if err := c.cc.Invoke(ctx, GetCapabilitiesFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *connectorClient) ExecuteFunction(ctx context.Context, opts ...grpc.CallOption) (ExecuteFunctionClient, error) {
	stream, err := c.cc.NewStream(ctx, &ConnectorServiceDesc.Streams[0], ExecuteFunctionFullMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[BundledRows, BundledRows]{ClientStream: stream}, nil
}

func (c *connectorClient) EvaluateScript(ctx context.Context, opts ...grpc.CallOption) (EvaluateScriptClient, error) {
	stream, err := c.cc.NewStream(ctx, &ConnectorServiceDesc.Streams[1], EvaluateScriptFullMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[BundledRows, BundledRows]{ClientStream: stream}, nil
}
