package meshpb

import (
	"context"

	"google.golang.org/grpc"
)

const serviceMetadata = "meteomesh/mesh"

const (
	CentralServer_RegisterLocalNode_FullMethodName  = "/meteomesh.CentralServer/RegisterLocalNode"
	CentralServer_SendHeartbeat_FullMethodName      = "/meteomesh.CentralServer/SendHeartbeat"
	CentralServer_GetNodeData_FullMethodName        = "/meteomesh.CentralServer/GetNodeData"
	StationIngress_SubmitMeasurement_FullMethodName = "/meteomesh.StationIngress/SubmitMeasurement"
	StationControl_StreamCommands_FullMethodName    = "/meteomesh.StationControl/StreamCommands"
	LocalNodeData_QueryMeasurements_FullMethodName  = "/meteomesh.LocalNodeData/QueryMeasurements"
	LocalNodeData_GetStations_FullMethodName        = "/meteomesh.LocalNodeData/GetStations"
	LocalNodeData_GetHealthStatus_FullMethodName    = "/meteomesh.LocalNodeData/GetHealthStatus"
)

// methodHandler is the type of grpc.MethodDesc.Handler.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req, Res any](fullMethod string, call func(srv any, ctx context.Context, in *Req) (*Res, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		})
	}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, method, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CentralServer is served by the central process and called by nodes.

type CentralServerServer interface {
	RegisterLocalNode(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error)
	SendHeartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	GetNodeData(context.Context, *NodeDataRequest) (*NodeDataResponse, error)
}

var CentralServer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meteomesh.CentralServer",
	HandlerType: (*CentralServerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterLocalNode",
			Handler: unaryHandler(CentralServer_RegisterLocalNode_FullMethodName, func(srv any, ctx context.Context, in *RegisterNodeRequest) (*RegisterNodeResponse, error) {
				return srv.(CentralServerServer).RegisterLocalNode(ctx, in)
			}),
		},
		{
			MethodName: "SendHeartbeat",
			Handler: unaryHandler(CentralServer_SendHeartbeat_FullMethodName, func(srv any, ctx context.Context, in *HeartbeatRequest) (*HeartbeatResponse, error) {
				return srv.(CentralServerServer).SendHeartbeat(ctx, in)
			}),
		},
		{
			MethodName: "GetNodeData",
			Handler: unaryHandler(CentralServer_GetNodeData_FullMethodName, func(srv any, ctx context.Context, in *NodeDataRequest) (*NodeDataResponse, error) {
				return srv.(CentralServerServer).GetNodeData(ctx, in)
			}),
		},
	},
	Metadata: serviceMetadata,
}

func RegisterCentralServerServer(s grpc.ServiceRegistrar, srv CentralServerServer) {
	s.RegisterService(&CentralServer_ServiceDesc, srv)
}

type CentralServerClient interface {
	RegisterLocalNode(ctx context.Context, in *RegisterNodeRequest, opts ...grpc.CallOption) (*RegisterNodeResponse, error)
	SendHeartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	GetNodeData(ctx context.Context, in *NodeDataRequest, opts ...grpc.CallOption) (*NodeDataResponse, error)
}

type centralServerClient struct {
	cc grpc.ClientConnInterface
}

func NewCentralServerClient(cc grpc.ClientConnInterface) CentralServerClient {
	return &centralServerClient{cc}
}

func (c *centralServerClient) RegisterLocalNode(ctx context.Context, in *RegisterNodeRequest, opts ...grpc.CallOption) (*RegisterNodeResponse, error) {
	return invoke[RegisterNodeResponse](ctx, c.cc, CentralServer_RegisterLocalNode_FullMethodName, in, opts)
}

func (c *centralServerClient) SendHeartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, CentralServer_SendHeartbeat_FullMethodName, in, opts)
}

func (c *centralServerClient) GetNodeData(ctx context.Context, in *NodeDataRequest, opts ...grpc.CallOption) (*NodeDataResponse, error) {
	return invoke[NodeDataResponse](ctx, c.cc, CentralServer_GetNodeData_FullMethodName, in, opts)
}

// StationIngress accepts measurements from stations.

type StationIngressServer interface {
	SubmitMeasurement(context.Context, *SubmitMeasurementRequest) (*SubmitMeasurementResponse, error)
}

var StationIngress_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meteomesh.StationIngress",
	HandlerType: (*StationIngressServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitMeasurement",
			Handler: unaryHandler(StationIngress_SubmitMeasurement_FullMethodName, func(srv any, ctx context.Context, in *SubmitMeasurementRequest) (*SubmitMeasurementResponse, error) {
				return srv.(StationIngressServer).SubmitMeasurement(ctx, in)
			}),
		},
	},
	Metadata: serviceMetadata,
}

func RegisterStationIngressServer(s grpc.ServiceRegistrar, srv StationIngressServer) {
	s.RegisterService(&StationIngress_ServiceDesc, srv)
}

type StationIngressClient interface {
	SubmitMeasurement(ctx context.Context, in *SubmitMeasurementRequest, opts ...grpc.CallOption) (*SubmitMeasurementResponse, error)
}

type stationIngressClient struct {
	cc grpc.ClientConnInterface
}

func NewStationIngressClient(cc grpc.ClientConnInterface) StationIngressClient {
	return &stationIngressClient{cc}
}

func (c *stationIngressClient) SubmitMeasurement(ctx context.Context, in *SubmitMeasurementRequest, opts ...grpc.CallOption) (*SubmitMeasurementResponse, error) {
	return invoke[SubmitMeasurementResponse](ctx, c.cc, StationIngress_SubmitMeasurement_FullMethodName, in, opts)
}

// StationControl streams control commands to a connected station.

type StationControlServer interface {
	StreamCommands(*StreamCommandsRequest, grpc.ServerStreamingServer[ControlCommand]) error
}

func _StationControl_StreamCommands_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamCommandsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StationControlServer).StreamCommands(m, &grpc.GenericServerStream[StreamCommandsRequest, ControlCommand]{ServerStream: stream})
}

var StationControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meteomesh.StationControl",
	HandlerType: (*StationControlServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamCommands",
			Handler:       _StationControl_StreamCommands_Handler,
			ServerStreams: true,
		},
	},
	Metadata: serviceMetadata,
}

func RegisterStationControlServer(s grpc.ServiceRegistrar, srv StationControlServer) {
	s.RegisterService(&StationControl_ServiceDesc, srv)
}

type StationControlClient interface {
	StreamCommands(ctx context.Context, in *StreamCommandsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ControlCommand], error)
}

type stationControlClient struct {
	cc grpc.ClientConnInterface
}

func NewStationControlClient(cc grpc.ClientConnInterface) StationControlClient {
	return &stationControlClient{cc}
}

func (c *stationControlClient) StreamCommands(ctx context.Context, in *StreamCommandsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ControlCommand], error) {
	stream, err := c.cc.NewStream(ctx, &StationControl_ServiceDesc.Streams[0], StationControl_StreamCommands_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamCommandsRequest, ControlCommand]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// LocalNodeData is the node's read API used by the central server.

type LocalNodeDataServer interface {
	QueryMeasurements(context.Context, *QueryMeasurementsRequest) (*QueryMeasurementsResponse, error)
	GetStations(context.Context, *GetStationsRequest) (*GetStationsResponse, error)
	GetHealthStatus(context.Context, *HealthStatusRequest) (*HealthStatusResponse, error)
}

var LocalNodeData_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meteomesh.LocalNodeData",
	HandlerType: (*LocalNodeDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "QueryMeasurements",
			Handler: unaryHandler(LocalNodeData_QueryMeasurements_FullMethodName, func(srv any, ctx context.Context, in *QueryMeasurementsRequest) (*QueryMeasurementsResponse, error) {
				return srv.(LocalNodeDataServer).QueryMeasurements(ctx, in)
			}),
		},
		{
			MethodName: "GetStations",
			Handler: unaryHandler(LocalNodeData_GetStations_FullMethodName, func(srv any, ctx context.Context, in *GetStationsRequest) (*GetStationsResponse, error) {
				return srv.(LocalNodeDataServer).GetStations(ctx, in)
			}),
		},
		{
			MethodName: "GetHealthStatus",
			Handler: unaryHandler(LocalNodeData_GetHealthStatus_FullMethodName, func(srv any, ctx context.Context, in *HealthStatusRequest) (*HealthStatusResponse, error) {
				return srv.(LocalNodeDataServer).GetHealthStatus(ctx, in)
			}),
		},
	},
	Metadata: serviceMetadata,
}

func RegisterLocalNodeDataServer(s grpc.ServiceRegistrar, srv LocalNodeDataServer) {
	s.RegisterService(&LocalNodeData_ServiceDesc, srv)
}

type LocalNodeDataClient interface {
	QueryMeasurements(ctx context.Context, in *QueryMeasurementsRequest, opts ...grpc.CallOption) (*QueryMeasurementsResponse, error)
	GetStations(ctx context.Context, in *GetStationsRequest, opts ...grpc.CallOption) (*GetStationsResponse, error)
	GetHealthStatus(ctx context.Context, in *HealthStatusRequest, opts ...grpc.CallOption) (*HealthStatusResponse, error)
}

type localNodeDataClient struct {
	cc grpc.ClientConnInterface
}

func NewLocalNodeDataClient(cc grpc.ClientConnInterface) LocalNodeDataClient {
	return &localNodeDataClient{cc}
}

func (c *localNodeDataClient) QueryMeasurements(ctx context.Context, in *QueryMeasurementsRequest, opts ...grpc.CallOption) (*QueryMeasurementsResponse, error) {
	return invoke[QueryMeasurementsResponse](ctx, c.cc, LocalNodeData_QueryMeasurements_FullMethodName, in, opts)
}

func (c *localNodeDataClient) GetStations(ctx context.Context, in *GetStationsRequest, opts ...grpc.CallOption) (*GetStationsResponse, error) {
	return invoke[GetStationsResponse](ctx, c.cc, LocalNodeData_GetStations_FullMethodName, in, opts)
}

func (c *localNodeDataClient) GetHealthStatus(ctx context.Context, in *HealthStatusRequest, opts ...grpc.CallOption) (*HealthStatusResponse, error) {
	return invoke[HealthStatusResponse](ctx, c.cc, LocalNodeData_GetHealthStatus_FullMethodName, in, opts)
}
