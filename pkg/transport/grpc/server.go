package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
	bind string
	lis  net.Listener
	srv  *grpc.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// internal request/response types used over the gRPC JSON codec
type empty struct{}
type statusBlob struct {
	Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
	GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
	GetLeaderState(ctx context.Context, in *transport.LeaderStateRequest) (*transport.LeaderStateResponse, error)
	GetLastOpId(ctx context.Context, in *transport.OpIdRequest) (*transport.OpIdResponse, error)
}

type mgmtImpl struct {
	status      transport.StatusFunc
	leaderState transport.LeaderStateFunc
	lastOpId    transport.OpIdFunc
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.status")
	defer end()
	b, err := m.status(ctx)
	if err != nil {
		return nil, err
	}
	return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) GetLeaderState(ctx context.Context, in *transport.LeaderStateRequest) (*transport.LeaderStateResponse, error) {
	if in == nil {
		in = &transport.LeaderStateRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.leader_state")
	defer end()
	out, err := m.leaderState(ctx, *in)
	if err != nil {
		return &transport.LeaderStateResponse{Error: err.Error()}, nil
	}
	return &out, nil
}

func (m *mgmtImpl) GetLastOpId(ctx context.Context, in *transport.OpIdRequest) (*transport.OpIdResponse, error) {
	if in == nil {
		in = &transport.OpIdRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.last_op_id")
	defer end()
	out, err := m.lastOpId(ctx, *in)
	if err != nil {
		return &transport.OpIdResponse{Error: err.Error()}, nil
	}
	return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
	ServiceName: "consensus.v1.Management",
	HandlerType: (*managementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
		{MethodName: "GetLeaderState", Handler: _Management_GetLeaderState_Handler},
		{MethodName: "GetLastOpId", Handler: _Management_GetLastOpId_Handler},
	},
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(managementServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Management/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(managementServer).GetStatus(ctx, req.(*empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Management_GetLeaderState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.LeaderStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(managementServer).GetLeaderState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Management/GetLeaderState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(managementServer).GetLeaderState(ctx, req.(*transport.LeaderStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Management_GetLastOpId_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.OpIdRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(managementServer).GetLastOpId(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Management/GetLastOpId"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(managementServer).GetLastOpId(ctx, req.(*transport.OpIdRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, status transport.StatusFunc, leaderState transport.LeaderStateFunc, lastOpId transport.OpIdFunc) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	// Health service (always serving for now)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{status: status, leaderState: leaderState, lastOpId: lastOpId})

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

func (s *Server) Addr() string {
	if s.lis == nil {
		return s.bind
	}
	return s.lis.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		s.srv.GracefulStop()
		s.srv = nil
	}
	return nil
}

var _ transport.RPCServer = (*Server)(nil)
