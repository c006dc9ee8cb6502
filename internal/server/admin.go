package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/lsmtree/pkg/lsmdb"
)

// AdminServer is a small gRPC control-plane service exposing
// Health/Stats/Work over the engine: observability and on-demand
// background work, never key/value bytes, so the data path stays
// off the network.
type AdminServer struct {
	db        *lsmdb.DB
	startTime time.Time
}

// NewAdminServer wraps db for administrative gRPC access.
func NewAdminServer(db *lsmdb.DB) *AdminServer {
	return &AdminServer{db: db, startTime: time.Now()}
}

// Health reports whether the engine is serving.
func (s *AdminServer) Health(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(true), nil
}

// Stats returns the current engine counters as a structpb.Struct.
func (s *AdminServer) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.db.Stats()
	stats["uptime_seconds"] = int64(time.Since(s.startTime).Seconds())
	out, err := structpb.NewStruct(stats)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	return out, nil
}

// Work decodes {"flags": int, "n_page": int} from req and runs
// db.Work, returning {"n_written": int}.
func (s *AdminServer) Work(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	flagsVal, ok := fields["flags"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "flags is required")
	}
	nPage := 0
	if v, ok := fields["n_page"]; ok {
		nPage = int(v.GetNumberValue())
	}

	n, err := s.db.Work(lsmdb.Flag(flagsVal.GetNumberValue()), nPage)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "work failed: %v", err)
	}

	out, err := structpb.NewStruct(map[string]any{"n_written": int64(n)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func _Admin_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*AdminServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lsmtree.Admin/Health"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*AdminServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Stats_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*AdminServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lsmtree.Admin/Stats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*AdminServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Work_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*AdminServer).Work(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lsmtree.Admin/Work"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*AdminServer).Work(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AdminServiceDesc is the hand-written grpc.ServiceDesc registering
// AdminServer without a protoc-generated stub: every method exchanges
// pre-generated well-known message types only.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: "lsmtree.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: _Admin_Health_Handler},
		{MethodName: "Stats", Handler: _Admin_Stats_Handler},
		{MethodName: "Work", Handler: _Admin_Work_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/server/admin.go",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s *grpc.Server, srv *AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}
