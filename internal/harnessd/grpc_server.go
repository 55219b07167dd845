package harnessd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

// HarnessServiceName is the full gRPC service name
const HarnessServiceName = "loopback.v1.HarnessService"

// HarnessServiceServer is the control API of the daemon. Requests and
// responses are JSON-shaped structs mirroring the HTTP bodies.
type HarnessServiceServer interface {
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateScenario(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(HarnessServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HarnessServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + HarnessServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(HarnessServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// HarnessServiceDesc describes HarnessServiceServer for grpc.Server.RegisterService
var HarnessServiceDesc = grpc.ServiceDesc{
	ServiceName: HarnessServiceName,
	HandlerType: (*HarnessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRun", Handler: unaryHandler("CreateRun", HarnessServiceServer.CreateRun)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", HarnessServiceServer.GetRun)},
		{MethodName: "StopRun", Handler: unaryHandler("StopRun", HarnessServiceServer.StopRun)},
		{MethodName: "ListRuns", Handler: unaryHandler("ListRuns", HarnessServiceServer.ListRuns)},
		{MethodName: "ValidateScenario", Handler: unaryHandler("ValidateScenario", HarnessServiceServer.ValidateScenario)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loopback/v1/harness.proto",
}

// RegisterHarnessServiceServer registers srv on s
func RegisterHarnessServiceServer(s grpc.ServiceRegistrar, srv HarnessServiceServer) {
	s.RegisterService(&HarnessServiceDesc, srv)
}

// HarnessGRPCServer implements HarnessServiceServer on a RunStore backend.
type HarnessGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

func NewHarnessGRPCServer(store *RunStore, executor *RunExecutor) *HarnessGRPCServer {
	return &HarnessGRPCServer{
		store:    store,
		Executor: executor,
	}
}

func (s *HarnessGRPCServer) CreateRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in CreateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.Executor.Submit(in)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run created (gRPC)", "run_id", rec.Run.ID, "mode", rec.Run.Mode, "forever", rec.Run.Forever)
	return toStruct(map[string]any{"run": rec.Run})
}

func (s *HarnessGRPCServer) GetRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := req.GetFields()["run_id"].GetStringValue()
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, ErrRunIDMissing.Error())
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	out := map[string]any{"run": rec.Run}
	if rec.Report != nil {
		out["report"] = rec.Report
	}
	return toStruct(out)
}

func (s *HarnessGRPCServer) StopRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := req.GetFields()["run_id"].GetStringValue()
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run cancelled (gRPC)", "run_id", runID)
	return toStruct(map[string]any{"run": updated.Run})
}

func (s *HarnessGRPCServer) ListRuns(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	limit := int(fields["limit"].GetNumberValue())
	offset := int(fields["offset"].GetNumberValue())
	if offset < 0 {
		offset = 0
	}
	filter := models.RunStatus(fields["status"].GetStringValue())

	recs := s.store.List(limit, offset, filter)
	runs := make([]Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return toStruct(map[string]any{"runs": runs})
}

func (s *HarnessGRPCServer) ValidateScenario(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in CreateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := validateScenario(in)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(result)
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, config.ErrInvalidScenario), errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidCallback):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrRunExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrRunTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrTooManyRuns):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts any JSON-encodable value into a Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	return out, nil
}

// fromStruct decodes a Struct into a JSON-tagged value
func fromStruct(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// HarnessClient calls HarnessService on a connection
type HarnessClient struct {
	cc grpc.ClientConnInterface
}

func NewHarnessClient(cc grpc.ClientConnInterface) *HarnessClient {
	return &HarnessClient{cc: cc}
}

func (c *HarnessClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+HarnessServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HarnessClient) CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateRun", in, opts...)
}

func (c *HarnessClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

func (c *HarnessClient) StopRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopRun", in, opts...)
}

func (c *HarnessClient) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", in, opts...)
}

func (c *HarnessClient) ValidateScenario(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ValidateScenario", in, opts...)
}
