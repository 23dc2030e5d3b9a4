package valve_controller

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/adminrpc"
)

// Admin is what the admin surfaces (gRPC, HTTP, console) need from the engine.
type Admin interface {
	Snapshot() Snapshot
	SetClock(ctx context.Context, value string) (time.Time, error)
	SyncClock(ctx context.Context) (bool, error)
}

var _ Admin = (*Engine)(nil)

// GrpcHandler implementa adminrpc.AdminServer sopra l'engine.
type GrpcHandler struct {
	admin   Admin
	timeout time.Duration
}

var _ adminrpc.AdminServer = (*GrpcHandler)(nil)

func NewGrpcHandler(admin Admin) *GrpcHandler {
	return &GrpcHandler{admin: admin, timeout: 10 * time.Second}
}

// ============== RPC: GetStatus ==============

func (h *GrpcHandler) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.admin.Snapshot().Map())
}

// ============== RPC: SetClock ==============

func (h *GrpcHandler) SetClock(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	now, err := h.admin.SetClock(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"success": true,
		"clock":   now.Format(time.RFC3339),
	})
}

// ============== RPC: SyncClock ==============

func (h *GrpcHandler) SyncClock(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ok, err := h.admin.SyncClock(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	snap := h.admin.Snapshot()
	return toStruct(map[string]any{
		"success": ok,
		"clock":   snap.Clock.Format(time.RFC3339),
	})
}

// ============== Helpers ==============

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTime):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.Error(codes.Unavailable, "control loop busy")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
