package grpc_control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"vote-spin/src/analysis/core"
	"vote-spin/src/dispatch"
	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DeviceKeyMetadata carries the shared device key on control calls.
	DeviceKeyMetadata = "x-device-key"

	AuthorizationMetadata = "authorization"
)

// ControlService implements ControlServer on top of the dispatch service
type ControlService struct {
	Service *dispatch.Service
	Logger  *logger.Logger
}

// NewControlService creates a new instance of ControlService
func NewControlService(service *dispatch.Service, log *logger.Logger) *ControlService {
	return &ControlService{
		Service: service,
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// Next serves a poller in the mode of its queue. Request fields: queue, after, limit.
func (s *ControlService) Next(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	after, err := intField(req, "after")
	if err != nil {
		return nil, s.toStatus("Next", err)
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, s.toStatus("Next", err)
	}

	res, err := s.Service.Queue.Poll(ctx, stringField(req, "queue"), after, int(limit))
	if err != nil {
		return nil, s.toStatus("Next", err)
	}
	return s.reply("Next", res)
}

// -----------------------------------------------------------------------------

// Enqueue queues an action for a target. Request fields: target_id (or player),
// queue, action{type, light}.
func (s *ControlService) Enqueue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	action, err := actionField(req)
	if err != nil {
		return nil, s.toStatus("Enqueue", err)
	}

	target := stringField(req, "target_id")
	if target == "" {
		target = stringField(req, "player")
	}

	cmd, err := s.Service.Queue.Enqueue(ctx, stringField(req, "queue"), target, action)
	if err != nil {
		return nil, s.toStatus("Enqueue", err)
	}
	return s.reply("Enqueue", map[string]any{"ok": true, "command": cmd})
}

// -----------------------------------------------------------------------------

func (s *ControlService) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.Service.Snapshot(ctx)
	if err != nil {
		return nil, s.toStatus("Snapshot", err)
	}

	var current any
	if leader, ok := core.Leader(snap); ok {
		current = leader
	}
	return s.reply("Snapshot", map[string]any{
		"rows":    snap.Entries,
		"current": current,
		"version": snap.Version,
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) Reset(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	at, err := s.Service.ResetAll(ctx)
	if err != nil {
		return nil, s.toStatus("Reset", err)
	}
	return s.reply("Reset", map[string]any{"ok": true, "reset_at": at.Unix()})
}

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

func (s *ControlService) toStatus(method string, err error) error {
	switch {
	case helpers.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case helpers.IsTransient(err):
		s.Logger.Warning("gRPC %s: %v", method, err)
		return status.Error(codes.Unavailable, "temporarily unavailable")
	case helpers.IsConsistencyViolation(err):
		s.Logger.Error("gRPC %s: %v", method, err)
		return status.Error(codes.Internal, "internal error")
	default:
		s.Logger.Error("gRPC %s: %v", method, err)
		return status.Error(codes.Internal, "internal error")
	}
}

// reply goes through JSON so responses match the HTTP bodies field for field.
func (s *ControlService) reply(method string, v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, s.toStatus(method, fmt.Errorf("encode response: %w", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, s.toStatus(method, fmt.Errorf("decode response: %w", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, s.toStatus(method, fmt.Errorf("build response: %w", err))
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func stringField(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

// intField reads an optional whole number; a missing or null field is 0.
func intField(req *structpb.Struct, key string) (int64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, helpers.NewValidationError("%s must be a whole number", key)
		}
		return int64(f), nil
	default:
		return 0, helpers.NewValidationError("%s must be a number", key)
	}
}

func actionField(req *structpb.Struct) (models.MAction, error) {
	v, ok := req.GetFields()["action"]
	if !ok || v.GetStructValue() == nil {
		return models.MAction{}, helpers.NewValidationError("action is required")
	}
	fields := v.GetStructValue().GetFields()

	action := models.MAction{Type: strings.TrimSpace(fields["type"].GetStringValue())}
	if light, ok := fields["light"]; ok {
		b, isBool := light.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return models.MAction{}, helpers.NewValidationError("action.light must be a boolean")
		}
		lit := b.BoolValue
		action.Light = &lit
	}
	return action, nil
}

// -----------------------------------------------------------------------------
// Interceptor
// -----------------------------------------------------------------------------

// AuthInterceptor guards votespin.Control the way the HTTP routes are guarded.
// An optional bearer token in "authorization" metadata resolves to a principal;
// Reset requires the admin role; the other methods take the shared device key
// or a device/admin principal, and are open when no key is configured. Other
// services (health) are not checked.
func AuthInterceptor(deviceKey string, resolver interfaces.IPrincipalResolver) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)

		principal, err := principalFrom(md, resolver)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		if info.FullMethod == fullMethod("Reset") {
			switch {
			case principal == nil:
				return nil, status.Error(codes.Unauthenticated, "admin token required")
			case principal.Role != models.RoleAdmin:
				return nil, status.Errorf(codes.PermissionDenied, "role %q may not reset", principal.Role)
			}
			return handler(ctx, req)
		}

		if deviceKey == "" {
			return handler(ctx, req)
		}
		if principal != nil && (principal.Role == models.RoleDevice || principal.Role == models.RoleAdmin) {
			return handler(ctx, req)
		}
		for _, got := range md.Get(DeviceKeyMetadata) {
			if subtle.ConstantTimeCompare([]byte(got), []byte(deviceKey)) == 1 {
				return handler(ctx, req)
			}
		}
		return nil, status.Error(codes.Unauthenticated, "device key required")
	}
}

// principalFrom returns nil when no authorization metadata was sent.
func principalFrom(md metadata.MD, resolver interfaces.IPrincipalResolver) (*models.MPrincipal, error) {
	values := md.Get(AuthorizationMetadata)
	if len(values) == 0 {
		return nil, nil
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return nil, helpers.NewUnauthorizedError("authorization must use the Bearer scheme")
	}
	if resolver == nil {
		return nil, helpers.NewUnauthorizedError("no tokens configured")
	}
	return resolver.Resolve(strings.TrimSpace(token))
}
