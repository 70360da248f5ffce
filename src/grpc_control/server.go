package grpc_control

import (
	"vote-spin/src/interfaces"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server carrying the control service and the
// standard health service. The health server is returned so shutdown can
// flip it to NOT_SERVING first.
func NewServer(control *ControlService, deviceKey string, resolver interfaces.IPrincipalResolver, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(AuthInterceptor(deviceKey, resolver)))
	srv := grpc.NewServer(opts...)

	RegisterControlServer(srv, control)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv, hs
}
