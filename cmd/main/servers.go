package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"vote-spin/src/config"
	"vote-spin/src/dispatch"
	pb "vote-spin/src/grpc_control"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/server"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const shutdownTimeout = 10 * time.Second

type runningServers struct {
	http   *server.HTTPServer
	grpc   *grpc.Server
	health *health.Server
}

// -----------------------------------------------------------------------------

// startServers orchestrates the startup of all server components
func startServers(
	ctx context.Context,
	conf *config.Config,
	srv *server.HTTPServer,
	service *dispatch.Service,
	resolver interfaces.IPrincipalResolver,
	appLogger *logger.Logger,
) *runningServers {
	running := &runningServers{http: srv}

	// 1. HTTP / live streams
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	if conf.GrpcPort == 0 {
		appLogger.Info("gRPC control server disabled")
		return running
	}

	addr := fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		appLogger.Critical("failed to listen for gRPC: %v", err)
	}

	control := pb.NewControlService(service, appLogger.Named("ControlService"))
	running.grpc, running.health = pb.NewServer(control, conf.Auth.DeviceKey, resolver)

	go func() {
		appLogger.Info("Starting gRPC Control Server on %s", addr)
		if err := running.grpc.Serve(lis); err != nil {
			appLogger.Error("gRPC server stopped: %v", err)
		}
	}()
	return running
}

// -----------------------------------------------------------------------------

func (r *runningServers) shutdown(appLogger *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.health != nil {
		r.health.Shutdown()
	}
	if err := r.http.Stop(ctx); err != nil {
		appLogger.Warning("HTTP shutdown: %v", err)
	}
	if r.grpc == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		r.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.grpc.Stop()
	}
}
