package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"userhub.org/internal/obs"
)

const grpcHealthService = "userhub.v1.UserHub"

// GRPCHealth exposes the standard gRPC health protocol so orchestrators can
// probe the process without speaking HTTP. Status tracks the same readiness
// check as /readyz.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealth builds the health server; Serve starts it.
func NewGRPCHealth(probe ReadyProbe) *GRPCHealth {
	hs := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	return &GRPCHealth{server: srv, health: hs, probe: probe}
}

// Serve listens on addr and keeps the advertised status in sync with the
// readiness probe until the context is canceled.
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go g.watch(ctx)
	go func() {
		<-ctx.Done()
		g.server.GracefulStop()
	}()

	obs.LogEvent(map[string]any{"msg": "grpc health listening", "addr": addr})
	return g.server.Serve(lis)
}

func (g *GRPCHealth) watch(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	g.update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.update(ctx)
		}
	}
}

func (g *GRPCHealth) update(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := g.probe.Check(checkCtx); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(grpcHealthService, status)
	g.health.SetServingStatus("", status)
}
