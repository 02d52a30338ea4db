package grpcx

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

// HealthServer exposes grpc.health.v1 for orchestrators that probe over gRPC.
// Its status follows the same dependency checks as /readyz, re-evaluated
// every Interval, for both the empty service name and the service's own name.
type HealthServer struct {
	Interval time.Duration

	service string
	checks  []runtime.ReadyCheck
	logger  *slog.Logger
	health  *health.Server
	srv     *grpc.Server
}

func NewHealthServer(service string, logger *slog.Logger, checks ...runtime.ReadyCheck) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{
		Interval: 5 * time.Second,
		service:  service,
		checks:   checks,
		logger:   logger,
		health:   hs,
		srv:      srv,
	}
}

func (h *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := runtime.RunChecks(ctx, h.checks...); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Debug("grpc health not serving", "failures", strings.Join(failures, "; "))
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(h.service, status)
}

// Serve blocks until ctx is cancelled, then stops the server gracefully.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.refresh(ctx)

	go func() {
		t := time.NewTicker(h.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				h.refresh(ctx)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("grpc health server starting", "addr", lis.Addr().String())
		errCh <- h.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	h.health.Shutdown()
	h.srv.GracefulStop()
	h.logger.Info("grpc health server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, lis)
}
