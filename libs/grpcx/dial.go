package grpcx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const DefaultProbeTimeout = 3 * time.Second

type ClientOptions struct {
	// Nil means plaintext. Services only talk gRPC to their own health
	// endpoint or inside the cluster network.
	TransportCredentials grpc.DialOption
}

// NewClient returns a traced client connection that forwards request ids.
// The connection is lazy; the first RPC dials.
func NewClient(addr string, opts ClientOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
		creds,
	}, extra...)
	return grpc.NewClient(addr, dialOpts...)
}

// Probe asks the grpc.health.v1 endpoint at addr for the status of service
// and fails unless it is SERVING. It backs the "healthcheck" subcommand of
// every service binary.
func Probe(ctx context.Context, addr, service string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProbeTimeout)
		defer cancel()
	}
	conn, err := NewClient(addr, ClientOptions{})
	if err != nil {
		return fmt.Errorf("health client %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service},
		grpc.WaitForReady(true))
	if err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	if s := resp.GetStatus(); s != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", service, s)
	}
	return nil
}
