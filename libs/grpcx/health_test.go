package grpcx_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/groupchat/libs/grpcx"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

func TestHealthServerFollowsReadyChecks(t *testing.T) {
	var broken atomic.Bool
	check := runtime.ReadyCheck{Name: "db", Check: func(context.Context) error {
		if broken.Load() {
			return errors.New("down")
		}
		return nil
	}}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hs := grpcx.NewHealthServer("chat-service", runtime.NopLogger(), check)
	hs.Interval = 10 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- hs.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpcx.NewClient(lis.Addr().String(), grpcx.ClientOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	var header metadata.MD
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "chat-service"}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.NotEmpty(t, header.Get(grpcx.RequestIDMetadataKey))

	_, err = client.Check(grpcx.WithRequestID(context.Background(), "req-42"), &healthpb.HealthCheckRequest{}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42"}, header.Get(grpcx.RequestIDMetadataKey))

	require.NoError(t, grpcx.Probe(context.Background(), lis.Addr().String(), "chat-service"))

	broken.Store(true)
	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	err = grpcx.Probe(context.Background(), lis.Addr().String(), "chat-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")
}

func TestProbeUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, grpcx.Probe(ctx, addr, "chat-service"))
}

func TestRequestIDContext(t *testing.T) {
	ctx := grpcx.WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", grpcx.RequestIDFromContext(ctx))
	assert.Equal(t, ctx, grpcx.WithRequestID(ctx, ""))
	assert.NotEqual(t, grpcx.NewRequestID(), grpcx.NewRequestID())
}
