//go:build integration

package amqpx

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

func startRabbitMQ(t *testing.T) Config {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, termCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer termCancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	p, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	return Config{Host: host, Port: p, ReconnectDelay: time.Second, ConnectionName: "integration-test"}
}

func TestPublishAndConsume(t *testing.T) {
	cfg := startRabbitMQ(t)
	logger := runtime.NopLogger()
	m := NewManager(cfg, logger)
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub := NewSubscriber(m, SubscriberConfig{
		Queue:    "chat-service.groups-events",
		Bindings: []messaging.Binding{{Exchange: "groups-events", RoutingKeys: []string{"UserJoinedGroupEvent"}}},
	}, logger)
	t.Cleanup(func() { _ = sub.Close() })
	deliveries, err := sub.Subscribe(ctx)
	require.NoError(t, err)

	pub := NewPublisher(m, logger)
	t.Cleanup(func() { _ = pub.Close() })

	id := uuid.NewString()
	require.NoError(t, pub.Publish(ctx, messaging.Message{
		Exchange:   "groups-events",
		RoutingKey: "UserJoinedGroupEvent",
		MessageID:  id,
		Body:       []byte(`{"eventId":"` + id + `"}`),
		Headers:    map[string]string{"event_id": id},
		Timestamp:  time.Now(),
	}))
	// Unbound routing key is handed back by the broker and never reaches the queue.
	err = pub.Publish(ctx, messaging.Message{
		Exchange:   "groups-events",
		RoutingKey: "GroupCreatedEvent",
		MessageID:  uuid.NewString(),
		Body:       []byte(`{}`),
	})
	require.ErrorIs(t, err, ErrUnroutable)

	select {
	case d := <-deliveries:
		assert.Equal(t, id, d.MessageID)
		assert.Equal(t, "UserJoinedGroupEvent", d.RoutingKey)
		assert.Equal(t, id, d.Headers["event_id"])
		require.NoError(t, d.Nack(true))
	case <-ctx.Done():
		t.Fatal("no delivery")
	}

	select {
	case d := <-deliveries:
		assert.Equal(t, id, d.MessageID, "requeued message is redelivered")
		require.NoError(t, d.Ack())
	case <-ctx.Done():
		t.Fatal("no redelivery")
	}

	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery %s", d.RoutingKey)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPublishWithoutBoundQueueIsUnroutable(t *testing.T) {
	cfg := startRabbitMQ(t)
	logger := runtime.NopLogger()
	m := NewManager(cfg, logger)
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub := NewPublisher(m, logger)
	t.Cleanup(func() { _ = pub.Close() })

	msg := messaging.Message{
		Exchange:   "groups-events",
		RoutingKey: "GroupCreatedEvent",
		MessageID:  uuid.NewString(),
		Body:       []byte(`{}`),
	}
	require.ErrorIs(t, pub.Publish(ctx, msg), ErrUnroutable)

	sub := NewSubscriber(m, SubscriberConfig{
		Queue:    "audio-service.groups-events",
		Bindings: []messaging.Binding{{Exchange: "groups-events", RoutingKeys: []string{"GroupCreatedEvent"}}},
	}, logger)
	t.Cleanup(func() { _ = sub.Close() })
	deliveries, err := sub.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, msg), "retry succeeds once a queue is bound")
	select {
	case d := <-deliveries:
		assert.Equal(t, msg.MessageID, d.MessageID)
		require.NoError(t, d.Ack())
	case <-ctx.Done():
		t.Fatal("no delivery after retry")
	}
}
