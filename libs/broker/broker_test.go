package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/amqpx"
	"github.com/md-rashed-zaman/groupchat/libs/kafkax"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("BROKER_KIND", "")
	t.Setenv("RABBITMQ_HOST", "")
	t.Setenv("RABBITMQ_PORT", "")
	t.Setenv("RABBITMQ_RECONNECT_DELAY", "")

	cfg, err := ConfigFromEnv("chat-service")
	require.NoError(t, err)
	assert.Equal(t, KindRabbitMQ, cfg.Kind)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, 10*time.Second, cfg.RabbitMQ.ReconnectDelay)
	assert.Equal(t, "chat-service", cfg.RabbitMQ.ConnectionName)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KIND", "Kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RABBITMQ_PORT", "5673")
	t.Setenv("RABBITMQ_RECONNECT_DELAY", "3")

	cfg, err := ConfigFromEnv("audio-service")
	require.NoError(t, err)
	assert.Equal(t, KindKafka, cfg.Kind)
	assert.Equal(t, "k1:9092,k2:9092", cfg.KafkaBrokers)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, 3*time.Second, cfg.RabbitMQ.ReconnectDelay)
}

func TestConfigFromEnvRejectsUnknownKind(t *testing.T) {
	t.Setenv("BROKER_KIND", "nats")
	_, err := ConfigFromEnv("chat-service")
	assert.Error(t, err)

	t.Setenv("BROKER_KIND", "rabbitmq")
	t.Setenv("RABBITMQ_PORT", "99999")
	_, err = ConfigFromEnv("chat-service")
	assert.Error(t, err)
}

func TestOpenRabbitMQIsLazy(t *testing.T) {
	b, err := Open(Config{Kind: KindRabbitMQ, Service: "chat-service"}, runtime.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.IsType(t, &amqpx.Publisher{}, b.Publisher())
	assert.Equal(t, "rabbitmq", b.ReadyCheck().Name)

	sub := b.NewSubscriber(QueueName("chat-service", "groups-events"), messaging.Binding{
		Exchange:    "groups-events",
		RoutingKeys: []string{"UserJoinedGroupEvent"},
	})
	assert.IsType(t, &amqpx.Subscriber{}, sub)
}

func TestOpenKafka(t *testing.T) {
	b, err := Open(Config{Kind: KindKafka, KafkaBrokers: "localhost:9092"}, runtime.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.IsType(t, &kafkax.Publisher{}, b.Publisher())
	assert.Equal(t, "kafka", b.ReadyCheck().Name)
	assert.IsType(t, &kafkax.Subscriber{}, b.NewSubscriber("notification-service.events"))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{Kind: KindKafka}, runtime.NopLogger())
	assert.Error(t, err)

	_, err = Open(Config{Kind: "nats"}, runtime.NopLogger())
	assert.Error(t, err)
}
