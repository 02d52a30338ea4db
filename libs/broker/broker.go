// Package broker selects the message transport from configuration and hands
// out publishers and subscribers that satisfy the messaging interfaces.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/groupchat/libs/amqpx"
	"github.com/md-rashed-zaman/groupchat/libs/config"
	"github.com/md-rashed-zaman/groupchat/libs/kafkax"
	"github.com/md-rashed-zaman/groupchat/libs/messaging"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

type Kind string

const (
	KindRabbitMQ Kind = "rabbitmq"
	KindKafka    Kind = "kafka"
)

type Config struct {
	Kind     Kind
	Service  string
	RabbitMQ amqpx.Config

	KafkaBrokers string
	// KafkaGroupID overrides the consumer group, which defaults to the queue name.
	KafkaGroupID string
}

func ConfigFromEnv(service string) (Config, error) {
	kind := Kind(strings.ToLower(config.String("BROKER_KIND", string(KindRabbitMQ))))
	if kind != KindRabbitMQ && kind != KindKafka {
		return Config{}, fmt.Errorf("BROKER_KIND must be %q or %q (got %q)", KindRabbitMQ, KindKafka, kind)
	}
	cfg := Config{
		Kind:         kind,
		Service:      service,
		KafkaBrokers: config.String("KAFKA_BROKERS", "localhost:9092"),
		KafkaGroupID: config.String("KAFKA_GROUP_ID", ""),
	}

	port, err := config.Port("RABBITMQ_PORT", strconv.Itoa(amqpx.DefaultPort))
	if err != nil {
		return Config{}, err
	}
	portNum, _ := strconv.Atoi(port)
	delay, err := config.Duration("RABBITMQ_RECONNECT_DELAY", amqpx.DefaultReconnectDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.RabbitMQ = amqpx.Config{
		Host:           config.String("RABBITMQ_HOST", "localhost"),
		Port:           portNum,
		User:           config.String("RABBITMQ_USER", "guest"),
		Password:       config.String("RABBITMQ_PASSWORD", "guest"),
		VHost:          config.String("RABBITMQ_VHOST", "/"),
		ReconnectDelay: delay,
		ConnectionName: service,
	}
	return cfg, nil
}

// Broker owns the transport resources of one process.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	manager   *amqpx.Manager
	amqpPub   *amqpx.Publisher
	kafkaPub  *kafkax.Publisher
	publisher messaging.Publisher
}

// Open prepares the transport. RabbitMQ connects lazily on first use; Kafka
// writers dial per request.
func Open(cfg Config, logger *slog.Logger) (*Broker, error) {
	b := &Broker{cfg: cfg, logger: logger}
	switch cfg.Kind {
	case KindRabbitMQ, "":
		b.cfg.Kind = KindRabbitMQ
		b.manager = amqpx.NewManager(cfg.RabbitMQ, logger)
		b.amqpPub = amqpx.NewPublisher(b.manager, logger)
		b.publisher = b.amqpPub
	case KindKafka:
		pub, err := kafkax.NewPublisher(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		b.kafkaPub = pub
		b.publisher = pub
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
	logger.Info("broker configured", "kind", string(b.cfg.Kind))
	return b, nil
}

func (b *Broker) Kind() Kind { return b.cfg.Kind }

func (b *Broker) Publisher() messaging.Publisher { return b.publisher }

// NewSubscriber returns a subscriber for queue. On Kafka the queue name is the
// consumer group unless KAFKA_GROUP_ID is set.
func (b *Broker) NewSubscriber(queue string, bindings ...messaging.Binding) messaging.Subscriber {
	if b.cfg.Kind == KindKafka {
		group := b.cfg.KafkaGroupID
		if group == "" {
			group = queue
		}
		return kafkax.NewSubscriber(kafkax.SubscriberConfig{
			Brokers:  b.cfg.KafkaBrokers,
			GroupID:  group,
			Bindings: bindings,
		}, b.logger)
	}
	return amqpx.NewSubscriber(b.manager, amqpx.SubscriberConfig{
		Queue:       queue,
		Bindings:    bindings,
		ConsumerTag: b.cfg.Service,
	}, b.logger)
}

func (b *Broker) ReadyCheck() runtime.ReadyCheck {
	if b.cfg.Kind == KindKafka {
		return runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(b.cfg.KafkaBrokers)}
	}
	return runtime.ReadyCheck{Name: "rabbitmq", Check: amqpx.ReadyCheck(b.manager)}
}

// Connect eagerly opens the RabbitMQ connection. It is a no-op on Kafka.
func (b *Broker) Connect(ctx context.Context) error {
	if b.manager == nil {
		return nil
	}
	return b.manager.Connect(ctx)
}

func (b *Broker) Close() error {
	var errs []error
	if b.amqpPub != nil {
		errs = append(errs, b.amqpPub.Close())
	}
	if b.manager != nil {
		errs = append(errs, b.manager.Close())
	}
	if b.kafkaPub != nil {
		errs = append(errs, b.kafkaPub.Close())
	}
	return errors.Join(errs...)
}

// QueueName is the "<service>.<exchange>" convention for per-source queues.
func QueueName(service, exchange string) string {
	return service + "." + exchange
}
