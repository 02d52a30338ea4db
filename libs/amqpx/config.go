// Package amqpx is the RabbitMQ transport: one shared, self-healing
// connection per process, a confirming publisher and a manual-ack subscriber.
package amqpx

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultPort           = 5672
	DefaultReconnectDelay = 10 * time.Second
	DefaultHeartbeat      = 10 * time.Second
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
	// ConnectionName is shown in the RabbitMQ management UI.
	ConnectionName string
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = "guest"
	}
	if c.Password == "" {
		c.Password = "guest"
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	return c
}

// URL renders the AMQP URI with credentials and vhost escaped.
func (c Config) URL() string {
	c = c.withDefaults()
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    c.VHost,
	}.String()
}
