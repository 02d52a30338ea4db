package amqpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/md-rashed-zaman/groupchat/libs/logattr"
)

var (
	ErrClosed  = errors.New("amqpx: connection manager closed")
	ErrConnect = errors.New("amqpx: broker unreachable")
)

// connection is the subset of *amqp.Connection the manager relies on.
type connection interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (connection, error)

func dialAMQP(url string, cfg amqp.Config) (connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Manager owns the process-wide broker connection. It is created lazily on
// first use, shared by all callers, and redialed at a fixed interval after an
// unexpected close. Each publisher and subscriber opens its own channel on it.
type Manager struct {
	cfg    Config
	url    string
	logger *slog.Logger
	dial   dialFunc
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        connection
	closed      bool
	lastFailure time.Time
	recovering  bool
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return newManager(cfg, logger, dialAMQP)
}

func newManager(cfg Config, logger *slog.Logger, dial dialFunc) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		url:    cfg.URL(),
		logger: logger.With(logattr.Component("amqp-connection")),
		dial:   dial,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect makes sure the shared connection is open, dialing if there is none.
// Within ReconnectDelay of a failed dial it fails fast instead of dialing again.
func (m *Manager) Connect(ctx context.Context) error {
	_, err := m.connect(ctx, false)
	return err
}

func (m *Manager) connect(ctx context.Context, force bool) (connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !force && !m.lastFailure.IsZero() && m.now().Sub(m.lastFailure) < m.cfg.ReconnectDelay {
		return nil, fmt.Errorf("%w: waiting %s before redialing", ErrConnect, m.cfg.ReconnectDelay)
	}

	props := amqp.NewConnectionProperties()
	if m.cfg.ConnectionName != "" {
		props.SetClientConnectionName(m.cfg.ConnectionName)
	}
	conn, err := m.dial(m.url, amqp.Config{
		Vhost:      m.cfg.VHost,
		Heartbeat:  m.cfg.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		m.lastFailure = m.now()
		m.logger.Warn("rabbitmq dial failed", "host", m.cfg.Host, "port", m.cfg.Port, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	m.conn = conn
	m.lastFailure = time.Time{}
	m.logger.Info("rabbitmq connected", "host", m.cfg.Host, "port", m.cfg.Port, "vhost", m.cfg.VHost)
	go m.watch(conn)
	return conn, nil
}

// watch clears conn when the broker closes it and starts recovery.
func (m *Manager) watch(conn connection) {
	closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	shutdown := m.closed
	m.mu.Unlock()

	if !ok || closeErr == nil || shutdown {
		return
	}
	m.logger.Warn("rabbitmq connection lost", "code", closeErr.Code, "reason", closeErr.Reason)
	m.recover()
}

func (m *Manager) recover() {
	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		return
	}
	m.recovering = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	_, err := backoff.Retry(m.ctx, func() (connection, error) {
		conn, err := m.connect(m.ctx, true)
		if errors.Is(err, ErrClosed) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("rabbitmq reconnect failed", "err", err, "retry_in", next.String())
		}),
	)
	if err != nil {
		return
	}
	m.logger.Info("rabbitmq connection recovered")
}

// Channel opens a new channel on the shared connection.
func (m *Manager) Channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := m.connect(ctx, false)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Close stops recovery and closes the connection. Further use returns ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()
	if m.conn != nil && !m.conn.IsClosed() {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

// ReadyCheck reports whether a connection is open or can be opened.
func ReadyCheck(m *Manager) func(context.Context) error {
	return func(ctx context.Context) error {
		return m.Connect(ctx)
	}
}
