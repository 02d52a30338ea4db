package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/groupchat/libs/config"
	"github.com/md-rashed-zaman/groupchat/libs/logattr"
)

const (
	DefaultDispatchEvery = 5 * time.Second
	DefaultDispatchBatch = 50
	DefaultMaxAttempts   = 5
)

// BatchFunc receives locked pending notifications and returns those whose
// state changed.
type BatchFunc func(ctx context.Context, batch []Notification) []Notification

type PendingStore interface {
	ProcessPendingEmails(ctx context.Context, limit int, fn BatchFunc) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type DispatcherConfig struct {
	PollEvery   time.Duration
	BatchSize   int
	MaxAttempts int
}

// DispatcherConfigFromEnv reads EMAIL_DISPATCH_INTERVAL, EMAIL_DISPATCH_BATCH
// and EMAIL_MAX_ATTEMPTS.
func DispatcherConfigFromEnv() (DispatcherConfig, error) {
	every, err := config.Duration("EMAIL_DISPATCH_INTERVAL", DefaultDispatchEvery)
	if err != nil {
		return DispatcherConfig{}, err
	}
	batch, err := config.Int("EMAIL_DISPATCH_BATCH", DefaultDispatchBatch)
	if err != nil {
		return DispatcherConfig{}, err
	}
	attempts, err := config.Int("EMAIL_MAX_ATTEMPTS", DefaultMaxAttempts)
	if err != nil {
		return DispatcherConfig{}, err
	}
	return DispatcherConfig{PollEvery: every, BatchSize: batch, MaxAttempts: attempts}, nil
}

type DispatchResult struct {
	Fetched int
	Sent    int
	Failed  int
}

// Dispatcher sends pending email notifications. Each notification is retried
// on later polls until it is sent or reaches MaxAttempts.
type Dispatcher struct {
	store  PendingStore
	mailer Mailer
	logger *slog.Logger
	cfg    DispatcherConfig
	now    func() time.Time
}

func NewDispatcher(store PendingStore, mailer Mailer, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultDispatchEvery
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDispatchBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		store:  store,
		mailer: mailer,
		logger: logger.With(logattr.Component("email-dispatcher")),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run dispatches once at startup and then on every PollEvery tick. Only a
// batch that was sent in full is followed by another poll within the same
// tick, so failed sends are retried at most once per PollEvery.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("email dispatcher started", "poll_every", d.cfg.PollEvery.String(), "batch_size", d.cfg.BatchSize)
	ticker := time.NewTicker(d.cfg.PollEvery)
	defer ticker.Stop()

	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("email dispatcher stopped")
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := d.DispatchOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("email dispatch failed", "err", err)
			}
			return
		}
		if res.Sent < d.cfg.BatchSize {
			return
		}
	}
}

// DispatchOnce sends one batch. A send cut short by ctx cancellation leaves the
// notification untouched.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	err := d.store.ProcessPendingEmails(ctx, d.cfg.BatchSize, func(ctx context.Context, batch []Notification) []Notification {
		res.Fetched = len(batch)
		changed := make([]Notification, 0, len(batch))
		for _, n := range batch {
			if ctx.Err() != nil {
				break
			}
			subject, body, err := render(n)
			if err != nil {
				n.RecordAttempt(d.now(), err, 0)
				res.Failed++
				d.logger.Error("email notification cannot be rendered", logattr.EventID(n.EventID), "type", n.Type, "err", err)
				changed = append(changed, n)
				continue
			}

			sendErr := d.mailer.Send(ctx, n.Recipient, subject, body)
			if sendErr != nil && ctx.Err() != nil {
				break
			}
			n.RecordAttempt(d.now(), sendErr, d.cfg.MaxAttempts)
			switch n.Status {
			case StatusSent:
				res.Sent++
				d.logger.Info("email sent", logattr.EventID(n.EventID), "type", n.Type)
			case StatusFailed:
				res.Failed++
				d.logger.Error("email notification failed after max attempts", logattr.EventID(n.EventID), "attempts", n.Attempts, "err", sendErr)
			default:
				d.logger.Warn("email send attempt failed", logattr.EventID(n.EventID), "attempts", n.Attempts, "err", sendErr)
			}
			changed = append(changed, n)
		}
		return changed
	})
	return res, err
}

func render(n Notification) (subject, body string, err error) {
	switch n.Type {
	case TypeWelcome:
		var p userRegistered
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return "", "", fmt.Errorf("decode %s payload: %w", n.Type, err)
		}
		return "Welcome to GroupChat",
			fmt.Sprintf("Hi %s,\n\nyour account %s is ready. Create a group or join one to start chatting.", p.NickName, p.Email),
			nil
	}
	return "", "", fmt.Errorf("no email template for %q", n.Type)
}
