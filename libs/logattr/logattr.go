// Package logattr holds the slog attributes shared by the event pipeline so
// that every log line about an event carries the same keys.
package logattr

import (
	"log/slog"

	"github.com/google/uuid"
)

func EventID(id uuid.UUID) slog.Attr {
	return slog.String("event_id", id.String())
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func RetryCount(n int) slog.Attr {
	return slog.Int("retry_count", n)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Exchange(name string) slog.Attr {
	return slog.String("exchange", name)
}

func RoutingKey(key string) slog.Attr {
	return slog.String("routing_key", key)
}

func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

func MessageID(id string) slog.Attr {
	return slog.String("message_id", id)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
