// Package kafkax is the Kafka transport, selected with BROKER_KIND=kafka.
// Exchanges map to topics and the event type travels in the event_type header.
package kafkax

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/segmentio/kafka-go"

	otelx "github.com/md-rashed-zaman/groupchat/libs/otel"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventMeta is the canonical metadata carried on Kafka messages across services.
type EventMeta struct {
	EventID   string
	EventType string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	eventID := HeaderValue(msg.Headers, HeaderEventID)
	eventType := HeaderValue(msg.Headers, HeaderEventType)
	if eventID == "" {
		eventID = string(msg.Key)
	}
	if eventType == "" {
		eventType = msg.Topic
	}
	return EventMeta{EventID: eventID, EventType: eventType}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// encodeHeaders turns message headers into Kafka headers in key order, with
// the event identity last so it wins over a same-named custom header. The
// trace context of ctx is added unless the message already carries one.
func encodeHeaders(ctx context.Context, fields map[string]string, eventID, eventType string) []kafka.Header {
	out := make(map[string]string, len(fields)+4)
	maps.Copy(out, fields)
	if out["traceparent"] == "" {
		otelx.InjectHeaders(ctx, out)
	}
	out[HeaderEventID] = eventID
	out[HeaderEventType] = eventType

	headers := make([]kafka.Header, 0, len(out))
	for _, k := range slices.Sorted(maps.Keys(out)) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(out[k])})
	}
	return headers
}

func headerMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
