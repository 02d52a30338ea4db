package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/groupchat/libs/logattr"
)

const DefaultCacheTTL = 24 * time.Hour

// CachedLedger answers "already processed?" from Redis when it can and falls
// back to the durable ledger. Redis is never the source of truth: a cache
// miss or outage only costs a database round trip.
type CachedLedger struct {
	next   Ledger
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedLedger(next Ledger, rdb redis.Cmdable, consumer string, ttl time.Duration, logger *slog.Logger) *CachedLedger {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLedger{
		next:   next,
		rdb:    rdb,
		prefix: "processed:" + consumer + ":",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedLedger) key(eventID uuid.UUID) string {
	return c.prefix + eventID.String()
}

func (c *CachedLedger) Exists(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(eventID)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		c.logger.Debug("ledger cache lookup failed", logattr.EventID(eventID), "err", err)
	}

	seen, err := c.next.Exists(ctx, eventID)
	if err != nil {
		return false, err
	}
	if seen {
		c.Remember(ctx, eventID)
	}
	return seen, nil
}

func (c *CachedLedger) Record(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType string) (bool, error) {
	return c.next.Record(ctx, tx, eventID, eventType)
}

// Remember caches eventID as processed. Call only after the ledger row committed.
func (c *CachedLedger) Remember(ctx context.Context, eventID uuid.UUID) {
	if err := c.rdb.Set(ctx, c.key(eventID), "1", c.ttl).Err(); err != nil {
		c.logger.Debug("ledger cache write failed", logattr.EventID(eventID), "err", err)
	}
}

// RedisReadyCheck pings the cache for /readyz.
func RedisReadyCheck(rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
