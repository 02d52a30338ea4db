package inbox

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/groupchat/libs/config"
	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
)

// LedgerFromEnv returns the PostgreSQL ledger for consumer, fronted by a Redis
// cache when REDIS_ADDR is set. The returned func releases the Redis client.
func LedgerFromEnv(pool *db.Pool, consumer string, logger *slog.Logger) (Ledger, []runtime.ReadyCheck, func() error, error) {
	var ledger Ledger = NewRepository(pool)
	noop := func() error { return nil }

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return ledger, nil, noop, nil
	}
	ttl, err := config.Duration("PROCESSED_CACHE_TTL", DefaultCacheTTL)
	if err != nil {
		return nil, nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	logger.Info("processed-events cache enabled", "redis_addr", addr, "ttl", ttl.String())
	checks := []runtime.ReadyCheck{{Name: "redis", Check: RedisReadyCheck(rdb)}}
	return NewCachedLedger(ledger, rdb, consumer, ttl, logger), checks, rdb.Close, nil
}
