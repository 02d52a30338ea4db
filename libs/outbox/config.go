package outbox

import (
	"github.com/md-rashed-zaman/groupchat/libs/config"
)

// PublisherConfigFromEnv reads OUTBOX_EXCHANGE, OUTBOX_POLL_INTERVAL,
// OUTBOX_BATCH_SIZE and OUTBOX_MAX_RETRY_COUNT.
func PublisherConfigFromEnv(defaultExchange string) (PublisherConfig, error) {
	pollEvery, err := config.Duration("OUTBOX_POLL_INTERVAL", DefaultPollEvery)
	if err != nil {
		return PublisherConfig{}, err
	}
	batchSize, err := config.Int("OUTBOX_BATCH_SIZE", DefaultBatchSize)
	if err != nil {
		return PublisherConfig{}, err
	}
	maxRetries, err := config.Int("OUTBOX_MAX_RETRY_COUNT", DefaultMaxRetryCount)
	if err != nil {
		return PublisherConfig{}, err
	}
	return PublisherConfig{
		Exchange:      config.String("OUTBOX_EXCHANGE", defaultExchange),
		PollEvery:     pollEvery,
		BatchSize:     batchSize,
		MaxRetryCount: maxRetries,
	}, nil
}
