package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherConfigFromEnv(t *testing.T) {
	t.Setenv("OUTBOX_EXCHANGE", "")
	t.Setenv("OUTBOX_POLL_INTERVAL", "")
	t.Setenv("OUTBOX_BATCH_SIZE", "")
	t.Setenv("OUTBOX_MAX_RETRY_COUNT", "")

	cfg, err := PublisherConfigFromEnv("groups-events")
	require.NoError(t, err)
	assert.Equal(t, PublisherConfig{
		Exchange:      "groups-events",
		PollEvery:     2 * time.Second,
		BatchSize:     100,
		MaxRetryCount: 5,
	}, cfg)

	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("OUTBOX_MAX_RETRY_COUNT", "8")
	cfg, err = PublisherConfigFromEnv("groups-events")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.PollEvery)
	assert.Equal(t, 8, cfg.MaxRetryCount)

	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	_, err = PublisherConfigFromEnv("groups-events")
	assert.Error(t, err)
}
