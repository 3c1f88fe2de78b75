//go:build integration

package alerts

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := NewRedisPublisher(client, "flow:test:"+t.Name())
	t.Cleanup(func() { client.Del(context.Background(), pub.latestKey()) })

	sub, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, testAlert))

	select {
	case a := <-sub:
		assert.Equal(t, testAlert, a)
	case <-ctx.Done():
		t.Fatal("no alert received")
	}

	latest, err := pub.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.Category]models.Alert{models.CategoryForeign: testAlert}, latest)
}
