package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannel is the pub/sub channel alerts are published on.
	DefaultChannel = "flow:alerts"

	latestTTL = 48 * time.Hour
)

// RedisPublisher publishes alerts as JSON on a pub/sub channel and keeps the
// most recent alert per category in a hash (<channel>:latest).
type RedisPublisher struct {
	redis   *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher. An empty channel uses DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{redis: client, channel: channel}
}

func (p *RedisPublisher) latestKey() string {
	return p.channel + ":latest"
}

// Publish sends the alert and records it as the latest for its category.
func (p *RedisPublisher) Publish(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	_, err = p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.HSet(ctx, p.latestKey(), alert.Category.String(), payload)
		pipe.Expire(ctx, p.latestKey(), latestTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish alert to %s: %w", p.channel, err)
	}
	return nil
}

// Latest returns the most recent alert per category.
func (p *RedisPublisher) Latest(ctx context.Context) (map[models.Category]models.Alert, error) {
	raw, err := p.redis.HGetAll(ctx, p.latestKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.latestKey(), err)
	}
	return decodeLatest(raw)
}

// Subscribe returns a channel of alerts published on the channel until ctx
// is done. Undecodable messages are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan models.Alert, error) {
	sub := p.redis.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.channel, err)
	}

	out := make(chan models.Alert)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var a models.Alert
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Name returns "redis".
func (p *RedisPublisher) Name() string { return "redis" }

func decodeLatest(raw map[string]string) (map[models.Category]models.Alert, error) {
	out := make(map[models.Category]models.Alert, len(raw))
	for field, payload := range raw {
		c, err := models.ParseCategory(field)
		if err != nil {
			return nil, err
		}
		var a models.Alert
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode latest alert for %s: %w", field, err)
		}
		out[c] = a
	}
	return out, nil
}
