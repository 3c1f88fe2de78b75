package heuristics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "flow:heuristics"

// RedisStore keeps the registry in two Redis hashes, <prefix>:cex and
// <prefix>:bridge, each mapping label -> JSON array of addresses. Save also
// stamps <prefix>:saved_at, since Redis drops empty hashes.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a store on the given client.
func NewRedisStore(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "heuristics_redis")),
	}
}

func (s *RedisStore) key(role Role) string {
	return s.prefix + ":" + string(role)
}

func (s *RedisStore) savedAtKey() string {
	return s.prefix + ":saved_at"
}

// Load reads both hashes. It returns ErrNotFound when nothing was ever
// saved under the prefix. A label whose value is not a JSON string array
// makes the whole load fail with ErrMalformed.
func (s *RedisStore) Load(ctx context.Context) (*Registry, error) {
	n, err := s.redis.Exists(ctx, s.savedAtKey(), s.key(RoleCEX), s.key(RoleBridge)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis exists %s: %w", s.prefix, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no keys under %s", ErrNotFound, s.prefix)
	}

	cex, err := s.loadRole(ctx, RoleCEX)
	if err != nil {
		return nil, err
	}
	bridge, err := s.loadRole(ctx, RoleBridge)
	if err != nil {
		return nil, err
	}

	r := FromSnapshot(Snapshot{CEX: cex, Bridge: bridge})
	nCEX, nBridge := r.Count()
	s.logger.Info("loaded heuristics",
		slog.String("prefix", s.prefix),
		slog.Int("cex", nCEX),
		slog.Int("bridge", nBridge),
	)
	return r, nil
}

func (s *RedisStore) loadRole(ctx context.Context, role Role) (map[string][]string, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key(role), err)
	}

	out := make(map[string][]string, len(fields))
	for label, raw := range fields {
		var addrs []string
		if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
			return nil, fmt.Errorf("%w: %s label %q: %v", ErrMalformed, role, label, err)
		}
		out[label] = addrs
	}
	return out, nil
}

// Save atomically replaces both hashes with the registry contents.
func (s *RedisStore) Save(ctx context.Context, r *Registry) error {
	snap := r.Snapshot()

	cex, err := encodeRole(snap.CEX)
	if err != nil {
		return err
	}
	bridge, err := encodeRole(snap.Bridge)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(RoleCEX), s.key(RoleBridge))
		if len(cex) > 0 {
			pipe.HSet(ctx, s.key(RoleCEX), cex)
		}
		if len(bridge) > 0 {
			pipe.HSet(ctx, s.key(RoleBridge), bridge)
		}
		pipe.Set(ctx, s.savedAtKey(), time.Now().UTC().Format(time.RFC3339), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save heuristics: %w", err)
	}
	return nil
}

func encodeRole(m map[string][]string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for label, addrs := range m {
		data, err := json.Marshal(addrs)
		if err != nil {
			return nil, fmt.Errorf("encode label %q: %w", label, err)
		}
		out[label] = string(data)
	}
	return out, nil
}
