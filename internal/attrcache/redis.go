package attrcache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// keyPrefix namespaces every scope hash in Redis.
const keyPrefix = "studio:suggestions:"

// Redis stores each scope as one hash: field = selection key, value = JSON
// encoded options. The hash expires TTL after its last write.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ Cache = (*Redis)(nil)

// NewRedis wraps an existing client. A zero ttl uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect parses a redis:// or rediss:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.TLSConfig != nil {
		opts.TLSConfig.MinVersion = tls.VersionTLS12
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis suggestion cache")
	return client, nil
}

// scopeKey returns the Redis hash key for a scope.
func scopeKey(scope string) string {
	return keyPrefix + scope
}

func (r *Redis) Get(ctx context.Context, scope, key string) ([]garment.ModificationOption, bool, error) {
	raw, err := r.client.HGet(ctx, scopeKey(scope), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("HGET %s %s: %w", scopeKey(scope), key, err)
	}

	var opts []garment.ModificationOption
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, false, fmt.Errorf("decode cached suggestions %s: %w", key, err)
	}
	return opts, true, nil
}

func (r *Redis) Put(ctx context.Context, scope, key string, options []garment.ModificationOption) error {
	payload, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	hk := scopeKey(scope)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, hk, key, payload)
	pipe.Expire(ctx, hk, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("HSET %s %s: %w", hk, key, err)
	}

	log.Debug().
		Str("scope", scope).
		Str("selection_key", key).
		Int("options", len(options)).
		Msg("Suggestions cached in Redis")
	return nil
}

func (r *Redis) Clear(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, scopeKey(scope)).Err(); err != nil {
		return fmt.Errorf("DEL %s: %w", scopeKey(scope), err)
	}
	return nil
}

func (r *Redis) Len(ctx context.Context, scope string) (int, error) {
	n, err := r.client.HLen(ctx, scopeKey(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("HLEN %s: %w", scopeKey(scope), err)
	}
	return int(n), nil
}
